package memdx

import (
	"encoding/binary"
	"io"
)

type PacketReader struct {
	// we use this heap-allocated read buffer since io.Read will cause
	// the buffer to escape.  the payload portion of the packet is
	// allocated on-demand since it will _always_ escape through references
	// that exist in the *Packet object.
	readHeaderBuf []byte
}

func (pr *PacketReader) ReadPacket(r io.Reader, pak *Packet) error {
	if len(pr.readHeaderBuf) != 24 {
		pr.readHeaderBuf = make([]byte, 24)
	}
	headerBuf := pr.readHeaderBuf

	_, err := io.ReadFull(r, headerBuf)
	if err != nil {
		return err
	}

	pak.Magic = Magic(headerBuf[0])
	pak.OpCode = OpCode(headerBuf[1])

	if pak.Magic != MagicReq && pak.Magic != MagicRes {
		return protocolError{"invalid magic"}
	}

	keyLen := int(binary.BigEndian.Uint16(headerBuf[2:]))
	extrasLen := int(headerBuf[4])

	pak.Datatype = headerBuf[5]

	if pak.Magic == MagicReq {
		pak.VbucketID = binary.BigEndian.Uint16(headerBuf[6:])
		pak.Status = 0
	} else {
		pak.VbucketID = 0
		pak.Status = Status(binary.BigEndian.Uint16(headerBuf[6:]))
	}

	payloadLen := int(binary.BigEndian.Uint32(headerBuf[8:]))
	if payloadLen < extrasLen+keyLen {
		return protocolError{"body length disagrees with extras and key lengths"}
	}

	pak.Opaque = binary.BigEndian.Uint32(headerBuf[12:])

	pak.Cas = binary.BigEndian.Uint64(headerBuf[16:])

	valueLen := payloadLen - extrasLen - keyLen

	// we intentionally put the payload in a newly allocated buffer because
	// it inevitably is going to escape to the heap through the Packet anyways.
	payloadBuf := make([]byte, payloadLen)
	_, err = io.ReadFull(r, payloadBuf)
	if err != nil {
		return err
	}

	payloadPos := 0

	pak.Extras = payloadBuf[payloadPos : payloadPos+extrasLen]
	payloadPos += extrasLen

	pak.Key = payloadBuf[payloadPos : payloadPos+keyLen]
	payloadPos += keyLen

	pak.Value = payloadBuf[payloadPos : payloadPos+valueLen]

	return nil
}
