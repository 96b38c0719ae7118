package memdx

import (
	"encoding/binary"
)

type OpsDcp struct {
}

type DcpFailoverEntry struct {
	VbUuid uint64
	SeqNo  uint64
}

func parseFailoverLog(value []byte) ([]DcpFailoverEntry, error) {
	if len(value)%16 != 0 {
		return nil, protocolError{"failover log length was not a multiple of 16"}
	}

	numEntries := len(value) / 16
	entries := make([]DcpFailoverEntry, numEntries)
	for i := 0; i < numEntries; i++ {
		entries[i] = DcpFailoverEntry{
			VbUuid: binary.BigEndian.Uint64(value[i*16+0:]),
			SeqNo:  binary.BigEndian.Uint64(value[i*16+8:]),
		}
	}

	return entries, nil
}

type DcpOpenConnectionRequest struct {
	ConnectionName string
	Flags          DcpConnectionFlags
}

func (r DcpOpenConnectionRequest) OpName() string { return OpCodeDcpOpenConnection.String() }

type DcpOpenConnectionResponse struct {
}

func (o OpsDcp) DcpOpenConnection(
	d Dispatcher,
	req *DcpOpenConnectionRequest,
	cb func(*DcpOpenConnectionResponse, error),
) (PendingOp, error) {
	extraBuf := make([]byte, 8)
	binary.BigEndian.PutUint32(extraBuf[0:], 0)
	binary.BigEndian.PutUint32(extraBuf[4:], uint32(req.Flags))

	return d.Dispatch(&Packet{
		Magic:  MagicReq,
		OpCode: OpCodeDcpOpenConnection,
		Key:    []byte(req.ConnectionName),
		Extras: extraBuf,
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		cb(&DcpOpenConnectionResponse{}, nil)
		return false
	})
}

type DcpControlRequest struct {
	Key   string
	Value string
}

func (r DcpControlRequest) OpName() string { return OpCodeDcpControl.String() }

type DcpControlResponse struct {
}

func (o OpsDcp) DcpControl(d Dispatcher, req *DcpControlRequest, cb func(*DcpControlResponse, error)) (PendingOp, error) {
	return d.Dispatch(&Packet{
		Magic:  MagicReq,
		OpCode: OpCodeDcpControl,
		Key:    []byte(req.Key),
		Value:  []byte(req.Value),
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		cb(&DcpControlResponse{}, nil)
		return false
	})
}

type DcpStreamReqRequest struct {
	VbucketID      uint16
	Flags          uint32
	StartSeqNo     uint64
	EndSeqNo       uint64
	VbUuid         uint64
	SnapStartSeqNo uint64
	SnapEndSeqNo   uint64
}

func (r DcpStreamReqRequest) OpName() string { return OpCodeDcpStreamReq.String() }

type DcpStreamReqResponse struct {
	FailoverLog []DcpFailoverEntry
}

func (o OpsDcp) encodeStreamReqExtras(req *DcpStreamReqRequest) []byte {
	extraBuf := make([]byte, 48)
	binary.BigEndian.PutUint32(extraBuf[0:], req.Flags)
	binary.BigEndian.PutUint32(extraBuf[4:], 0)
	binary.BigEndian.PutUint64(extraBuf[8:], req.StartSeqNo)
	binary.BigEndian.PutUint64(extraBuf[16:], req.EndSeqNo)
	binary.BigEndian.PutUint64(extraBuf[24:], req.VbUuid)
	binary.BigEndian.PutUint64(extraBuf[32:], req.SnapStartSeqNo)
	binary.BigEndian.PutUint64(extraBuf[40:], req.SnapEndSeqNo)
	return extraBuf
}

// DecodeStreamReqExtras parses a stream request extras buffer back into the
// request fields.  The reverse of encoding, used when inspecting outbound
// frames.
func (o OpsDcp) DecodeStreamReqExtras(extras []byte) (*DcpStreamReqRequest, error) {
	if len(extras) != 48 {
		return nil, protocolError{"invalid stream request extras length"}
	}

	return &DcpStreamReqRequest{
		Flags:          binary.BigEndian.Uint32(extras[0:]),
		StartSeqNo:     binary.BigEndian.Uint64(extras[8:]),
		EndSeqNo:       binary.BigEndian.Uint64(extras[16:]),
		VbUuid:         binary.BigEndian.Uint64(extras[24:]),
		SnapStartSeqNo: binary.BigEndian.Uint64(extras[32:]),
		SnapEndSeqNo:   binary.BigEndian.Uint64(extras[40:]),
	}, nil
}

func (o OpsDcp) DcpStreamReq(
	d Dispatcher, req *DcpStreamReqRequest,
	cb func(*DcpStreamReqResponse, error),
) (PendingOp, error) {
	return d.Dispatch(&Packet{
		Magic:     MagicReq,
		OpCode:    OpCodeDcpStreamReq,
		VbucketID: req.VbucketID,
		Extras:    o.encodeStreamReqExtras(req),
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		switch resp.Status {
		case StatusKeyExists:
			cb(nil, ErrDcpDuplicateStream)
			return false
		case StatusRollback:
			if len(resp.Value) != 8 {
				cb(nil, protocolError{"rollback error with bad value length"})
				return false
			}

			rollbackSeqNo := binary.BigEndian.Uint64(resp.Value[0:])

			cb(nil, &DcpRollbackError{
				RollbackSeqNo: rollbackSeqNo,
			})
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		entries, err := parseFailoverLog(resp.Value)
		if err != nil {
			cb(nil, err)
			return false
		}

		cb(&DcpStreamReqResponse{
			FailoverLog: entries,
		}, nil)
		return false
	})
}

type DcpCloseStreamRequest struct {
	VbucketID uint16
}

func (r DcpCloseStreamRequest) OpName() string { return OpCodeDcpCloseStream.String() }

type DcpCloseStreamResponse struct {
}

func (o OpsDcp) DcpCloseStream(
	d Dispatcher, req *DcpCloseStreamRequest,
	cb func(*DcpCloseStreamResponse, error),
) (PendingOp, error) {
	return d.Dispatch(&Packet{
		Magic:     MagicReq,
		OpCode:    OpCodeDcpCloseStream,
		VbucketID: req.VbucketID,
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		cb(&DcpCloseStreamResponse{}, nil)
		return false
	})
}

type DcpGetFailoverLogRequest struct {
	VbucketID uint16
}

func (r DcpGetFailoverLogRequest) OpName() string { return OpCodeDcpGetFailoverLog.String() }

type DcpGetFailoverLogResponse struct {
	FailoverLog []DcpFailoverEntry
}

func (o OpsDcp) DcpGetFailoverLog(
	d Dispatcher, req *DcpGetFailoverLogRequest,
	cb func(*DcpGetFailoverLogResponse, error),
) (PendingOp, error) {
	return d.Dispatch(&Packet{
		Magic:     MagicReq,
		OpCode:    OpCodeDcpGetFailoverLog,
		VbucketID: req.VbucketID,
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		entries, err := parseFailoverLog(resp.Value)
		if err != nil {
			cb(nil, err)
			return false
		}

		cb(&DcpGetFailoverLogResponse{
			FailoverLog: entries,
		}, nil)
		return false
	})
}

type DcpBufferAckRequest struct {
	AckBytes uint32
}

func (r DcpBufferAckRequest) OpName() string { return OpCodeDcpBufferAck.String() }

// EncodeDcpBufferAck builds a buffer acknowledgement packet.  Buffer
// acks are fire-and-forget: the server never responds to them, so they
// are written directly rather than dispatched.
func (o OpsDcp) EncodeDcpBufferAck(req *DcpBufferAckRequest) *Packet {
	extraBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(extraBuf, req.AckBytes)

	return &Packet{
		Magic:  MagicReq,
		OpCode: OpCodeDcpBufferAck,
		Extras: extraBuf,
	}
}

type ObserveSeqNoRequest struct {
	VbucketID uint16
	VbUuid    uint64
}

func (r ObserveSeqNoRequest) OpName() string { return OpCodeObserveSeqNo.String() }

type ObserveSeqNoResponse struct {
	DidFailover        bool
	VbucketID          uint16
	VbUuid             uint64
	LastPersistedSeqNo uint64
	CurrentSeqNo       uint64

	// Only present when DidFailover is set.
	OldVbUuid         uint64
	LastReceivedSeqNo uint64
}

func (o OpsDcp) ObserveSeqNo(
	d Dispatcher, req *ObserveSeqNoRequest,
	cb func(*ObserveSeqNoResponse, error),
) (PendingOp, error) {
	valueBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(valueBuf, req.VbUuid)

	return d.Dispatch(&Packet{
		Magic:     MagicReq,
		OpCode:    OpCodeObserveSeqNo,
		VbucketID: req.VbucketID,
		Value:     valueBuf,
	}, func(resp *Packet, err error) bool {
		if err != nil {
			cb(nil, err)
			return false
		}

		if resp.Status != StatusSuccess {
			cb(nil, decodeStatusError(resp))
			return false
		}

		if len(resp.Value) < 27 {
			cb(nil, protocolError{"observe seqno response too short"})
			return false
		}

		out := &ObserveSeqNoResponse{
			DidFailover:        resp.Value[0] != 0,
			VbucketID:          binary.BigEndian.Uint16(resp.Value[1:]),
			VbUuid:             binary.BigEndian.Uint64(resp.Value[3:]),
			LastPersistedSeqNo: binary.BigEndian.Uint64(resp.Value[11:]),
			CurrentSeqNo:       binary.BigEndian.Uint64(resp.Value[19:]),
		}

		if out.DidFailover {
			if len(resp.Value) < 43 {
				cb(nil, protocolError{"observe seqno failover response too short"})
				return false
			}
			out.OldVbUuid = binary.BigEndian.Uint64(resp.Value[27:])
			out.LastReceivedSeqNo = binary.BigEndian.Uint64(resp.Value[35:])
		}

		cb(out, nil)
		return false
	})
}
