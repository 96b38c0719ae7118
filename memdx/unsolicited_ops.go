package memdx

import (
	"encoding/binary"
	"fmt"
)

type UnsolicitedOpsHandlers struct {
	DcpSnapshotMarker func(evt *DcpSnapshotMarkerEvent) error
	DcpMutation       func(evt *DcpMutationEvent) error
	DcpDeletion       func(evt *DcpDeletionEvent) error
	DcpExpiration     func(evt *DcpExpirationEvent) error
	DcpStreamEnd      func(evt *DcpStreamEndEvent) error
	DcpSeqNoAdvanced  func(evt *DcpSeqNoAdvancedEvent) error
	DcpNoOp           func(evt *DcpNoOpEvent) error
}

// UnsolicitedOpsParser decodes server-initiated DCP packets into typed
// events and routes them to the registered handlers.
type UnsolicitedOpsParser struct {
}

func packetFrameLen(pak *Packet) uint32 {
	return uint32(24 + len(pak.Extras) + len(pak.Key) + len(pak.Value))
}

func (o UnsolicitedOpsParser) parseDcpSnapshotMarker(pak *Packet, handlers *UnsolicitedOpsHandlers) error {
	if handlers.DcpSnapshotMarker == nil {
		return protocolError{"unhandled DcpSnapshotMarker event"}
	}

	if len(pak.Extras) < 20 {
		return protocolError{"snapshot marker extras too short"}
	}

	return handlers.DcpSnapshotMarker(&DcpSnapshotMarkerEvent{
		StartSeqNo:   binary.BigEndian.Uint64(pak.Extras[0:]),
		EndSeqNo:     binary.BigEndian.Uint64(pak.Extras[8:]),
		VbucketId:    pak.VbucketID,
		SnapshotType: DcpSnapshotState(binary.BigEndian.Uint32(pak.Extras[16:])),
		FrameLen:     packetFrameLen(pak),
	})
}

func (o UnsolicitedOpsParser) parseDcpMutation(pak *Packet, handlers *UnsolicitedOpsHandlers) error {
	if handlers.DcpMutation == nil {
		return protocolError{"unhandled DcpMutation event"}
	}

	if len(pak.Extras) < 28 {
		return protocolError{"mutation extras too short"}
	}

	return handlers.DcpMutation(&DcpMutationEvent{
		SeqNo:     binary.BigEndian.Uint64(pak.Extras[0:]),
		RevNo:     binary.BigEndian.Uint64(pak.Extras[8:]),
		Flags:     binary.BigEndian.Uint32(pak.Extras[16:]),
		Expiry:    binary.BigEndian.Uint32(pak.Extras[20:]),
		LockTime:  binary.BigEndian.Uint32(pak.Extras[24:]),
		Cas:       pak.Cas,
		VbucketId: pak.VbucketID,
		Datatype:  pak.Datatype,
		Key:       pak.Key,
		Value:     pak.Value,
		FrameLen:  packetFrameLen(pak),
	})
}

func (o UnsolicitedOpsParser) parseDcpDeletion(pak *Packet, handlers *UnsolicitedOpsHandlers) error {
	if handlers.DcpDeletion == nil {
		return protocolError{"unhandled DcpDeletion event"}
	}

	if len(pak.Extras) < 16 {
		return protocolError{"deletion extras too short"}
	}

	evt := &DcpDeletionEvent{
		SeqNo:     binary.BigEndian.Uint64(pak.Extras[0:]),
		RevNo:     binary.BigEndian.Uint64(pak.Extras[8:]),
		Cas:       pak.Cas,
		VbucketId: pak.VbucketID,
		Datatype:  pak.Datatype,
		Key:       pak.Key,
		FrameLen:  packetFrameLen(pak),
	}

	// v2 deletions carry a delete time after the seqno pair.
	if len(pak.Extras) >= 20 {
		evt.DeleteTime = binary.BigEndian.Uint32(pak.Extras[16:])
	}

	return handlers.DcpDeletion(evt)
}

func (o UnsolicitedOpsParser) parseDcpExpiration(pak *Packet, handlers *UnsolicitedOpsHandlers) error {
	if handlers.DcpExpiration == nil {
		return protocolError{"unhandled DcpExpiration event"}
	}

	if len(pak.Extras) < 16 {
		return protocolError{"expiration extras too short"}
	}

	evt := &DcpExpirationEvent{
		SeqNo:     binary.BigEndian.Uint64(pak.Extras[0:]),
		RevNo:     binary.BigEndian.Uint64(pak.Extras[8:]),
		Cas:       pak.Cas,
		VbucketId: pak.VbucketID,
		Key:       pak.Key,
		FrameLen:  packetFrameLen(pak),
	}

	if len(pak.Extras) >= 20 {
		evt.DeleteTime = binary.BigEndian.Uint32(pak.Extras[16:])
	}

	return handlers.DcpExpiration(evt)
}

func (o UnsolicitedOpsParser) parseDcpStreamEnd(pak *Packet, handlers *UnsolicitedOpsHandlers) error {
	if handlers.DcpStreamEnd == nil {
		return protocolError{"unhandled DcpStreamEnd event"}
	}

	if len(pak.Extras) < 4 {
		return protocolError{"stream end extras too short"}
	}

	return handlers.DcpStreamEnd(&DcpStreamEndEvent{
		VbucketId: pak.VbucketID,
		Reason:    DcpStreamEndReason(binary.BigEndian.Uint32(pak.Extras[0:])),
	})
}

func (o UnsolicitedOpsParser) parseDcpSeqNoAdvanced(pak *Packet, handlers *UnsolicitedOpsHandlers) error {
	if handlers.DcpSeqNoAdvanced == nil {
		return protocolError{"unhandled DcpSeqNoAdvanced event"}
	}

	if len(pak.Extras) < 8 {
		return protocolError{"seqno advanced extras too short"}
	}

	return handlers.DcpSeqNoAdvanced(&DcpSeqNoAdvancedEvent{
		SeqNo:     binary.BigEndian.Uint64(pak.Extras[0:]),
		VbucketId: pak.VbucketID,
	})
}

func (o UnsolicitedOpsParser) parseDcpNoOp(pak *Packet, handlers *UnsolicitedOpsHandlers) error {
	if handlers.DcpNoOp == nil {
		return protocolError{"unhandled DcpNoOp event"}
	}

	return handlers.DcpNoOp(&DcpNoOpEvent{
		Opaque: pak.Opaque,
	})
}

func (o UnsolicitedOpsParser) Handle(pak *Packet, handlers *UnsolicitedOpsHandlers) error {
	if !pak.Magic.IsRequest() {
		return protocolError{"unsolicited packet was not a request"}
	}

	switch pak.OpCode {
	case OpCodeDcpSnapshotMarker:
		return o.parseDcpSnapshotMarker(pak, handlers)
	case OpCodeDcpMutation:
		return o.parseDcpMutation(pak, handlers)
	case OpCodeDcpDeletion:
		return o.parseDcpDeletion(pak, handlers)
	case OpCodeDcpExpiration:
		return o.parseDcpExpiration(pak, handlers)
	case OpCodeDcpStreamEnd:
		return o.parseDcpStreamEnd(pak, handlers)
	case OpCodeDcpSeqNoAdvanced:
		return o.parseDcpSeqNoAdvanced(pak, handlers)
	case OpCodeDcpNoop:
		return o.parseDcpNoOp(pak, handlers)
	}

	return &protocolError{
		fmt.Sprintf("unknown unsolicited event (opcode: %s)", pak.OpCode.String())}
}
