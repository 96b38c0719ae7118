package godcp

import (
	"fmt"

	"github.com/couchbase/godcp/memdx"
)

// SnapshotMarker is the inclusive by-seqno window the server will emit
// mutations for next.
type SnapshotMarker struct {
	StartSeqNo uint64
	EndSeqNo   uint64
}

// StreamOffset is the resumable position of a partition stream.
type StreamOffset struct {
	VbUuid   uint64
	SeqNo    uint64
	Snapshot SnapshotMarker
}

func (o StreamOffset) String() string {
	return fmt.Sprintf("%x@%d[%d..%d]",
		o.VbUuid, o.SeqNo, o.Snapshot.StartSeqNo, o.Snapshot.EndSeqNo)
}

// FailoverLogEntry is one branch of a partition's history; entry 0 of a
// log is the most recent branch.
type FailoverLogEntry struct {
	VbUuid uint64
	SeqNo  uint64
}

type Mutation struct {
	VbucketID uint16
	Offset    StreamOffset
	Key       []byte
	Value     []byte
	Cas       uint64
	RevNo     uint64
	Flags     uint32
	Expiry    uint32
	Datatype  uint8

	receipt *FlowControlReceipt
}

// FlowControlAck removes the backpressure generated by this event,
// allowing the server to send more data.  It is idempotent; calls after
// the first are ignored.
func (m *Mutation) FlowControlAck() {
	m.receipt.Ack()
}

type Deletion struct {
	VbucketID    uint16
	Offset       StreamOffset
	Key          []byte
	Cas          uint64
	RevNo        uint64
	DeleteTime   uint32
	IsExpiration bool

	receipt *FlowControlReceipt
}

func (d *Deletion) FlowControlAck() {
	d.receipt.Ack()
}

type SnapshotDetails struct {
	VbucketID uint16
	Flags     memdx.DcpSnapshotState
	Marker    SnapshotMarker
}

// Rollback indicates the server refused a stream open and requires the
// client to resume from an earlier seqno.  The listener decides the new
// offset; calling Fail reports the partition as failed.  Fail is never
// invoked on the listener's behalf: a handler that returns without acting
// leaves the partition idle and no StreamFailure is emitted.
type Rollback struct {
	VbucketID uint16
	SeqNo     uint64

	fail func(err error)
}

// Fail reports the rollback as unrecoverable, surfacing a StreamFailure
// for the partition.
func (r *Rollback) Fail(err error) {
	if r.fail != nil {
		r.fail(err)
	}
}

type FailoverLog struct {
	VbucketID uint16
	Entries   []FailoverLogEntry
}

type StreamEnd struct {
	VbucketID uint16
	Reason    memdx.DcpStreamEndReason
}

// StreamFailure reports a partition-scoped failure; VbucketID is -1 when
// the failing partition could not be identified.
type StreamFailure struct {
	VbucketID int
	Cause     error
}

// ChangeEventsHandlers receives the demultiplexed change events.  Nil
// members are skipped.  Handlers run on the dispatch goroutine of the
// connection that produced the frame; handlers that may block should
// offload to their own goroutine.
type ChangeEventsHandlers struct {
	Mutation        func(evt *Mutation)
	Deletion        func(evt *Deletion)
	SnapshotDetails func(evt *SnapshotDetails)
	Rollback        func(evt *Rollback)
	FailoverLog     func(evt *FailoverLog)
	StreamEnd       func(evt *StreamEnd)
	StreamFailure   func(evt *StreamFailure)
}

// FlowControlMode controls who acknowledges data events.
type FlowControlMode int

const (
	// FlowControlModeAutomatic acknowledges every data event as it is
	// dispatched.
	FlowControlModeAutomatic FlowControlMode = iota

	// FlowControlModeManual requires the listener to call FlowControlAck
	// on every data event exactly once.
	FlowControlModeManual
)
