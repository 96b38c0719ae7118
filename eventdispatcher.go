package godcp

import (
	"context"

	"github.com/couchbase/godcp/memdx"
	"github.com/golang/snappy"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// EventDispatcher bridges the gap between the low-level per-connection
// frame handlers and the typed change-event listener.  It duplicates a
// small amount of partition bookkeeping (current branch uuid, current
// snapshot) so every data event can carry a complete resumable offset.
type EventDispatcher struct {
	logger          *zap.Logger
	handlers        ChangeEventsHandlers
	flowControlMode FlowControlMode

	// offsetObserver, when set, is told about the offset carried by every
	// data event before it is dispatched.
	offsetObserver func(vbID uint16, offset StreamOffset)

	vbucketToUuid            [maxPartitions]atomic.Uint64
	vbucketToCurrentSnapshot [maxPartitions]atomic.Pointer[SnapshotMarker]
}

type EventDispatcherOptions struct {
	Logger          *zap.Logger
	Handlers        ChangeEventsHandlers
	FlowControlMode FlowControlMode
	OffsetObserver  func(vbID uint16, offset StreamOffset)
}

func NewEventDispatcher(opts *EventDispatcherOptions) *EventDispatcher {
	return &EventDispatcher{
		logger:          loggerOrNop(opts.Logger),
		handlers:        opts.Handlers,
		flowControlMode: opts.FlowControlMode,
		offsetObserver:  opts.OffsetObserver,
	}
}

// dispatchStreamFailure reports a failure to the listener, swallowing
// any panic from the handler itself since there is nowhere left to
// report it.
func (d *EventDispatcher) dispatchStreamFailure(vbID int, cause error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic during stream failure dispatch",
				zap.Any("panic", r))
		}
	}()

	if d.handlers.StreamFailure != nil {
		d.handlers.StreamFailure(&StreamFailure{
			VbucketID: vbID,
			Cause:     cause,
		})
	}
}

// guardDispatch recovers a panicking handler and folds it into a
// StreamFailure on the named partition.
func (d *EventDispatcher) guardDispatch(vbID int) {
	if r := recover(); r != nil {
		d.logger.Error("panic during event dispatch",
			zap.Int("vbucketID", vbID),
			zap.Any("panic", r))
		d.dispatchStreamFailure(vbID, errors.Errorf("handler panic: %v", r))
	}
}

func (d *EventDispatcher) offsetFor(vbID uint16, seqno uint64) StreamOffset {
	var snapshot SnapshotMarker
	if marker := d.vbucketToCurrentSnapshot[vbID].Load(); marker != nil {
		snapshot = *marker
	}

	return StreamOffset{
		VbUuid:   d.vbucketToUuid[vbID].Load(),
		SeqNo:    seqno,
		Snapshot: snapshot,
	}
}

// HandleSnapshotMarker records the marker for the partition and emits
// SnapshotDetails.  The frame is acknowledged immediately; snapshot
// markers are flow-controllable but never reach the listener's receipt
// path.
func (d *EventDispatcher) HandleSnapshotMarker(fc *FlowController, evt *memdx.DcpSnapshotMarkerEvent) error {
	defer d.guardDispatch(int(evt.VbucketId))

	fc.NewReceipt(evt.FrameLen).Ack()

	marker := SnapshotMarker{
		StartSeqNo: evt.StartSeqNo,
		EndSeqNo:   evt.EndSeqNo,
	}
	d.vbucketToCurrentSnapshot[evt.VbucketId].Store(&marker)

	if d.handlers.SnapshotDetails != nil {
		d.handlers.SnapshotDetails(&SnapshotDetails{
			VbucketID: evt.VbucketId,
			Flags:     evt.SnapshotType,
			Marker:    marker,
		})
	}
	return nil
}

func (d *EventDispatcher) decodeValue(datatype uint8, value []byte) ([]byte, error) {
	if datatype&memdx.DatatypeFlagSnappy == 0 {
		return value, nil
	}

	decoded, err := snappy.Decode(nil, value)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress value")
	}
	return decoded, nil
}

func (d *EventDispatcher) HandleMutation(fc *FlowController, evt *memdx.DcpMutationEvent) error {
	defer d.guardDispatch(int(evt.VbucketId))

	receipt := fc.NewReceipt(evt.FrameLen)
	if d.flowControlMode == FlowControlModeAutomatic {
		receipt.Ack()
	}

	value, err := d.decodeValue(evt.Datatype, evt.Value)
	if err != nil {
		receipt.Ack()
		d.dispatchStreamFailure(int(evt.VbucketId), err)
		return nil
	}

	offset := d.offsetFor(evt.VbucketId, evt.SeqNo)
	if d.offsetObserver != nil {
		d.offsetObserver(evt.VbucketId, offset)
	}

	dataEventsDispatched.Add(context.Background(), 1)
	if d.handlers.Mutation != nil {
		d.handlers.Mutation(&Mutation{
			VbucketID: evt.VbucketId,
			Offset:    offset,
			Key:       evt.Key,
			Value:     value,
			Cas:       evt.Cas,
			RevNo:     evt.RevNo,
			Flags:     evt.Flags,
			Expiry:    evt.Expiry,
			Datatype:  evt.Datatype,
			receipt:   receipt,
		})
	} else {
		receipt.Ack()
	}
	return nil
}

func (d *EventDispatcher) dispatchDeletion(
	fc *FlowController,
	vbID uint16,
	seqno, revNo, cas uint64,
	deleteTime uint32,
	key []byte,
	frameLen uint32,
	isExpiration bool,
) {
	receipt := fc.NewReceipt(frameLen)
	if d.flowControlMode == FlowControlModeAutomatic {
		receipt.Ack()
	}

	offset := d.offsetFor(vbID, seqno)
	if d.offsetObserver != nil {
		d.offsetObserver(vbID, offset)
	}

	dataEventsDispatched.Add(context.Background(), 1)
	if d.handlers.Deletion != nil {
		d.handlers.Deletion(&Deletion{
			VbucketID:    vbID,
			Offset:       offset,
			Key:          key,
			Cas:          cas,
			RevNo:        revNo,
			DeleteTime:   deleteTime,
			IsExpiration: isExpiration,
			receipt:      receipt,
		})
	} else {
		receipt.Ack()
	}
}

func (d *EventDispatcher) HandleDeletion(fc *FlowController, evt *memdx.DcpDeletionEvent) error {
	defer d.guardDispatch(int(evt.VbucketId))

	d.dispatchDeletion(fc,
		evt.VbucketId, evt.SeqNo, evt.RevNo, evt.Cas,
		evt.DeleteTime, evt.Key, evt.FrameLen, false)
	return nil
}

func (d *EventDispatcher) HandleExpiration(fc *FlowController, evt *memdx.DcpExpirationEvent) error {
	defer d.guardDispatch(int(evt.VbucketId))

	d.dispatchDeletion(fc,
		evt.VbucketId, evt.SeqNo, evt.RevNo, evt.Cas,
		evt.DeleteTime, evt.Key, evt.FrameLen, true)
	return nil
}

// RecordFailoverLog updates the partition's branch uuid from entry 0 and
// emits the log to the listener.  Stream-open responses and explicit
// failover log requests both land here.
func (d *EventDispatcher) RecordFailoverLog(vbID uint16, entries []FailoverLogEntry) {
	defer d.guardDispatch(int(vbID))

	if len(entries) == 0 {
		return
	}

	d.vbucketToUuid[vbID].Store(entries[0].VbUuid)

	if d.handlers.FailoverLog != nil {
		d.handlers.FailoverLog(&FailoverLog{
			VbucketID: vbID,
			Entries:   entries,
		})
	}
}

// EmitRollback surfaces a rollback demand to the listener.  With no
// Rollback handler registered, a StreamFailure is emitted for the
// partition at once.  A registered handler owns the outcome: a
// StreamFailure follows only if it calls Rollback.Fail.
func (d *EventDispatcher) EmitRollback(vbID uint16, seqno uint64) {
	defer d.guardDispatch(int(vbID))

	if d.handlers.Rollback == nil {
		d.dispatchStreamFailure(int(vbID),
			errors.Errorf("unhandled rollback to seqno %d", seqno))
		return
	}

	d.handlers.Rollback(&Rollback{
		VbucketID: vbID,
		SeqNo:     seqno,
		fail: func(err error) {
			d.dispatchStreamFailure(int(vbID), err)
		},
	})
}

func (d *EventDispatcher) EmitStreamEnd(vbID uint16, reason memdx.DcpStreamEndReason) {
	defer d.guardDispatch(int(vbID))

	if d.handlers.StreamEnd != nil {
		d.handlers.StreamEnd(&StreamEnd{
			VbucketID: vbID,
			Reason:    reason,
		})
	}
}

func (d *EventDispatcher) EmitStreamFailure(vbID int, cause error) {
	d.dispatchStreamFailure(vbID, cause)
}
