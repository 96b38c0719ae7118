package godcp

import (
	"errors"
	"testing"

	"github.com/couchbase/godcp/memdx"
	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlowController(acks *[]uint32) *FlowController {
	return NewFlowController(1024, 0.5, func(ackBytes uint32) error {
		*acks = append(*acks, ackBytes)
		return nil
	}, nil)
}

func TestEventDispatcherSnapshotThenMutationOrdering(t *testing.T) {
	var events []interface{}

	d := NewEventDispatcher(&EventDispatcherOptions{
		Handlers: ChangeEventsHandlers{
			SnapshotDetails: func(evt *SnapshotDetails) {
				events = append(events, evt)
			},
			Mutation: func(evt *Mutation) {
				events = append(events, evt)
			},
		},
		FlowControlMode: FlowControlModeAutomatic,
	})

	var acks []uint32
	fc := newTestFlowController(&acks)

	// the branch uuid arrives with the failover log response first
	d.RecordFailoverLog(7, []FailoverLogEntry{
		{VbUuid: 0xfeed, SeqNo: 0},
	})

	err := d.HandleSnapshotMarker(fc, &memdx.DcpSnapshotMarkerEvent{
		VbucketId:  7,
		StartSeqNo: 100,
		EndSeqNo:   200,
		FrameLen:   44,
	})
	require.NoError(t, err)

	err = d.HandleMutation(fc, &memdx.DcpMutationEvent{
		VbucketId: 7,
		SeqNo:     150,
		Key:       []byte("a"),
		Value:     []byte("v"),
		Cas:       9,
		RevNo:     2,
		FrameLen:  60,
	})
	require.NoError(t, err)

	require.Len(t, events, 2)

	snapshot, ok := events[0].(*SnapshotDetails)
	require.True(t, ok)
	assert.Equal(t, uint16(7), snapshot.VbucketID)
	assert.Equal(t, SnapshotMarker{StartSeqNo: 100, EndSeqNo: 200}, snapshot.Marker)

	mutation, ok := events[1].(*Mutation)
	require.True(t, ok)
	assert.Equal(t, []byte("a"), mutation.Key)
	assert.Equal(t, StreamOffset{
		VbUuid:   0xfeed,
		SeqNo:    150,
		Snapshot: SnapshotMarker{StartSeqNo: 100, EndSeqNo: 200},
	}, mutation.Offset)
}

func TestEventDispatcherRollbackDefaultsToStreamFailure(t *testing.T) {
	var failures []*StreamFailure

	d := NewEventDispatcher(&EventDispatcherOptions{
		Handlers: ChangeEventsHandlers{
			StreamFailure: func(evt *StreamFailure) {
				failures = append(failures, evt)
			},
		},
	})

	d.EmitRollback(4, 400)

	require.Len(t, failures, 1)
	assert.Equal(t, 4, failures[0].VbucketID)
}

func TestEventDispatcherRollbackReachesListener(t *testing.T) {
	var rollbacks []*Rollback
	var failures []*StreamFailure

	d := NewEventDispatcher(&EventDispatcherOptions{
		Handlers: ChangeEventsHandlers{
			Rollback: func(evt *Rollback) {
				rollbacks = append(rollbacks, evt)
			},
			StreamFailure: func(evt *StreamFailure) {
				failures = append(failures, evt)
			},
		},
	})

	d.EmitRollback(4, 400)

	require.Len(t, rollbacks, 1)
	assert.Equal(t, uint16(4), rollbacks[0].VbucketID)
	assert.Equal(t, uint64(400), rollbacks[0].SeqNo)
	assert.Empty(t, failures)

	// the listener can still explicitly fail the partition
	rollbacks[0].Fail(errors.New("cannot recover"))
	require.Len(t, failures, 1)
	assert.Equal(t, 4, failures[0].VbucketID)
}

func TestEventDispatcherDeletionAndExpiration(t *testing.T) {
	var deletions []*Deletion

	d := NewEventDispatcher(&EventDispatcherOptions{
		Handlers: ChangeEventsHandlers{
			Deletion: func(evt *Deletion) {
				deletions = append(deletions, evt)
			},
		},
		FlowControlMode: FlowControlModeAutomatic,
	})

	var acks []uint32
	fc := newTestFlowController(&acks)

	err := d.HandleDeletion(fc, &memdx.DcpDeletionEvent{
		VbucketId: 2,
		SeqNo:     10,
		Key:       []byte("gone"),
	})
	require.NoError(t, err)

	err = d.HandleExpiration(fc, &memdx.DcpExpirationEvent{
		VbucketId: 2,
		SeqNo:     11,
		Key:       []byte("expired"),
	})
	require.NoError(t, err)

	require.Len(t, deletions, 2)
	assert.False(t, deletions[0].IsExpiration)
	assert.True(t, deletions[1].IsExpiration)
}

func TestEventDispatcherDecompressesSnappyValues(t *testing.T) {
	var mutations []*Mutation

	d := NewEventDispatcher(&EventDispatcherOptions{
		Handlers: ChangeEventsHandlers{
			Mutation: func(evt *Mutation) {
				mutations = append(mutations, evt)
			},
		},
		FlowControlMode: FlowControlModeAutomatic,
	})

	var acks []uint32
	fc := newTestFlowController(&acks)

	compressed := snappy.Encode(nil, []byte("the real value"))

	err := d.HandleMutation(fc, &memdx.DcpMutationEvent{
		VbucketId: 1,
		SeqNo:     5,
		Datatype:  memdx.DatatypeFlagSnappy,
		Key:       []byte("k"),
		Value:     compressed,
	})
	require.NoError(t, err)

	require.Len(t, mutations, 1)
	assert.Equal(t, []byte("the real value"), mutations[0].Value)
}

func TestEventDispatcherPanicsBecomeStreamFailures(t *testing.T) {
	var failures []*StreamFailure

	d := NewEventDispatcher(&EventDispatcherOptions{
		Handlers: ChangeEventsHandlers{
			Mutation: func(evt *Mutation) {
				panic("listener bug")
			},
			StreamFailure: func(evt *StreamFailure) {
				failures = append(failures, evt)
			},
		},
		FlowControlMode: FlowControlModeAutomatic,
	})

	var acks []uint32
	fc := newTestFlowController(&acks)

	err := d.HandleMutation(fc, &memdx.DcpMutationEvent{
		VbucketId: 3,
		SeqNo:     1,
	})
	require.NoError(t, err)

	require.Len(t, failures, 1)
	assert.Equal(t, 3, failures[0].VbucketID)
}

func TestEventDispatcherOffsetObserverSeesEveryDataEvent(t *testing.T) {
	var observed []StreamOffset

	d := NewEventDispatcher(&EventDispatcherOptions{
		Handlers:        ChangeEventsHandlers{},
		FlowControlMode: FlowControlModeAutomatic,
		OffsetObserver: func(vbID uint16, offset StreamOffset) {
			observed = append(observed, offset)
		},
	})

	var acks []uint32
	fc := newTestFlowController(&acks)

	require.NoError(t, d.HandleMutation(fc, &memdx.DcpMutationEvent{VbucketId: 1, SeqNo: 4}))
	require.NoError(t, d.HandleDeletion(fc, &memdx.DcpDeletionEvent{VbucketId: 1, SeqNo: 5}))

	require.Len(t, observed, 2)
	assert.Equal(t, uint64(4), observed[0].SeqNo)
	assert.Equal(t, uint64(5), observed[1].SeqNo)
}
