package memdx

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsolicitedOpsParserSnapshotMarker(t *testing.T) {
	extras := make([]byte, 20)
	binary.BigEndian.PutUint64(extras[0:], 100)
	binary.BigEndian.PutUint64(extras[8:], 200)
	binary.BigEndian.PutUint32(extras[16:], uint32(DcpSnapshotStateInMemory))

	var got *DcpSnapshotMarkerEvent
	err := UnsolicitedOpsParser{}.Handle(&Packet{
		Magic:     MagicReq,
		OpCode:    OpCodeDcpSnapshotMarker,
		VbucketID: 7,
		Extras:    extras,
	}, &UnsolicitedOpsHandlers{
		DcpSnapshotMarker: func(evt *DcpSnapshotMarkerEvent) error {
			got = evt
			return nil
		},
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, uint64(100), got.StartSeqNo)
	assert.Equal(t, uint64(200), got.EndSeqNo)
	assert.Equal(t, uint16(7), got.VbucketId)
	assert.Equal(t, DcpSnapshotStateInMemory, got.SnapshotType)
	assert.Equal(t, uint32(44), got.FrameLen)
}

func TestUnsolicitedOpsParserMutation(t *testing.T) {
	extras := make([]byte, 31)
	binary.BigEndian.PutUint64(extras[0:], 150)
	binary.BigEndian.PutUint64(extras[8:], 2)
	binary.BigEndian.PutUint32(extras[16:], 0)
	binary.BigEndian.PutUint32(extras[20:], 0)
	binary.BigEndian.PutUint32(extras[24:], 0)

	var got *DcpMutationEvent
	err := UnsolicitedOpsParser{}.Handle(&Packet{
		Magic:     MagicReq,
		OpCode:    OpCodeDcpMutation,
		VbucketID: 7,
		Cas:       123,
		Extras:    extras,
		Key:       []byte("a"),
		Value:     []byte("v"),
	}, &UnsolicitedOpsHandlers{
		DcpMutation: func(evt *DcpMutationEvent) error {
			got = evt
			return nil
		},
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, uint64(150), got.SeqNo)
	assert.Equal(t, uint64(2), got.RevNo)
	assert.Equal(t, uint64(123), got.Cas)
	assert.Equal(t, []byte("a"), got.Key)
	assert.Equal(t, []byte("v"), got.Value)
}

func TestUnsolicitedOpsParserDeletionVariants(t *testing.T) {
	v1Extras := make([]byte, 18)
	binary.BigEndian.PutUint64(v1Extras[0:], 10)
	binary.BigEndian.PutUint64(v1Extras[8:], 1)

	v2Extras := make([]byte, 21)
	binary.BigEndian.PutUint64(v2Extras[0:], 11)
	binary.BigEndian.PutUint64(v2Extras[8:], 2)
	binary.BigEndian.PutUint32(v2Extras[16:], 42)

	var got *DcpDeletionEvent
	handlers := &UnsolicitedOpsHandlers{
		DcpDeletion: func(evt *DcpDeletionEvent) error {
			got = evt
			return nil
		},
	}

	err := UnsolicitedOpsParser{}.Handle(&Packet{
		Magic:  MagicReq,
		OpCode: OpCodeDcpDeletion,
		Extras: v1Extras,
	}, handlers)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.SeqNo)
	assert.Equal(t, uint32(0), got.DeleteTime)

	err = UnsolicitedOpsParser{}.Handle(&Packet{
		Magic:  MagicReq,
		OpCode: OpCodeDcpDeletion,
		Extras: v2Extras,
	}, handlers)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), got.SeqNo)
	assert.Equal(t, uint32(42), got.DeleteTime)
}

func TestUnsolicitedOpsParserStreamEnd(t *testing.T) {
	extras := make([]byte, 4)
	binary.BigEndian.PutUint32(extras, uint32(DcpStreamEndReasonStateChanged))

	var got *DcpStreamEndEvent
	err := UnsolicitedOpsParser{}.Handle(&Packet{
		Magic:     MagicReq,
		OpCode:    OpCodeDcpStreamEnd,
		VbucketID: 5,
		Extras:    extras,
	}, &UnsolicitedOpsHandlers{
		DcpStreamEnd: func(evt *DcpStreamEndEvent) error {
			got = evt
			return nil
		},
	})
	require.NoError(t, err)

	assert.Equal(t, uint16(5), got.VbucketId)
	assert.Equal(t, DcpStreamEndReasonStateChanged, got.Reason)
}

func TestUnsolicitedOpsParserUnknownOpcode(t *testing.T) {
	err := UnsolicitedOpsParser{}.Handle(&Packet{
		Magic:  MagicReq,
		OpCode: OpCode(0xef),
	}, &UnsolicitedOpsHandlers{})
	require.ErrorIs(t, err, ErrProtocol)
}
