package memdx

type DcpConnectionFlags uint32

const (
	DcpConnectionFlagsProducer          = 1 << 0
	DcpConnectionFlagsIncludeXattrs     = 1 << 2
	DcpConnectionFlagsNoValue           = 1 << 3
	DcpConnectionFlagsIncludeDeleteTime = 1 << 5
)

type DcpSnapshotState uint32

const (
	DcpSnapshotStateInMemory DcpSnapshotState = 1 << 0
	DcpSnapshotStateOnDisk   DcpSnapshotState = 1 << 1
	DcpSnapshotStateHistory  DcpSnapshotState = 1 << 4
)

type DcpStreamEndReason uint32

const (
	DcpStreamEndReasonClosed       DcpStreamEndReason = 0x00
	DcpStreamEndReasonStateChanged DcpStreamEndReason = 0x01
	DcpStreamEndReasonDisconnected DcpStreamEndReason = 0x02
	DcpStreamEndReasonTooSlow      DcpStreamEndReason = 0x03
	DcpStreamEndReasonBackfillFail DcpStreamEndReason = 0x04
	DcpStreamEndReasonRollback     DcpStreamEndReason = 0x05
)

func (r DcpStreamEndReason) String() string {
	switch r {
	case DcpStreamEndReasonClosed:
		return "CLOSED"
	case DcpStreamEndReasonStateChanged:
		return "STATE_CHANGED"
	case DcpStreamEndReasonDisconnected:
		return "DISCONNECTED"
	case DcpStreamEndReasonTooSlow:
		return "TOO_SLOW"
	case DcpStreamEndReasonBackfillFail:
		return "BACKFILL_FAIL"
	case DcpStreamEndReasonRollback:
		return "ROLLBACK"
	}
	return "UNKNOWN"
}

// Datatype field bits.
const (
	DatatypeFlagJSON   = uint8(0x01)
	DatatypeFlagSnappy = uint8(0x02)
	DatatypeFlagXattrs = uint8(0x04)
)
