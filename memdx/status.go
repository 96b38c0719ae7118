package memdx

import "encoding/hex"

// Status represents a memcached response status.
type Status uint16

const (
	StatusSuccess        = Status(0x00)
	StatusKeyNotFound    = Status(0x01)
	StatusKeyExists      = Status(0x02)
	StatusTooBig         = Status(0x03)
	StatusInvalidArgs    = Status(0x04)
	StatusNotStored      = Status(0x05)
	StatusBadDelta       = Status(0x06)
	StatusNotMyVBucket   = Status(0x07)
	StatusNoBucket       = Status(0x08)
	StatusLocked         = Status(0x09)
	StatusAuthStale      = Status(0x1f)
	StatusAuthError      = Status(0x20)
	StatusAuthContinue   = Status(0x21)
	StatusRangeError     = Status(0x22)
	StatusRollback       = Status(0x23)
	StatusAccessError    = Status(0x24)
	StatusNotInitialized = Status(0x25)
	StatusUnknownCommand = Status(0x81)
	StatusOutOfMemory    = Status(0x82)
	StatusNotSupported   = Status(0x83)
	StatusInternalError  = Status(0x84)
	StatusBusy           = Status(0x85)
	StatusTmpFail        = Status(0x86)
)

// String returns the string representation of the Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusKeyNotFound:
		return "KEY_ENOENT"
	case StatusKeyExists:
		return "KEY_EEXISTS"
	case StatusTooBig:
		return "E2BIG"
	case StatusInvalidArgs:
		return "EINVAL"
	case StatusNotStored:
		return "NOT_STORED"
	case StatusBadDelta:
		return "DELTA_BADVAL"
	case StatusNotMyVBucket:
		return "NOT_MY_VBUCKET"
	case StatusNoBucket:
		return "NO_BUCKET"
	case StatusLocked:
		return "LOCKED"
	case StatusAuthStale:
		return "AUTH_STALE"
	case StatusAuthError:
		return "AUTH_ERROR"
	case StatusAuthContinue:
		return "AUTH_CONTINUE"
	case StatusRangeError:
		return "ERANGE"
	case StatusRollback:
		return "ROLLBACK"
	case StatusAccessError:
		return "EACCESS"
	case StatusNotInitialized:
		return "NOT_INITIALIZED"
	case StatusUnknownCommand:
		return "UNKNOWN_COMMAND"
	case StatusOutOfMemory:
		return "ENOMEM"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	case StatusInternalError:
		return "EINTERNAL"
	case StatusBusy:
		return "EBUSY"
	case StatusTmpFail:
		return "ETMPFAIL"
	default:
		b := []byte{byte(s >> 8), byte(s)}
		return "x" + hex.EncodeToString(b)
	}
}
