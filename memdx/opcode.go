package memdx

import "encoding/hex"

// OpCode represents the specific command the packet is performing.
type OpCode uint8

// These constants provide predefined values for all the operations
// which are supported by this library.
const (
	OpCodeHello              = OpCode(0x1f)
	OpCodeSASLListMechs      = OpCode(0x20)
	OpCodeSASLAuth           = OpCode(0x21)
	OpCodeSASLStep           = OpCode(0x22)
	OpCodeDcpOpenConnection  = OpCode(0x50)
	OpCodeDcpAddStream       = OpCode(0x51)
	OpCodeDcpCloseStream     = OpCode(0x52)
	OpCodeDcpStreamReq       = OpCode(0x53)
	OpCodeDcpGetFailoverLog  = OpCode(0x54)
	OpCodeDcpStreamEnd       = OpCode(0x55)
	OpCodeDcpSnapshotMarker  = OpCode(0x56)
	OpCodeDcpMutation        = OpCode(0x57)
	OpCodeDcpDeletion        = OpCode(0x58)
	OpCodeDcpExpiration      = OpCode(0x59)
	OpCodeDcpFlush           = OpCode(0x5a)
	OpCodeDcpSetVbucketState = OpCode(0x5b)
	OpCodeDcpNoop            = OpCode(0x5c)
	OpCodeDcpBufferAck       = OpCode(0x5d)
	OpCodeDcpControl         = OpCode(0x5e)
	OpCodeDcpSeqNoAdvanced   = OpCode(0x64)
	OpCodeSelectBucket       = OpCode(0x89)
	OpCodeObserveSeqNo       = OpCode(0x91)
)

// Name returns the string representation of the OpCode.
func (command OpCode) Name() string {
	switch command {
	case OpCodeHello:
		return "HELLO"
	case OpCodeSASLListMechs:
		return "SASLLISTMECHS"
	case OpCodeSASLAuth:
		return "SASLAUTH"
	case OpCodeSASLStep:
		return "SASLSTEP"
	case OpCodeDcpOpenConnection:
		return "DCPOPENCONNECTION"
	case OpCodeDcpAddStream:
		return "DCPADDSTREAM"
	case OpCodeDcpCloseStream:
		return "DCPCLOSESTREAM"
	case OpCodeDcpStreamReq:
		return "DCPSTREAMREQ"
	case OpCodeDcpGetFailoverLog:
		return "DCPGETFAILOVERLOG"
	case OpCodeDcpStreamEnd:
		return "DCPSTREAMEND"
	case OpCodeDcpSnapshotMarker:
		return "DCPSNAPSHOTMARKER"
	case OpCodeDcpMutation:
		return "DCPMUTATION"
	case OpCodeDcpDeletion:
		return "DCPDELETION"
	case OpCodeDcpExpiration:
		return "DCPEXPIRATION"
	case OpCodeDcpFlush:
		return "DCPFLUSH"
	case OpCodeDcpSetVbucketState:
		return "DCPSETVBUCKETSTATE"
	case OpCodeDcpNoop:
		return "DCPNOOP"
	case OpCodeDcpBufferAck:
		return "DCPBUFFERACK"
	case OpCodeDcpControl:
		return "DCPCONTROL"
	case OpCodeDcpSeqNoAdvanced:
		return "DCPSEQNOADVANCED"
	case OpCodeSelectBucket:
		return "SELECTBUCKET"
	case OpCodeObserveSeqNo:
		return "OBSERVESEQNO"
	default:
		return "x" + hex.EncodeToString([]byte{byte(command)})
	}
}

func (command OpCode) String() string {
	return command.Name()
}
