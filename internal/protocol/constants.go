package protocol

// Value frame operation types.
const (
	OpSet           byte = 0x10 // value is set to the operand
	OpAdd           byte = 0x11 // operand is added to the current value
	OpMultiply      byte = 0x12 // current value is multiplied by the operand
	OpGet           byte = 0x20 // request the current value
	OpConfigRequest byte = 0x21 // only valid with signal id 0 and SentinelKey
)

// Value frame acknowledgment types.
const (
	AckOK            byte = 0xA0
	AckErrUnknown    byte = 0xE0
	AckErrNotAllowed byte = 0xE1
	AckErrOutOfRange byte = 0xE2
	AckErrNotReady   byte = 0xE3
	AckErrSign       byte = 0xE4
)

// Envelope command codes.
const (
	CmdSet           byte = 0x01
	CmdGet           byte = 0x02
	CmdConfigRequest byte = 0x03
	CmdAckOK         byte = 0x80
	CmdAckError      byte = 0x81
	CmdAckErrorSign  byte = 0x82
	CmdConfig        byte = 0x83
)

const (
	FrameSize      = 14
	signedLen      = 10
	sigLen         = 4
	ConfigSignalID = 0x00
	VersionID      = 0x01
	DefaultKeyTag  = "WOODRUFF"
	keyRepeat      = 16
)

// SentinelKey is the payload of a config request. It is unrelated to the
// signing key.
var SentinelKey = [4]byte{0x3A, 0x7F, 0x0C, 0xD5}

// IsAck reports whether t is one of the acknowledgment types.
func IsAck(t byte) bool {
	switch t {
	case AckOK, AckErrUnknown, AckErrNotAllowed, AckErrOutOfRange, AckErrNotReady, AckErrSign:
		return true
	}
	return false
}

// IsCommand reports whether t is SET, ADD, MULTIPLY or GET.
func IsCommand(t byte) bool {
	switch t {
	case OpSet, OpAdd, OpMultiply, OpGet:
		return true
	}
	return false
}
