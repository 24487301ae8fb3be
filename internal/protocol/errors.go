package protocol

import "errors"

var (
	ErrFrameLength    = errors.New("invalid frame length")
	ErrBadSignature   = errors.New("invalid signature")
	ErrUnknownCommand = errors.New("unknown command code")
	ErrMalformedBody  = errors.New("malformed envelope body")
	ErrKeyTag         = errors.New("key tag must be 8 bytes")
)
