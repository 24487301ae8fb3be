package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
)

// Frame is the fixed 14-byte signed value frame:
//
//	[0:4]   transaction id
//	[4]     signal id
//	[5]     operation / ack type
//	[6:10]  big-endian payload (float32, or uint32 for the version signal)
//	[10:14] signature
type Frame struct {
	TxID     [4]byte
	SignalID byte
	Type     byte
	Payload  [4]byte
}

type Kind uint8

const (
	KindUnknown Kind = iota
	KindCommand
	KindAck
	KindConfigRequest
)

// NewTxID returns 4 random bytes.
func NewTxID() [4]byte {
	var id [4]byte
	_, _ = rand.Read(id[:])
	return id
}

// NewValueFrame builds a frame carrying v. The version signal carries a raw
// integer, every other signal a float32.
func NewValueFrame(txID [4]byte, signalID, typ byte, v float64) Frame {
	f := Frame{TxID: txID, SignalID: signalID, Type: typ}
	f.SetValue(v)
	return f
}

// ConfigRequest builds the sentinel frame that asks for the display config.
func ConfigRequest() Frame {
	return Frame{TxID: NewTxID(), SignalID: ConfigSignalID, Type: OpConfigRequest, Payload: SentinelKey}
}

func (f *Frame) SetValue(v float64) {
	if f.SignalID == VersionID {
		binary.BigEndian.PutUint32(f.Payload[:], uint32(int64(v)))
		return
	}
	binary.BigEndian.PutUint32(f.Payload[:], math.Float32bits(float32(v)))
}

// Value decodes the payload according to the signal id.
func (f Frame) Value() float64 {
	if f.SignalID == VersionID {
		return float64(f.Uint32())
	}
	return float64(f.Float())
}

func (f Frame) Float() float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(f.Payload[:]))
}

func (f Frame) Uint32() uint32 {
	return binary.BigEndian.Uint32(f.Payload[:])
}

func (f Frame) IsConfigRequest() bool {
	return f.SignalID == ConfigSignalID && f.Type == OpConfigRequest && f.Payload == SentinelKey
}

func (f Frame) Kind() Kind {
	switch {
	case f.IsConfigRequest():
		return KindConfigRequest
	case IsCommand(f.Type):
		return KindCommand
	case IsAck(f.Type):
		return KindAck
	}
	return KindUnknown
}

// Reply answers f with ack, keeping its transaction id, signal id and payload.
func (f Frame) Reply(ack byte) Frame {
	r := f
	r.Type = ack
	return r
}

// ReplyValue answers f with ack and a new value.
func (f Frame) ReplyValue(ack byte, v float64) Frame {
	r := f.Reply(ack)
	r.SetValue(v)
	return r
}

func (f Frame) body() []byte {
	b := make([]byte, signedLen, FrameSize)
	copy(b[0:4], f.TxID[:])
	b[4] = f.SignalID
	b[5] = f.Type
	copy(b[6:10], f.Payload[:])
	return b
}

func (f Frame) Encode(k Key) []byte {
	b := f.body()
	sig := k.frameSig(b)
	return append(b, sig[:]...)
}

// DecodeFrame parses b. The config request is returned without signature
// verification. A signature mismatch returns the parsed frame together with
// ErrBadSignature so the caller can address its reply.
func DecodeFrame(k Key, b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameLength, len(b))
	}
	var f Frame
	copy(f.TxID[:], b[0:4])
	f.SignalID = b[4]
	f.Type = b[5]
	copy(f.Payload[:], b[6:10])

	if f.IsConfigRequest() {
		return f, nil
	}
	want := k.frameSig(b[:signedLen])
	if !sigEqual(want[:], b[signedLen:]) {
		return f, ErrBadSignature
	}
	return f, nil
}

func (f Frame) String() string {
	return fmt.Sprintf("tx=%x sig=0x%02X type=0x%02X value=%g", f.TxID, f.SignalID, f.Type, f.Value())
}
