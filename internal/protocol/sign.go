package protocol

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
)

// Key is the shared signing key: an 8-byte ASCII tag repeated 16 times.
type Key []byte

func NewKey(tag string) (Key, error) {
	if len(tag) != 8 {
		return nil, fmt.Errorf("%w: got %d", ErrKeyTag, len(tag))
	}
	return Key(bytes.Repeat([]byte(tag), keyRepeat)), nil
}

// DefaultKey returns the key built from DefaultKeyTag.
func DefaultKey() Key {
	k, _ := NewKey(DefaultKeyTag)
	return k
}

// The two frame kinds sign differently and both forms are on the wire:
//
//	value frame: last 4 bytes of SHA-256(body || key), appended
//	envelope:    first 4 bytes of SHA-256(key || body), prepended
//
// New message kinds should use the envelope form.

func (k Key) frameSig(body []byte) [sigLen]byte {
	h := sha256.New()
	h.Write(body)
	h.Write(k)
	sum := h.Sum(nil)
	var out [sigLen]byte
	copy(out[:], sum[len(sum)-sigLen:])
	return out
}

func (k Key) envelopeSig(body []byte) [sigLen]byte {
	h := sha256.New()
	h.Write(k)
	h.Write(body)
	sum := h.Sum(nil)
	var out [sigLen]byte
	copy(out[:], sum[:sigLen])
	return out
}

func sigEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
