package rpc

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Conn carries exactly one call at a time.
type Conn interface {
	Call(method string, args ...any) (any, error)
	Close() error
}

// Dialer opens a fresh connection for each call attempt.
type Dialer interface {
	Dial(timeout time.Duration) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(timeout time.Duration) (Conn, error)

func (f DialerFunc) Dial(timeout time.Duration) (Conn, error) { return f(timeout) }

// RemoteError is an error value returned by the core.
type RemoteError struct {
	Method string
	Value  any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("rpc %s: remote error: %v", e.Method, e.Value)
}

const (
	msgRequest  = 0
	msgResponse = 1
)

// MsgpackDialer speaks msgpack-RPC over TCP to the core's proxy.
type MsgpackDialer struct {
	Addr string
	seq  atomic.Uint32
}

func (d *MsgpackDialer) Dial(timeout time.Duration) (Conn, error) {
	nc, err := net.DialTimeout("tcp", d.Addr, timeout)
	if err != nil {
		return nil, classify(err)
	}
	return &msgpackConn{
		conn:    nc,
		timeout: timeout,
		enc:     msgpack.NewEncoder(nc),
		dec:     msgpack.NewDecoder(bufio.NewReader(nc)),
		seq:     &d.seq,
	}, nil
}

type msgpackConn struct {
	conn    net.Conn
	timeout time.Duration
	enc     *msgpack.Encoder
	dec     *msgpack.Decoder
	seq     *atomic.Uint32
}

// Call sends [0, msgid, method, params] and reads [1, msgid, error, result].
func (c *msgpackConn) Call(method string, args ...any) (any, error) {
	if c.timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.timeout))
	}
	if args == nil {
		args = []any{}
	}
	id := c.seq.Add(1)
	if err := c.enc.Encode([]any{msgRequest, id, method, args}); err != nil {
		return nil, classify(fmt.Errorf("rpc %s: write: %w", method, err))
	}

	n, err := c.dec.DecodeArrayLen()
	if err != nil {
		return nil, classify(fmt.Errorf("rpc %s: read: %w", method, err))
	}
	if n != 4 {
		return nil, fmt.Errorf("rpc %s: response has %d elements", method, n)
	}
	typ, err := c.dec.DecodeInt()
	if err != nil || typ != msgResponse {
		return nil, fmt.Errorf("rpc %s: bad message type %d: %v", method, typ, err)
	}
	got, err := c.dec.DecodeUint32()
	if err != nil {
		return nil, classify(fmt.Errorf("rpc %s: read msgid: %w", method, err))
	}
	if got != id {
		return nil, fmt.Errorf("rpc %s: msgid %d, want %d", method, got, id)
	}
	remoteErr, err := c.dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, classify(fmt.Errorf("rpc %s: read error field: %w", method, err))
	}
	result, err := c.dec.DecodeInterfaceLoose()
	if err != nil {
		return nil, classify(fmt.Errorf("rpc %s: read result: %w", method, err))
	}
	if remoteErr != nil {
		return nil, &RemoteError{Method: method, Value: remoteErr}
	}
	return result, nil
}

func (c *msgpackConn) Close() error { return c.conn.Close() }

func classify(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
