// Package rpc is the only path to the microcontroller core.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sasha-s/go-deadlock"
)

var (
	ErrTimeout      = errors.New("rpc timeout")
	ErrTypeMismatch = errors.New("rpc type mismatch")
	ErrNoResult     = errors.New("rpc gave up")
)

const (
	DefaultRetries = 1
	DefaultTimeout = 50 * time.Millisecond
	DefaultBackoff = 50 * time.Millisecond
)

type Options struct {
	Retries int
	Timeout time.Duration
}

// Bridge serialises every call to the core behind one mutex, held from
// dial to close. The transport has no per-call correlation, so two calls in
// flight could swap replies.
type Bridge struct {
	mu      deadlock.Mutex
	dialer  Dialer
	opts    Options
	backoff time.Duration
}

func New(d Dialer, opts Options, backoff time.Duration) *Bridge {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = DefaultRetries
	}
	if backoff < 0 {
		backoff = DefaultBackoff
	}
	return &Bridge{dialer: d, opts: opts, backoff: backoff}
}

// Call uses the bridge's default retries and timeout.
func (b *Bridge) Call(ctx context.Context, fn string, args ...any) (any, error) {
	return b.CallOpts(ctx, b.opts, fn, args...)
}

// CallOpts makes up to opts.Retries+1 attempts. A type mismatch against the
// expectation table counts as a failed attempt. The caller must treat an
// error as "value unknown", never as zero.
func (b *Bridge) CallOpts(ctx context.Context, opts Options, fn string, args ...any) (any, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = b.opts.Timeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	attempts := opts.Retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := b.once(fn, opts.Timeout, args)
		if err == nil {
			return res, nil
		}
		lastErr = err
		log.Printf("[rpc] %s attempt %d/%d failed: %v", fn, attempt, attempts, err)

		if attempt < attempts && b.backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.backoff):
			}
		}
	}
	log.Printf("[rpc] %s giving up after %d attempts", fn, attempts)
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrNoResult, fn, attempts, lastErr)
}

func (b *Bridge) once(fn string, timeout time.Duration, args []any) (any, error) {
	conn, err := b.dialer.Dial(timeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			log.Printf("[rpc] %s close: %v", fn, cerr)
		}
	}()

	res, err := conn.Call(fn, args...)
	if err != nil {
		return nil, err
	}
	return coerce(fn, res)
}
