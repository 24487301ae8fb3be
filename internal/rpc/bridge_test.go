package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type step struct {
	res any
	err error
}

// scriptDialer replays steps, one per dial.
type scriptDialer struct {
	mu     sync.Mutex
	steps  []step
	dials  int
	closes int
	calls  []string
}

func (d *scriptDialer) Dial(time.Duration) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return &scriptConn{d: d}, nil
}

type scriptConn struct{ d *scriptDialer }

func (c *scriptConn) Call(method string, args ...any) (any, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.calls = append(c.d.calls, method)
	if len(c.d.steps) == 0 {
		return nil, ErrTimeout
	}
	s := c.d.steps[0]
	if len(c.d.steps) > 1 {
		c.d.steps = c.d.steps[1:]
	}
	return s.res, s.err
}

func (c *scriptConn) Close() error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.closes++
	return nil
}

func TestCallRetriesAfterTimeout(t *testing.T) {
	d := &scriptDialer{steps: []step{{err: ErrTimeout}, {res: 12.5}}}
	b := New(d, Options{Retries: 1, Timeout: 10 * time.Millisecond}, 0)

	got, err := b.Call(context.Background(), FnVoltAct)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 12.5 {
		t.Errorf("Call = %v, want 12.5", got)
	}
	if d.dials != 2 || d.closes != 2 {
		t.Errorf("dials=%d closes=%d, want 2/2", d.dials, d.closes)
	}
}

func TestCallGivesUpAfterRetries(t *testing.T) {
	d := &scriptDialer{steps: []step{{err: ErrTimeout}}}
	b := New(d, Options{Retries: 1, Timeout: 10 * time.Millisecond}, time.Millisecond)

	_, err := b.Call(context.Background(), FnVoltAct)
	if !errors.Is(err, ErrNoResult) || !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrNoResult wrapping ErrTimeout", err)
	}
	if len(d.calls) != 2 {
		t.Errorf("attempts = %d, want 2", len(d.calls))
	}
}

func TestCallTypeMismatchIsFailure(t *testing.T) {
	d := &scriptDialer{steps: []step{{res: "oops"}, {res: int64(3)}}}
	b := New(d, Options{Retries: 1}, 0)

	got, err := b.Call(context.Background(), FnCurrAct)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 3.0 {
		t.Errorf("Call = %v (%T), want float64 3", got, got)
	}
	if len(d.calls) != 2 {
		t.Errorf("attempts = %d, want 2", len(d.calls))
	}

	d2 := &scriptDialer{steps: []step{{res: "oops"}}}
	_, err = New(d2, Options{Retries: 0}, 0).Call(context.Background(), FnCurrAct)
	if !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("err = %v, want ErrTypeMismatch", err)
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		fn      string
		in      any
		want    any
		wantErr bool
	}{
		{FnVoltAct, int64(5), 5.0, false},
		{FnVoltAct, 4.25, 4.25, false},
		{FnVoltAct, true, nil, true},
		{FnExtEnable, int64(1), true, false},
		{FnExtEnable, uint64(0), false, false},
		{FnSyncCompleted, false, false, false},
		{FnSyncCompleted, 1.5, nil, true},
		{FnProcessEvent, nil, nil, false},
		{FnProcessEvent, int64(1), int64(1), false},
		{FnProcessEvent, "x", nil, true},
		{FnPollData, int64(7), uint64(7), false},
		{FnPollData, int64(-1), nil, true},
		{FnSetTruthTable, "anything", "anything", false},
	}
	for _, tt := range tests {
		got, err := coerce(tt.fn, tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("coerce(%s, %v) err = %v, wantErr %v", tt.fn, tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("coerce(%s, %v) = %v (%T), want %v (%T)", tt.fn, tt.in, got, got, tt.want, tt.want)
		}
	}
}

// slowDialer records how many calls overlap.
type slowDialer struct {
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (d *slowDialer) Dial(time.Duration) (Conn, error) {
	n := d.inFlight.Add(1)
	for {
		m := d.maxSeen.Load()
		if n <= m || d.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	return &slowConn{d: d}, nil
}

type slowConn struct{ d *slowDialer }

func (c *slowConn) Call(string, ...any) (any, error) {
	time.Sleep(2 * time.Millisecond)
	return int64(1), nil
}

func (c *slowConn) Close() error {
	c.d.inFlight.Add(-1)
	return nil
}

func TestCallIsSingleFlight(t *testing.T) {
	d := &slowDialer{}
	b := New(d, Options{Retries: 0}, 0)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Call(context.Background(), FnProcessEvent, "{}")
		}()
	}
	wg.Wait()
	if got := d.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent connections = %d, want 1", got)
	}
}

func TestDecodePoll(t *testing.T) {
	// 48.07 V, 3.21 A, enabled
	packed := uint64(4807) | uint64(321)<<19 | uint64(1)<<38
	got := DecodePoll(packed)
	want := PollData{Voltage: 48.07, Current: 3.21, Enabled: true}
	if got != want {
		t.Errorf("DecodePoll = %+v, want %+v", got, want)
	}

	full := DecodePoll(uint64(mask19) | uint64(mask19)<<19)
	if full.Voltage != 5242.87 || full.Current != 5242.87 || full.Enabled {
		t.Errorf("DecodePoll(max) = %+v", full)
	}

	// bits above 38 must not leak into the fields
	noisy := DecodePoll(packed | 1<<39 | 1<<50)
	if noisy != want {
		t.Errorf("DecodePoll(noisy) = %+v, want %+v", noisy, want)
	}

	if rt := DecodePoll(EncodePoll(want)); rt != want {
		t.Errorf("round trip = %+v", rt)
	}
}

func TestPollViaBridge(t *testing.T) {
	d := &scriptDialer{steps: []step{{res: int64(EncodePoll(PollData{Voltage: 12, Current: 0.5}))}}}
	b := New(d, Options{}, 0)
	got, err := b.Poll(context.Background(), Options{Retries: 0, Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	if got.Voltage != 12 || got.Current != 0.5 || got.Enabled {
		t.Errorf("Poll = %+v", got)
	}
}

func TestMsgpackTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveOne(c)
		}
	}()

	b := New(&MsgpackDialer{Addr: ln.Addr().String()}, Options{Retries: 0, Timeout: time.Second}, 0)

	got, err := b.Call(context.Background(), FnVoltAct)
	if err != nil {
		t.Fatalf("volt_act: %v", err)
	}
	if got != 48.0 {
		t.Errorf("volt_act = %v (%T), want 48.0", got, got)
	}

	if err := b.ForwardEvent(context.Background(), "dump_fan", 1); err != nil {
		t.Errorf("ForwardEvent: %v", err)
	}

	_, err = b.Call(context.Background(), "explode")
	var re *RemoteError
	if !errors.As(err, &re) {
		t.Errorf("err = %v, want RemoteError", err)
	}
}

// serveOne answers one msgpack-RPC request per connection.
func serveOne(c net.Conn) {
	defer c.Close()
	dec := msgpack.NewDecoder(c)
	enc := msgpack.NewEncoder(c)

	var req []any
	if err := dec.Decode(&req); err != nil || len(req) != 4 {
		return
	}
	id := req[1]
	switch req[2] {
	case FnVoltAct:
		_ = enc.Encode([]any{1, id, nil, 48})
	case FnProcessEvent:
		_ = enc.Encode([]any{1, id, nil, 1})
	default:
		_ = enc.Encode([]any{1, id, "no such method", nil})
	}
}
