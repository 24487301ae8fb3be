package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"portenta-bridge/internal/gate"
	"portenta-bridge/internal/registry"
	"portenta-bridge/internal/rpc"
)

type fakeDisplay struct {
	queue   []string
	handled []string
}

func (d *fakeDisplay) Poll() (string, bool) {
	if len(d.queue) == 0 {
		return "", false
	}
	l := d.queue[0]
	d.queue = d.queue[1:]
	return l, true
}

func (d *fakeDisplay) Handle(line string) { d.handled = append(d.handled, line) }

type fakePoller struct {
	results []rpc.PollData
	errs    []error
	calls   int
	opts    rpc.Options
}

func (p *fakePoller) Poll(_ context.Context, opts rpc.Options) (rpc.PollData, error) {
	i := p.calls
	p.calls++
	p.opts = opts
	if i < len(p.errs) && p.errs[i] != nil {
		return rpc.PollData{}, p.errs[i]
	}
	if i < len(p.results) {
		return p.results[i], nil
	}
	return rpc.PollData{}, rpc.ErrNoResult
}

type fakeTarget struct{ snaps [][]registry.Value }

func (t *fakeTarget) Broadcast(vs []registry.Value) { t.snaps = append(t.snaps, vs) }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestStepDrainsOneLinePerIteration(t *testing.T) {
	d := &fakeDisplay{queue: []string{"a", "b", "c"}}
	c := &clock{t: time.Unix(100, 0)}
	l := NewLoop(registry.NewStore(gate.Local, nil), d, nil, Options{PollInterval: time.Hour, BroadcastInterval: time.Hour, Now: c.now})

	l.Step(context.Background())
	if len(d.handled) != 1 || d.handled[0] != "a" {
		t.Fatalf("handled = %v", d.handled)
	}
	l.Step(context.Background())
	l.Step(context.Background())
	l.Step(context.Background())
	if len(d.handled) != 3 {
		t.Errorf("handled = %v", d.handled)
	}
}

func TestPollCadenceAndValues(t *testing.T) {
	st := registry.NewStore(gate.Remote, nil)
	p := &fakePoller{results: []rpc.PollData{{Voltage: 48.07, Current: 3.21, Enabled: true}}}
	c := &clock{t: time.Unix(100, 0)}
	opts := Options{PollInterval: 100 * time.Millisecond, BroadcastInterval: time.Hour, Poll: rpc.Options{Timeout: 500 * time.Millisecond}, Now: c.now}
	l := NewLoop(st, nil, p, opts)

	l.Step(context.Background())
	if p.calls != 1 || p.opts.Timeout != 500*time.Millisecond || p.opts.Retries != 0 {
		t.Fatalf("calls = %d opts = %+v", p.calls, p.opts)
	}
	got := st.Values(registry.VoltAct, registry.CurrAct, registry.ExtEnable)
	if got[registry.VoltAct] != 48.07 || got[registry.CurrAct] != 3.21 || got[registry.ExtEnable] != 1 {
		t.Errorf("values = %v", got)
	}

	c.t = c.t.Add(50 * time.Millisecond)
	l.Step(context.Background())
	if p.calls != 1 {
		t.Errorf("polled again after 50ms")
	}
	c.t = c.t.Add(50 * time.Millisecond)
	l.Step(context.Background())
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2 after interval", p.calls)
	}
}

func TestFailedPollKeepsValues(t *testing.T) {
	st := registry.NewStore(gate.Local, nil)
	p := &fakePoller{
		results: []rpc.PollData{{Voltage: 12, Current: 1, Enabled: true}},
		errs:    []error{nil, errors.New("timeout")},
	}
	c := &clock{t: time.Unix(100, 0)}
	l := NewLoop(st, nil, p, Options{PollInterval: time.Millisecond, BroadcastInterval: time.Hour, Now: c.now})

	l.Step(context.Background())
	c.t = c.t.Add(time.Second)
	l.Step(context.Background())
	if p.calls != 2 {
		t.Fatalf("calls = %d", p.calls)
	}
	if v, _ := st.Get(registry.VoltAct); v != 12 {
		t.Errorf("volt_act = %g, want previous value 12", v)
	}
	if v, _ := st.Get(registry.ExtEnable); v != 1 {
		t.Errorf("ext_enable = %g", v)
	}
}

func TestPolledBooleanNotMirrored(t *testing.T) {
	m := &countingMirror{}
	st := registry.NewStore(gate.Local, m)
	p := &fakePoller{results: []rpc.PollData{{Enabled: true}}}
	l := NewLoop(st, nil, p, Options{PollInterval: time.Millisecond, BroadcastInterval: time.Hour})
	l.Step(context.Background())
	if m.n != 0 {
		t.Errorf("mirror called %d times for core telemetry", m.n)
	}
}

type countingMirror struct{ n int }

func (m *countingMirror) Mirror(string, any) error {
	m.n++
	return nil
}

func TestBroadcastCadence(t *testing.T) {
	st := registry.NewStore(gate.Local, nil)
	a, b := &fakeTarget{}, &fakeTarget{}
	c := &clock{t: time.Unix(100, 0)}
	l := NewLoop(st, nil, nil, Options{PollInterval: time.Hour, BroadcastInterval: 200 * time.Millisecond, Now: c.now}, a, b)

	for i := 0; i < 10; i++ {
		l.Step(context.Background())
		c.t = c.t.Add(50 * time.Millisecond)
	}
	// t=0, 200, 400 ms
	if len(a.snaps) != 3 || len(b.snaps) != 3 {
		t.Fatalf("broadcasts = %d/%d, want 3", len(a.snaps), len(b.snaps))
	}
	if len(a.snaps[0]) != len(registry.All()) {
		t.Errorf("snapshot size = %d", len(a.snaps[0]))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l := NewLoop(registry.NewStore(gate.Local, nil), &fakeDisplay{}, nil, Options{PollInterval: time.Hour, BroadcastInterval: time.Hour, Idle: time.Millisecond})
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
