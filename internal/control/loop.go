// Package control runs the gateway's main loop and the optional core
// resynchronisation loop.
package control

import (
	"context"
	"log"
	"time"

	"portenta-bridge/internal/gate"
	"portenta-bridge/internal/registry"
	"portenta-bridge/internal/rpc"
)

// LineSource is the display endpoint as seen by the loop.
type LineSource interface {
	Poll() (string, bool)
	Handle(line string)
}

// Poller fetches the packed telemetry word from the core.
type Poller interface {
	Poll(ctx context.Context, opts rpc.Options) (rpc.PollData, error)
}

// Broadcaster receives the full store snapshot at the broadcast cadence.
type Broadcaster interface {
	Broadcast([]registry.Value)
}

type Options struct {
	PollInterval      time.Duration
	BroadcastInterval time.Duration
	Idle              time.Duration
	Poll              rpc.Options
	// Now is the loop clock; nil means time.Now.
	Now func() time.Time
}

type Loop struct {
	store   *registry.Store
	display LineSource
	core    Poller
	targets []Broadcaster
	opts    Options

	lastPoll      time.Time
	lastBroadcast time.Time
}

func NewLoop(store *registry.Store, display LineSource, core Poller, opts Options, targets ...Broadcaster) *Loop {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loop{store: store, display: display, core: core, targets: targets, opts: opts}
}

// Run loops until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	log.Printf("[loop] started: poll every %s, broadcast every %s", l.opts.PollInterval, l.opts.BroadcastInterval)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		l.Step(ctx)
		if l.opts.Idle > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.opts.Idle):
			}
		}
	}
}

// Step is one iteration: at most one display line, then the poll and the
// broadcast if their intervals have elapsed.
func (l *Loop) Step(ctx context.Context) {
	if l.display != nil {
		if line, ok := l.display.Poll(); ok {
			l.display.Handle(line)
		}
	}

	now := l.opts.Now()
	if l.core != nil && now.Sub(l.lastPoll) >= l.opts.PollInterval {
		l.poll(ctx)
		l.lastPoll = now
	}
	if now.Sub(l.lastBroadcast) >= l.opts.BroadcastInterval {
		l.broadcast()
		l.lastBroadcast = now
	}
}

// poll records core telemetry. A failed call leaves the previous values.
func (l *Loop) poll(ctx context.Context) {
	p, err := l.core.Poll(ctx, l.opts.Poll)
	if err != nil {
		return
	}
	enabled := 0.0
	if p.Enabled {
		enabled = 1
	}
	for _, v := range []struct {
		name  string
		value float64
	}{
		{registry.VoltAct, p.Voltage},
		{registry.CurrAct, p.Current},
		{registry.ExtEnable, enabled},
	} {
		req := registry.Request{Name: v.name, Op: gate.OpSet, Operand: v.value, Source: gate.SourceRPC}
		if _, err := l.store.Apply(req); err != nil {
			log.Printf("[loop] poll %s: %v", v.name, err)
		}
	}
}

func (l *Loop) broadcast() {
	if len(l.targets) == 0 {
		return
	}
	snap := l.store.Snapshot()
	for _, t := range l.targets {
		t.Broadcast(snap)
	}
}
