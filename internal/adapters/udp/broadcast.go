package udp

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"portenta-bridge/internal/events"
	"portenta-bridge/internal/protocol"
	"portenta-bridge/internal/registry"
)

// Publish sends one committed change to every known peer. Unregistered
// names never go on the wire.
func (e *Endpoint) Publish(ch registry.Change) {
	if !ch.Registered {
		return
	}
	e.broadcastValue(ch.ID, ch.Value)
}

// Broadcast sends every registered value in vs to every known peer.
func (e *Endpoint) Broadcast(vs []registry.Value) {
	if e.peers.Len() == 0 {
		return
	}
	for _, v := range vs {
		if v.Registered {
			e.broadcastValue(v.ID, v.Value)
		}
	}
}

func (e *Endpoint) broadcastValue(id byte, v float64) {
	peers := e.peers.List()
	if len(peers) == 0 {
		return
	}
	b := protocol.NewValueFrame(protocol.NewTxID(), id, protocol.AckOK, v).Encode(e.key)
	for _, p := range peers {
		e.send(b, p)
	}
}

type logPacket struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Instance  string `json:"instance"`
}

// LogForwarder sends log lines from a ring buffer to every UDP peer as
// plain JSON datagrams.
type LogForwarder struct {
	ep       *Endpoint
	buf      events.Buffer
	instance string
	interval time.Duration
	last     uint64
}

func NewLogForwarder(ep *Endpoint, buf events.Buffer, interval time.Duration) *LogForwarder {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &LogForwarder{ep: ep, buf: buf, instance: uuid.NewString(), interval: interval}
}

func (f *LogForwarder) Instance() string { return f.instance }

func (f *LogForwarder) Start(ctx context.Context) error {
	log.Printf("[udp] forwarding log lines, instance %s", f.instance)
	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			f.Flush()
		}
	}
}

// Flush sends everything pushed since the previous call.
// Write errors are dropped here: logging them would feed the loop.
func (f *LogForwarder) Flush() {
	for {
		batch := f.buf.Pull(f.last, 64)
		if len(batch) == 0 {
			return
		}
		f.last = batch[len(batch)-1].Seq

		w := f.ep.writer()
		peers := f.ep.peers.List()
		if w == nil || len(peers) == 0 {
			continue
		}
		for _, ev := range batch {
			b, err := json.Marshal(logPacket{
				Type:      "log",
				Timestamp: ev.Time.Format("2006-01-02 15:04:05"),
				Message:   string(ev.Payload),
				Instance:  f.instance,
			})
			if err != nil {
				continue
			}
			for _, p := range peers {
				_, _ = w.WriteTo(b, p)
			}
		}
	}
}
