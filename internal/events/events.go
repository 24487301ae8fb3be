package events

import (
	"bytes"
	"sync"
	"time"
)

type Event struct {
	Seq     uint64
	Topic   string
	Payload []byte
	Time    time.Time
}

type Buffer interface {
	Push(e Event)
	// Pull returns up to max events with Seq greater than after, oldest first.
	Pull(after uint64, max int) []Event
}

type ring struct {
	mu   sync.RWMutex
	data []Event
	size int
	seq  uint64
}

func NewRing(size int) Buffer {
	return &ring{data: make([]Event, 0, size), size: size}
}

func (r *ring) Push(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	e.Seq = r.seq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if len(r.data) == r.size {
		r.data = r.data[1:]
	}
	r.data = append(r.data, e)
}

func (r *ring) Pull(after uint64, max int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Event, 0, max)
	for _, e := range r.data {
		if len(out) == max {
			break
		}
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out
}

// LineWriter is an io.Writer that pushes every complete line as one event.
// Passing it to log.SetOutput turns diagnostics into events.
type LineWriter struct {
	mu      sync.Mutex
	buf     Buffer
	topic   string
	partial []byte
}

func NewLineWriter(buf Buffer, topic string) *LineWriter {
	return &LineWriter{buf: buf, topic: topic}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.partial[:i], "\r")
		if len(line) > 0 {
			msg := make([]byte, len(line))
			copy(msg, line)
			w.buf.Push(Event{Topic: w.topic, Payload: msg, Time: time.Now()})
		}
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}
