package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"portenta-bridge/internal/events"
	"portenta-bridge/internal/registry"
)

// /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	peers := 0
	if s.peers != nil {
		peers = s.peers.Len()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"version": registry.VersionString(registry.VersionValue),
		"peers":   peers,
	})
}

type signalView struct {
	Name       string  `json:"name"`
	ID         *string `json:"id,omitempty"`
	Class      string  `json:"class"`
	Boolean    bool    `json:"boolean"`
	Value      float64 `json:"value"`
	Registered bool    `json:"registered"`
}

// /api/v1/signals
func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false, "error": "method not allowed"})
		return
	}
	snap := s.store.Snapshot()
	out := make([]signalView, 0, len(snap))
	for _, v := range snap {
		sv := signalView{Name: v.Name, Value: v.Value, Registered: v.Registered, Class: registry.ClassOf(v.Name).String()}
		if d, ok := registry.ByName(v.Name); ok {
			id := hexID(d.ID)
			sv.ID = &id
			sv.Boolean = d.Boolean
		}
		out = append(out, sv)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"mode": s.store.Mode().String(),
		"data": out,
	})
}

func hexID(id byte) string {
	const digits = "0123456789ABCDEF"
	return "0x" + string([]byte{digits[id>>4], digits[id&0x0F]})
}

// /api/v1/events/stream: лог шлюза из evbuf. Клиент может продолжить с
// места обрыва через Last-Event-ID.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	if s.evbuf == nil {
		http.Error(w, "events buffer not enabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	var last uint64
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		last, _ = strconv.ParseUint(id, 10, 64)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fmt.Fprint(w, "retry: 2000\n\n")
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-tick.C:
			batch := s.evbuf.Pull(last, 100)
			if len(batch) == 0 {
				continue
			}
			for _, e := range batch {
				writeSSE(w, e)
				last = e.Seq
			}
			flusher.Flush()
		}
	}
}

type streamEvent struct {
	Seq     uint64 `json:"seq"`
	Time    string `json:"time"`
	Message string `json:"message"`
}

func writeSSE(w http.ResponseWriter, e events.Event) {
	data, err := json.Marshal(streamEvent{
		Seq:     e.Seq,
		Time:    e.Time.Format(time.RFC3339Nano),
		Message: string(e.Payload),
	})
	if err != nil {
		return
	}
	topic := e.Topic
	if topic == "" {
		topic = "message"
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, topic, data)
}
