// Package hub remembers every UDP peer that has sent a datagram. Peers are
// broadcast targets for the life of the process.
package hub

import (
	"net"
	"sort"
	"sync"
	"time"
)

type peer struct {
	addr net.Addr
	last time.Time
}

type Hub struct {
	mu    sync.RWMutex
	peers map[string]*peer
}

func New() *Hub { return &Hub{peers: map[string]*peer{}} }

// Touch records addr and reports whether it was new.
func (h *Hub) Touch(addr net.Addr) bool {
	key := addr.String()
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.peers[key]
	if !ok {
		p = &peer{addr: addr}
		h.peers[key] = p
	}
	p.last = time.Now()
	return !ok
}

// List returns peers ordered by address.
func (h *Hub) List() []net.Addr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]net.Addr, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p.addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) LastSeen(addr net.Addr) (time.Time, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[addr.String()]
	if !ok {
		return time.Time{}, false
	}
	return p.last, true
}
