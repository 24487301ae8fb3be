package udp

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"portenta-bridge/internal/hub"
	"portenta-bridge/internal/protocol"
	"portenta-bridge/internal/registry"
)

// LayoutFunc returns the display_config document served to peers that
// send the config request.
type LayoutFunc func() ([]byte, error)

type Options struct {
	Listen    string
	TOS       int
	ReadPoll  time.Duration
	PageDelay time.Duration
}

// PacketWriter is the part of net.PacketConn the endpoint writes through.
type PacketWriter interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// Endpoint serves the signed value-frame protocol on one UDP socket.
type Endpoint struct {
	opts   Options
	key    protocol.Key
	store  *registry.Store
	peers  *hub.Hub
	layout LayoutFunc

	mu   sync.RWMutex
	conn PacketWriter
}

func New(opts Options, key protocol.Key, store *registry.Store, peers *hub.Hub, layout LayoutFunc) *Endpoint {
	if opts.ReadPoll <= 0 {
		opts.ReadPoll = 10 * time.Millisecond
	}
	return &Endpoint{opts: opts, key: key, store: store, peers: peers, layout: layout}
}

// Start listens on opts.Listen and serves until ctx is done.
func (e *Endpoint) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", e.opts.Listen)
	if err != nil {
		return fmt.Errorf("udp: resolve %s: %w", e.opts.Listen, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("udp: listen %s: %w", e.opts.Listen, err)
	}
	defer conn.Close()

	if e.opts.TOS > 0 {
		if err := ipv4.NewPacketConn(conn).SetTOS(e.opts.TOS); err != nil {
			log.Printf("[udp] set tos 0x%02X: %v", e.opts.TOS, err)
		}
	}

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	log.Printf("[udp] listening on %s", conn.LocalAddr())
	return e.Serve(ctx, conn)
}

// Serve runs the receive loop on an already open socket.
func (e *Endpoint) Serve(ctx context.Context, conn net.PacketConn) error {
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.conn = nil
		e.mu.Unlock()
	}()

	buf := make([]byte, 2048)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_ = conn.SetReadDeadline(time.Now().Add(e.opts.ReadPoll))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[udp] read: %v", err)
			time.Sleep(e.opts.ReadPoll)
			continue
		}
		e.Handle(ctx, buf[:n], addr)
	}
}

// Peers returns the broadcast targets seen so far.
func (e *Endpoint) Peers() []net.Addr { return e.peers.List() }

func (e *Endpoint) writer() PacketWriter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn
}

// Attach sets the writer without running the receive loop.
func (e *Endpoint) Attach(w PacketWriter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conn = w
}

func (e *Endpoint) send(p []byte, addr net.Addr) {
	w := e.writer()
	if w == nil {
		return
	}
	if _, err := w.WriteTo(p, addr); err != nil {
		log.Printf("[udp] send to %s: %v", addr, err)
	}
}
