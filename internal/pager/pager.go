// Package pager splits JSON documents too large for one datagram into
// signed CONFIG pages and puts them back together.
package pager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"portenta-bridge/internal/protocol"
)

// ChunkSize is the number of characters of the document carried per page.
const ChunkSize = 800

var (
	ErrIncomplete   = errors.New("config transfer incomplete")
	ErrInconsistent = errors.New("inconsistent config page")
)

// Split cuts doc into pages of at most size characters. An empty document
// still yields one empty page so the receiver can complete.
func Split(doc string, size int) []protocol.ConfigPage {
	if size <= 0 {
		size = ChunkSize
	}
	runes := []rune(doc)
	total := max(1, (len(runes)+size-1)/size)
	pages := make([]protocol.ConfigPage, 0, total)
	for i := 0; i < total; i++ {
		end := min((i+1)*size, len(runes))
		pages = append(pages, protocol.ConfigPage{
			Page:       i + 1,
			TotalPages: total,
			Len:        len(runes),
			Data:       string(runes[i*size : end]),
		})
	}
	return pages
}

// Packets splits doc and encodes every page as a signed CONFIG envelope.
func Packets(k protocol.Key, doc string, size int) ([][]byte, error) {
	pages := Split(doc, size)
	out := make([][]byte, 0, len(pages))
	for _, p := range pages {
		b, err := protocol.EncodeEnvelope(k, p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Sender is the part of net.PacketConn the pager writes through.
type Sender interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// Send writes packets to addr, pausing delay between them so a slow
// receiver's socket buffer is not overrun.
func Send(ctx context.Context, w Sender, addr net.Addr, packets [][]byte, delay time.Duration) error {
	for i, p := range packets {
		if _, err := w.WriteTo(p, addr); err != nil {
			return fmt.Errorf("page %d/%d to %s: %w", i+1, len(packets), addr, err)
		}
		if delay > 0 && i < len(packets)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}

// Collector accumulates pages in any order.
type Collector struct {
	total int
	size  int
	pages map[int]string
}

func NewCollector() *Collector {
	return &Collector{pages: map[int]string{}}
}

// Add records a page and reports whether every page has arrived.
func (c *Collector) Add(p protocol.ConfigPage) (bool, error) {
	if p.TotalPages <= 0 || p.Page < 1 || p.Page > p.TotalPages {
		return false, fmt.Errorf("%w: page %d of %d", ErrInconsistent, p.Page, p.TotalPages)
	}
	if c.total == 0 {
		c.total, c.size = p.TotalPages, p.Len
	} else if c.total != p.TotalPages || c.size != p.Len {
		return false, fmt.Errorf("%w: page %d says %d pages/%d chars, expected %d/%d",
			ErrInconsistent, p.Page, p.TotalPages, p.Len, c.total, c.size)
	}
	c.pages[p.Page] = p.Data
	return c.Done(), nil
}

func (c *Collector) Done() bool {
	return c.total > 0 && len(c.pages) == c.total
}

// Document concatenates pages strictly by index. It fails unless every
// page 1..total has been received.
func (c *Collector) Document() (string, error) {
	if !c.Done() {
		return "", fmt.Errorf("%w: have %d of %d pages", ErrIncomplete, len(c.pages), c.total)
	}
	var b strings.Builder
	for i := 1; i <= c.total; i++ {
		b.WriteString(c.pages[i])
	}
	doc := b.String()
	if n := utf8.RuneCountInString(doc); n != c.size {
		return "", fmt.Errorf("%w: got %d chars, header says %d", ErrInconsistent, n, c.size)
	}
	return doc, nil
}

// Reassemble is the one-shot form of Collector.
func Reassemble(pages []protocol.ConfigPage) (string, error) {
	c := NewCollector()
	for _, p := range pages {
		if _, err := c.Add(p); err != nil {
			return "", err
		}
	}
	return c.Document()
}

// Receiver is the part of net.PacketConn Receive reads from.
type Receiver interface {
	ReadFrom(p []byte) (int, net.Addr, error)
	SetReadDeadline(t time.Time) error
}

// Receive reads CONFIG envelopes from conn until the document is complete or
// timeout elapses. Other datagrams are skipped. A partial transfer returns
// ErrIncomplete, never a partial document.
func Receive(ctx context.Context, conn Receiver, k protocol.Key, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	c := NewCollector()
	buf := make([]byte, 8192)

	for !c.Done() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !time.Now().Before(deadline) {
			return c.Document()
		}
		_ = conn.SetReadDeadline(minTime(deadline, time.Now().Add(500*time.Millisecond)))
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return "", err
		}
		msg, err := protocol.DecodeEnvelope(k, buf[:n])
		if err != nil {
			continue
		}
		page, ok := msg.(protocol.ConfigPage)
		if !ok {
			continue
		}
		if _, err := c.Add(page); err != nil {
			return "", err
		}
	}
	return c.Document()
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
