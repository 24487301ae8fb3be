package udp

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"

	"portenta-bridge/internal/events"
	"portenta-bridge/internal/gate"
	"portenta-bridge/internal/hub"
	"portenta-bridge/internal/pager"
	"portenta-bridge/internal/protocol"
	"portenta-bridge/internal/registry"
)

type sent struct {
	b    []byte
	addr net.Addr
}

type fakeWriter struct {
	mu  sync.Mutex
	out []sent
}

func (w *fakeWriter) WriteTo(p []byte, addr net.Addr) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := make([]byte, len(p))
	copy(b, p)
	w.out = append(w.out, sent{b: b, addr: addr})
	return len(p), nil
}

func (w *fakeWriter) take() []sent {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.out
	w.out = nil
	return out
}

var client = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 40000}

func newTestEndpoint(mode gate.Mode, layout LayoutFunc) (*Endpoint, *registry.Store, *fakeWriter) {
	st := registry.NewStore(mode, nil)
	ep := New(Options{}, protocol.DefaultKey(), st, hub.New(), layout)
	w := &fakeWriter{}
	ep.Attach(w)
	return ep, st, w
}

func command(t *testing.T, name string, typ byte, v float64) []byte {
	t.Helper()
	d, ok := registry.ByName(name)
	if !ok {
		t.Fatalf("no signal %q", name)
	}
	return protocol.NewValueFrame(protocol.NewTxID(), d.ID, typ, v).Encode(protocol.DefaultKey())
}

func exchange(t *testing.T, ep *Endpoint, w *fakeWriter, pkt []byte) protocol.Frame {
	t.Helper()
	ep.Handle(context.Background(), pkt, client)
	out := w.take()
	if len(out) != 1 {
		t.Fatalf("replies = %d, want 1", len(out))
	}
	f, err := protocol.DecodeFrame(protocol.DefaultKey(), out[0].b)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if out[0].addr.String() != client.String() {
		t.Errorf("reply to %s, want %s", out[0].addr, client)
	}
	return f
}

func TestLocalModeRejectsUDPWrites(t *testing.T) {
	ep, st, w := newTestEndpoint(gate.Local, nil)

	r := exchange(t, ep, w, command(t, registry.VoltSet, protocol.OpSet, 12))
	if r.Type != protocol.AckErrNotAllowed {
		t.Fatalf("ack = 0x%02X, want not-allowed", r.Type)
	}
	if v, _ := st.Get(registry.VoltSet); v != 0 {
		t.Errorf("volt_set = %g, want unchanged 0", v)
	}

	r = exchange(t, ep, w, command(t, registry.ModeSet, protocol.OpSet, 1))
	if r.Type != protocol.AckOK || r.Value() != 1 {
		t.Fatalf("mode_set reply = %s", r)
	}
	if st.Mode() != gate.Remote {
		t.Fatalf("mode = %s, want remote", st.Mode())
	}

	r = exchange(t, ep, w, command(t, registry.VoltSet, protocol.OpSet, 12))
	if r.Type != protocol.AckOK || r.Value() != 12 {
		t.Errorf("volt_set in remote = %s", r)
	}
}

func TestCoreOwnedNeverWrittenFromUDP(t *testing.T) {
	for _, mode := range []gate.Mode{gate.Local, gate.Remote} {
		ep, st, w := newTestEndpoint(mode, nil)
		for _, op := range []byte{protocol.OpSet, protocol.OpAdd, protocol.OpMultiply} {
			r := exchange(t, ep, w, command(t, registry.VoltAct, op, 3))
			if r.Type != protocol.AckErrNotAllowed {
				t.Errorf("%s op 0x%02X: ack 0x%02X, want not-allowed", mode, op, r.Type)
			}
		}
		if v, _ := st.Get(registry.VoltAct); v != 0 {
			t.Errorf("%s: volt_act = %g", mode, v)
		}
		r := exchange(t, ep, w, command(t, registry.VoltAct, protocol.OpGet, 0))
		if r.Type != protocol.AckOK {
			t.Errorf("%s: GET of core-owned signal = 0x%02X", mode, r.Type)
		}
	}
}

func TestBooleanSetAlternates(t *testing.T) {
	ep, st, w := newTestEndpoint(gate.Remote, nil)
	want := []float64{1, 0, 1, 0}
	for i, operand := range []float64{5, 0.25, 1, 42} {
		r := exchange(t, ep, w, command(t, registry.ChargerRelay, protocol.OpSet, operand))
		if r.Type != protocol.AckOK || r.Value() != want[i] {
			t.Fatalf("step %d: reply %s, want value %g", i, r, want[i])
		}
		if v, _ := st.Get(registry.ChargerRelay); v != want[i] {
			t.Fatalf("step %d: stored %g, want %g", i, v, want[i])
		}
	}
}

func TestNonNegativeClampedFromUDP(t *testing.T) {
	ep, st, w := newTestEndpoint(gate.Remote, nil)
	exchange(t, ep, w, command(t, registry.CurrSet, protocol.OpSet, 4))
	r := exchange(t, ep, w, command(t, registry.CurrSet, protocol.OpAdd, -10))
	if r.Value() != 0 {
		t.Errorf("reply value = %g, want 0", r.Value())
	}
	if v, _ := st.Get(registry.CurrSet); v != 0 {
		t.Errorf("curr_set = %g, want 0", v)
	}
}

func TestBadSignatureGetsSignAck(t *testing.T) {
	ep, st, w := newTestEndpoint(gate.Remote, nil)
	pkt := command(t, registry.VoltSet, protocol.OpSet, 9)
	pkt[13] ^= 0xFF

	ep.Handle(context.Background(), pkt, client)
	out := w.take()
	if len(out) != 1 {
		t.Fatalf("replies = %d", len(out))
	}
	r, err := protocol.DecodeFrame(protocol.DefaultKey(), out[0].b)
	if err != nil || r.Type != protocol.AckErrSign {
		t.Fatalf("reply = %s, %v; want sign error", r, err)
	}
	if v, _ := st.Get(registry.VoltSet); v != 0 {
		t.Errorf("store changed by unsigned frame: %g", v)
	}
}

func TestBadSignatureOnAckIsDropped(t *testing.T) {
	ep, _, w := newTestEndpoint(gate.Remote, nil)
	pkt := command(t, registry.VoltSet, protocol.AckOK, 9)
	pkt[10] ^= 0x01
	ep.Handle(context.Background(), pkt, client)
	if out := w.take(); len(out) != 0 {
		t.Errorf("replies = %d, want none", len(out))
	}
}

func TestVersionGetAndPinnedWrite(t *testing.T) {
	ep, _, w := newTestEndpoint(gate.Remote, nil)
	r := exchange(t, ep, w, command(t, registry.Version, protocol.OpGet, 0))
	if r.Type != protocol.AckOK || r.Uint32() != registry.VersionValue {
		t.Fatalf("version reply = %s", r)
	}
	r = exchange(t, ep, w, command(t, registry.Version, protocol.OpSet, 7))
	if r.Uint32() != registry.VersionValue {
		t.Errorf("version after write = 0x%08X", r.Uint32())
	}
}

func TestUnknownSignalID(t *testing.T) {
	ep, _, w := newTestEndpoint(gate.Remote, nil)
	pkt := protocol.NewValueFrame(protocol.NewTxID(), 0x7E, protocol.OpSet, 1).Encode(protocol.DefaultKey())
	r := exchange(t, ep, w, pkt)
	if r.Type != protocol.AckErrUnknown {
		t.Errorf("ack = 0x%02X, want unknown", r.Type)
	}
}

func TestInboundAckIgnored(t *testing.T) {
	ep, st, w := newTestEndpoint(gate.Remote, nil)
	ep.Handle(context.Background(), command(t, registry.VoltSet, protocol.AckOK, 30), client)
	if out := w.take(); len(out) != 0 {
		t.Errorf("replies = %d, want none", len(out))
	}
	if v, _ := st.Get(registry.VoltSet); v != 0 {
		t.Errorf("volt_set = %g", v)
	}
}

func TestOtherSizesOnlyRegisterPeer(t *testing.T) {
	ep, _, w := newTestEndpoint(gate.Remote, nil)
	ep.Handle(context.Background(), []byte("hello"), client)
	if out := w.take(); len(out) != 0 {
		t.Errorf("replies = %d, want none", len(out))
	}
	if got := ep.Peers(); len(got) != 1 || got[0].String() != client.String() {
		t.Errorf("peers = %v", got)
	}
}

func TestConfigRequestSendsPages(t *testing.T) {
	doc := `{"panels":[{"values":[{"name":"volt_set","default_value":` + strings.Repeat("1", 2000) + `}]}]}`
	ep, _, w := newTestEndpoint(gate.Local, func() ([]byte, error) { return []byte(doc), nil })

	// the sentinel is accepted whatever its signature bytes say
	pkt := protocol.ConfigRequest().Encode(protocol.DefaultKey())
	pkt[12] ^= 0x55
	ep.Handle(context.Background(), pkt, client)

	out := w.take()
	if len(out) != 3 {
		t.Fatalf("pages = %d, want 3", len(out))
	}
	var pages []protocol.ConfigPage
	for _, s := range out {
		m, err := protocol.DecodeEnvelope(protocol.DefaultKey(), s.b)
		if err != nil {
			t.Fatalf("decode page: %v", err)
		}
		pages = append(pages, m.(protocol.ConfigPage))
	}
	got, err := pager.Reassemble(pages)
	if err != nil {
		t.Fatalf("reassemble: %v", err)
	}
	if got != doc {
		t.Error("reassembled document differs")
	}
}

func TestConfigRequestWithoutLayout(t *testing.T) {
	ep, _, w := newTestEndpoint(gate.Local, func() ([]byte, error) { return nil, errors.New("no file") })
	r := exchange(t, ep, w, protocol.ConfigRequest().Encode(protocol.DefaultKey()))
	if r.Type != protocol.AckErrNotReady {
		t.Errorf("ack = 0x%02X, want not-ready", r.Type)
	}
}

func TestPublishAndBroadcastRegisteredOnly(t *testing.T) {
	ep, st, w := newTestEndpoint(gate.Remote, nil)
	other := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 51), Port: 40001}
	ep.Handle(context.Background(), []byte{0}, client)
	ep.Handle(context.Background(), []byte{0}, other)
	st.AddSink(ep)

	if err := st.Seed(registry.DumpFan, 1); err != nil {
		t.Fatal(err)
	}
	if err := st.Seed("panel_brightness", 3); err != nil {
		t.Fatal(err)
	}
	out := w.take()
	if len(out) != 2 {
		t.Fatalf("datagrams = %d, want one per peer", len(out))
	}
	d, _ := registry.ByName(registry.DumpFan)
	for _, s := range out {
		f, err := protocol.DecodeFrame(protocol.DefaultKey(), s.b)
		if err != nil || f.SignalID != d.ID || f.Type != protocol.AckOK || f.Value() != 1 {
			t.Errorf("broadcast %s, %v", f, err)
		}
	}

	ep.Broadcast(st.Snapshot())
	if got, want := len(w.take()), 2*len(registry.All()); got != want {
		t.Errorf("snapshot datagrams = %d, want %d", got, want)
	}
}

func TestLogForwarderSendsJSON(t *testing.T) {
	ep, _, w := newTestEndpoint(gate.Remote, nil)
	ep.Handle(context.Background(), []byte{0}, client)

	ring := events.NewRing(8)
	lf := NewLogForwarder(ep, ring, 0)
	ring.Push(events.Event{Topic: "log", Payload: []byte("[store] hello")})
	lf.Flush()
	lf.Flush()

	out := w.take()
	if len(out) != 1 {
		t.Fatalf("datagrams = %d, want 1", len(out))
	}
	s := string(out[0].b)
	for _, part := range []string{`"type":"log"`, `"message":"[store] hello"`, `"instance":"` + lf.Instance() + `"`} {
		if !strings.Contains(s, part) {
			t.Errorf("%s missing %s", s, part)
		}
	}
}
