package udp

import (
	"context"
	"errors"
	"log"
	"net"

	"portenta-bridge/internal/gate"
	"portenta-bridge/internal/pager"
	"portenta-bridge/internal/protocol"
	"portenta-bridge/internal/registry"
)

// Handle processes one datagram from addr. Only exact value-frame sized
// datagrams are dispatched; anything else is ignored.
func (e *Endpoint) Handle(ctx context.Context, pkt []byte, addr net.Addr) {
	if e.peers.Touch(addr) {
		log.Printf("[udp] new peer %s (%d known)", addr, e.peers.Len())
	}
	if len(pkt) != protocol.FrameSize {
		return
	}

	f, err := protocol.DecodeFrame(e.key, pkt)
	if errors.Is(err, protocol.ErrBadSignature) {
		if protocol.IsCommand(f.Type) {
			log.Printf("[udp] bad signature from %s: %s", addr, f)
			e.reply(f.Reply(protocol.AckErrSign), addr)
		}
		return
	}
	if err != nil {
		return
	}

	switch f.Kind() {
	case protocol.KindConfigRequest:
		e.handleConfigRequest(ctx, f, addr)
	case protocol.KindAck:
		log.Printf("[udp] ack from %s ignored: %s", addr, f)
	case protocol.KindCommand:
		e.handleCommand(f, addr)
	default:
		log.Printf("[udp] unknown type from %s ignored: %s", addr, f)
	}
}

func (e *Endpoint) handleConfigRequest(ctx context.Context, f protocol.Frame, addr net.Addr) {
	if e.layout == nil {
		e.reply(f.Reply(protocol.AckErrNotReady), addr)
		return
	}
	doc, err := e.layout()
	if err != nil {
		log.Printf("[udp] config for %s not available: %v", addr, err)
		e.reply(f.Reply(protocol.AckErrNotReady), addr)
		return
	}
	packets, err := pager.Packets(e.key, string(doc), pager.ChunkSize)
	if err != nil {
		log.Printf("[udp] config pages: %v", err)
		e.reply(f.Reply(protocol.AckErrNotReady), addr)
		return
	}
	w := e.writer()
	if w == nil {
		return
	}
	log.Printf("[udp] sending config to %s: %d pages", addr, len(packets))
	if err := pager.Send(ctx, w, addr, packets, e.opts.PageDelay); err != nil {
		log.Printf("[udp] config to %s: %v", addr, err)
	}
}

func (e *Endpoint) handleCommand(f protocol.Frame, addr net.Addr) {
	d, ok := registry.ByID(f.SignalID)
	if !ok {
		log.Printf("[udp] unknown signal from %s: %s", addr, f)
		e.reply(f.Reply(protocol.AckErrUnknown), addr)
		return
	}

	if f.Type == protocol.OpGet {
		v, _ := e.store.Get(d.Name)
		e.reply(f.ReplyValue(protocol.AckOK, v), addr)
		return
	}

	req := registry.Request{Name: d.Name, Op: opFor(f.Type, d), Operand: f.Value(), Source: gate.SourceUDP}
	ch, err := e.store.Apply(req)
	switch {
	case err == nil:
		e.reply(f.ReplyValue(protocol.AckOK, ch.Value), addr)
	case errors.Is(err, gate.ErrNotAllowed):
		log.Printf("[udp] %s from %s rejected: %v", req.Op, addr, err)
		e.reply(f.Reply(protocol.AckErrNotAllowed), addr)
	case errors.Is(err, registry.ErrOutOfRange):
		log.Printf("[udp] %s from %s: %v", req.Op, addr, err)
		e.reply(f.Reply(protocol.AckErrOutOfRange), addr)
	case errors.Is(err, registry.ErrUnknownSignal):
		e.reply(f.Reply(protocol.AckErrUnknown), addr)
	default:
		log.Printf("[udp] %s from %s: %v", req.Op, addr, err)
		e.reply(f.Reply(protocol.AckErrNotReady), addr)
	}
}

// opFor maps a frame operation onto a store operation. SET on a boolean
// signal flips it whatever the operand.
func opFor(typ byte, d registry.Descriptor) gate.Op {
	switch typ {
	case protocol.OpAdd:
		return gate.OpAdd
	case protocol.OpMultiply:
		return gate.OpMultiply
	case protocol.OpGet:
		return gate.OpGet
	}
	if d.Boolean {
		return gate.OpToggle
	}
	return gate.OpSet
}

func (e *Endpoint) reply(f protocol.Frame, addr net.Addr) {
	e.send(f.Encode(e.key), addr)
}
