// Package tty is the display endpoint: line JSON over the UART to the
// touch display.
package tty

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"portenta-bridge/internal/config"
	"portenta-bridge/internal/gate"
	"portenta-bridge/internal/registry"
	"portenta-bridge/internal/telemetry"
)

// LayoutFunc returns the display_config section, loaded fresh on each call.
type LayoutFunc func() ([]byte, error)

// SampleSink receives decoded PID_LOG samples.
type SampleSink interface {
	Append(telemetry.Sample) error
}

type Options struct {
	ReadyDelay time.Duration
	// Now is the clock used for readiness; nil means time.Now.
	Now func() time.Time
}

type Display struct {
	w       io.Writer
	store   *registry.Store
	layout  LayoutFunc
	samples SampleSink
	delay   time.Duration
	now     func() time.Time

	wmu sync.Mutex

	rmu     sync.Mutex
	ready   bool
	readyAt time.Time

	lines chan string
}

func New(w io.Writer, store *registry.Store, layout LayoutFunc, samples SampleSink, opts Options) *Display {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Display{
		w:       w,
		store:   store,
		layout:  layout,
		samples: samples,
		delay:   opts.ReadyDelay,
		now:     opts.Now,
		lines:   make(chan string, 64),
	}
}

// Read feeds lines from r into the queue drained by Poll. It returns when
// r fails or ctx is done.
func (d *Display) Read(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 512)
	var pending []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n, err := r.Read(buf)
		pending = append(pending, buf[:n]...)
		for {
			i := indexNL(pending)
			if i < 0 {
				break
			}
			line := strings.TrimSpace(string(pending[:i]))
			pending = pending[i+1:]
			if line == "" {
				continue
			}
			select {
			case d.lines <- line:
			case <-ctx.Done():
				return nil
			}
		}
		if err == nil && n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			// таймаут чтения порта приходит как EOF
			if errors.Is(err, io.EOF) {
				if n == 0 {
					time.Sleep(10 * time.Millisecond)
				}
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func indexNL(b []byte) int {
	for i, c := range b {
		if c == '\n' {
			return i
		}
	}
	return -1
}

// Poll returns one pending line without blocking.
func (d *Display) Poll() (string, bool) {
	select {
	case l := <-d.lines:
		return l, true
	default:
		return "", false
	}
}

// Ready reports whether the display has had its config for longer than the
// grace delay.
func (d *Display) Ready() bool {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	return d.ready && !d.now().Before(d.readyAt)
}

func (d *Display) armReady() {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	d.ready = true
	d.readyAt = d.now().Add(d.delay)
}

type setValueEvent struct {
	Type  string  `json:"type"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Src   string  `json:"src"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type status struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

func (d *Display) write(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("[tty] encode: %v", err)
		return
	}
	b = append(b, '\n')
	d.wmu.Lock()
	defer d.wmu.Unlock()
	if _, err := d.w.Write(b); err != nil {
		log.Printf("[tty] write: %v", err)
	}
}

// writeEvent is skipped, not queued, while the display is not ready.
func (d *Display) writeEvent(ev any) bool {
	if !d.Ready() {
		return false
	}
	d.write(struct {
		DisplayEvent any `json:"display_event"`
	}{ev})
	return true
}

// SendValue pushes a set_value event.
func (d *Display) SendValue(name string, v float64, src string) bool {
	return d.writeEvent(setValueEvent{Type: "set_value", Name: name, Value: v, Src: src})
}

// SendError reports a problem to the display. It is sent whatever the
// readiness state.
func (d *Display) SendError(msg string) {
	d.write(struct {
		DisplayEvent errorEvent `json:"display_event"`
	}{errorEvent{Type: "error", Message: msg}})
}

func (d *Display) SendStatus(stage string) {
	d.write(struct {
		DisplayStatus status `json:"display_status"`
	}{status{Stage: stage}})
}

// SendConfig writes the display_config section and starts the grace delay.
func (d *Display) SendConfig(doc []byte) {
	d.write(struct {
		DisplayConfig json.RawMessage `json:"display_config"`
	}{json.RawMessage(doc)})
	d.armReady()
	log.Printf("[tty] display_config sent, updates start in %s", d.delay)
}

// Publish mirrors a store change onto the display.
func (d *Display) Publish(ch registry.Change) {
	d.SendValue(ch.Name, ch.Value, ch.Source.String())
}

// Broadcast pushes every value as if it came from the core.
func (d *Display) Broadcast(vs []registry.Value) {
	if !d.Ready() {
		return
	}
	for _, v := range vs {
		d.SendValue(v.Name, v.Value, gate.SourceUC.String())
	}
}

// Handle processes one line read from the display.
func (d *Display) Handle(line string) {
	if telemetry.IsTelemetry(line) {
		d.handleTelemetry(line)
		return
	}
	ev, err := Decode([]byte(line))
	if err != nil {
		log.Printf("[tty] dropped %q: %v", line, err)
		return
	}

	switch ev := ev.(type) {
	case ConfigRequest:
		d.handleConfigRequest()
	case GetValue:
		d.reply(ev.Name)
	case SetValue:
		log.Printf("[tty] display set %s = %g", ev.Name, ev.Value)
		d.apply(registry.Request{Name: ev.Name, Op: gate.OpSet, Operand: ev.Value, Source: gate.SourceDisplay})
	case ButtonPress:
		d.handleButton(ev)
	case Response:
		// ответы дисплея на наши записи не нужны
	}
}

func (d *Display) handleTelemetry(line string) {
	log.Printf("%s", line)
	s, err := telemetry.Parse(line)
	if err != nil {
		log.Printf("[tty] %v", err)
		return
	}
	if d.samples == nil {
		return
	}
	if err := d.samples.Append(s); err != nil {
		log.Printf("[tty] telemetry: %v", err)
	}
}

func (d *Display) handleConfigRequest() {
	log.Printf("[tty] display requested config")
	if d.layout == nil {
		d.SendError("Config file not found or unreadable")
		return
	}
	doc, err := d.layout()
	switch {
	case errors.Is(err, config.ErrNoDisplayConfig):
		d.SendError("Config invalid - missing display_config")
	case err != nil:
		log.Printf("[tty] config: %v", err)
		d.SendError("Config file not found or unreadable")
	default:
		d.SendConfig(doc)
	}
}

func (d *Display) reply(name string) {
	v, _ := d.store.Get(name)
	log.Printf("[tty] display asked for %s -> %g", name, v)
	d.SendValue(name, v, gate.SourceLinux.String())
}

func (d *Display) handleButton(b ButtonPress) {
	desc, _ := registry.ByName(b.Name)
	switch b.Dest {
	case DestUC:
		op := gate.ParseOp(b.Do)
		if b.Do == "toggle" || desc.Boolean {
			op = gate.OpToggle
		}
		if op == gate.OpGet {
			op = gate.OpSet
		}
		d.apply(registry.Request{Name: b.Name, Op: op, Operand: b.Value, Source: gate.SourceUC, Forward: true})
	case DestLinux:
		op := gate.ParseOp(b.Do)
		if b.Name == registry.Version || op == gate.OpGet {
			d.reply(b.Name)
			return
		}
		d.apply(registry.Request{Name: b.Name, Op: op, Operand: b.Value, Source: gate.SourceLinux})
	default:
		log.Printf("[tty] unknown destination %q for %s", b.Dest, b.Name)
	}
}

// apply drops denied requests; the display has no acknowledgment channel.
func (d *Display) apply(req registry.Request) {
	ch, err := d.store.Apply(req)
	if err != nil {
		log.Printf("[tty] %s %s from %s ignored: %v", req.Op, req.Name, req.Source, err)
		return
	}
	log.Printf("[tty] applied %s on %q: %g -> %g", req.Op, req.Name, ch.Prev, ch.Value)
}
