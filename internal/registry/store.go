package registry

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/sasha-s/go-deadlock"

	"portenta-bridge/internal/gate"
)

var ErrOutOfRange = errors.New("value out of range")

// Change is emitted to every sink after a committed mutation.
type Change struct {
	Name       string
	ID         byte
	Registered bool
	Prev       float64
	Value      float64
	Source     gate.Source
}

// Sink receives changes. Publish is called with the store lock held and
// must not call back into the store.
type Sink interface {
	Publish(Change)
}

// Mirror pushes a Linux-originated change to the core. It is called with
// the store lock held: store lock first, RPC lock second, never the reverse.
type Mirror interface {
	Mirror(name string, value any) error
}

// Request is one gated read or mutation.
type Request struct {
	Name    string
	Op      gate.Op
	Operand float64
	Source  gate.Source
	// Forward pushes the result to the core whatever the signal's class.
	Forward bool
}

// Value is one snapshot entry.
type Value struct {
	Name       string
	ID         byte
	Registered bool
	Value      float64
}

type entry struct {
	desc  Descriptor
	value float64
}

type Store struct {
	mu      deadlock.Mutex
	typed   map[string]*entry
	generic map[string]float64
	mode    gate.Mode
	mirror  Mirror
	sinks   []Sink
}

// NewStore creates an entry for every registered signal. mirror may be nil.
func NewStore(mode gate.Mode, mirror Mirror) *Store {
	s := &Store{
		typed:   make(map[string]*entry, len(table)),
		generic: make(map[string]float64, len(table)),
		mode:    mode,
		mirror:  mirror,
	}
	for _, d := range table {
		s.typed[d.Name] = &entry{desc: d}
		s.generic[d.Name] = 0
	}
	s.typed[Version].value = float64(VersionValue)
	s.generic[Version] = float64(VersionValue)
	if mode == gate.Remote {
		s.typed[ModeSet].value = 1
		s.generic[ModeSet] = 1
	}
	return s
}

func (s *Store) AddSink(k Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks = append(s.sinks, k)
}

func (s *Store) Mode() gate.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Get returns the current value; the version signal always reads as the constant.
func (s *Store) Get(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(name)
}

func (s *Store) get(name string) (float64, bool) {
	if name == Version {
		return float64(VersionValue), true
	}
	if e, ok := s.typed[name]; ok {
		return e.value, true
	}
	v, ok := s.generic[name]
	return v, ok
}

// Seed sets an initial value without gating or mirroring.
func (s *Store) Seed(name string, value float64) error {
	_, err := s.Apply(Request{Name: name, Op: gate.OpSet, Operand: value, Source: gate.SourceInit})
	return err
}

// Apply is the only mutation path. Gate decision, computation, clamping,
// mirroring and fan-out all happen inside one critical section.
func (s *Store) Apply(req Request) (Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Name == Version {
		v := float64(VersionValue)
		if req.Op.Mutates() {
			log.Printf("[store] %s is pinned, %s from %s ignored", Version, req.Op, req.Source)
		}
		d := byName[Version]
		return Change{Name: Version, ID: d.ID, Registered: true, Prev: v, Value: v, Source: req.Source}, nil
	}

	e, registered := s.typed[req.Name]
	target := gate.Target{Name: req.Name}
	if registered {
		target = e.desc.Target()
	} else if req.Source == gate.SourceUDP {
		return Change{}, fmt.Errorf("%w: %q", ErrUnknownSignal, req.Name)
	}

	if err := gate.Permit(s.mode, req.Source, req.Op, target); err != nil {
		return Change{}, err
	}

	cur, _ := s.get(req.Name)
	ch := Change{Name: req.Name, Registered: registered, Prev: cur, Value: cur, Source: req.Source}
	if registered {
		ch.ID = e.desc.ID
	}
	if !req.Op.Mutates() {
		return ch, nil
	}

	nv := gate.Apply(req.Op, cur, req.Operand)
	if math.IsNaN(nv) || math.IsInf(nv, 0) {
		return Change{}, fmt.Errorf("%w: %s %s %v", ErrOutOfRange, req.Name, req.Op, req.Operand)
	}
	if registered && e.desc.NonNegative && nv < 0 {
		nv = 0
	}

	if s.mirror != nil && req.Source != gate.SourceInit {
		if req.Forward || (registered && e.desc.Boolean && !req.Source.FromCore()) {
			if err := s.mirror.Mirror(req.Name, mirrorValue(e, nv)); err != nil {
				log.Printf("[store] mirror %s=%v to core failed: %v", req.Name, nv, err)
			}
		}
	}

	if registered {
		e.value = nv
	}
	s.generic[req.Name] = nv
	if req.Name == ModeSet {
		s.mode = gate.ModeFromValue(nv)
	}
	ch.Value = nv
	log.Printf("[store] %s updated %q: prev=%g delta=%g new=%g", req.Source, req.Name, cur, nv-cur, nv)

	for _, k := range s.sinks {
		k.Publish(ch)
	}
	return ch, nil
}

func mirrorValue(e *entry, v float64) any {
	if e != nil && e.desc.Boolean {
		return int(v)
	}
	return v
}

// Snapshot returns registered signals in table order, then generic values by name.
func (s *Store) Snapshot() []Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Value, 0, len(s.generic))
	for _, d := range table {
		v, _ := s.get(d.Name)
		out = append(out, Value{Name: d.Name, ID: d.ID, Registered: true, Value: v})
	}
	extra := make([]string, 0)
	for name := range s.generic {
		if _, ok := s.typed[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, Value{Name: name, Value: s.generic[name]})
	}
	return out
}

// Values reads several names under one lock; missing names read as zero.
func (s *Store) Values(names ...string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(names))
	for _, n := range names {
		out[n], _ = s.get(n)
	}
	return out
}

// LogAll prints every value, used once at startup.
func (s *Store) LogAll() {
	for _, v := range s.Snapshot() {
		log.Printf("[init] set %s = %g", v.Name, v.Value)
	}
}
