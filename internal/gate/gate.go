// Package gate decides which endpoint may change which signal.
package gate

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNotAllowed = errors.New("not allowed")

type Mode uint8

const (
	Local Mode = iota
	Remote
)

func (m Mode) String() string {
	if m == Remote {
		return "remote"
	}
	return "local"
}

// ParseMode понимает "local"/"remote" без учёта регистра, всё остальное считается local.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), "remote") {
		return Remote
	}
	return Local
}

// ModeFromValue maps a numeric write to the mode signal onto a mode.
func ModeFromValue(v float64) Mode {
	if v >= 0.5 {
		return Remote
	}
	return Local
}

// Source identifies where a change came from.
type Source uint8

const (
	SourceInit    Source = iota
	SourceUDP            // remote UDP peer
	SourceDisplay        // display touch UI, value stays on Linux
	SourceUC             // display event already forwarded to the core
	SourceRPC            // core telemetry read by the poll path
	SourceLinux          // Linux-side arithmetic requested by the display
)

var sourceNames = [...]string{"init", "udp", "giga", "uc", "rpc", "linux"}

func (s Source) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", s)
}

// FromCore reports whether the change already reflects the core's state,
// in which case it must never be mirrored back.
func (s Source) FromCore() bool {
	return s == SourceRPC || s == SourceUC
}

// Interactive reports whether the source is the display touch UI.
func (s Source) Interactive() bool {
	return s == SourceDisplay || s == SourceUC || s == SourceLinux
}

type Op uint8

const (
	OpGet Op = iota
	OpSet
	OpAdd
	OpSubtract
	OpMultiply
	OpToggle
)

var opNames = [...]string{"get", "set", "add", "subtract", "mult", "toggle"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// ParseOp maps the display's "do" field; unknown words mean set.
func ParseOp(s string) Op {
	for i, n := range opNames {
		if n == s {
			return Op(i)
		}
	}
	return OpSet
}

func (o Op) Mutates() bool { return o != OpGet }

// Target describes the signal a request addresses.
type Target struct {
	Name      string
	CoreOwned bool
	IsMode    bool
}

// Permit returns nil when src may apply op to t under mode, otherwise an
// error wrapping ErrNotAllowed with the reason.
func Permit(mode Mode, src Source, op Op, t Target) error {
	if !op.Mutates() {
		return nil
	}
	if src == SourceUDP && t.CoreOwned {
		return fmt.Errorf("%w: %s is owned by the core", ErrNotAllowed, t.Name)
	}
	if t.IsMode {
		return nil
	}
	if mode == Local && src == SourceUDP {
		return fmt.Errorf("%w: %s: udp writes disabled in local mode", ErrNotAllowed, t.Name)
	}
	if mode == Remote && src.Interactive() {
		return fmt.Errorf("%w: %s: display input ignored in remote mode", ErrNotAllowed, t.Name)
	}
	return nil
}

// Apply computes the result of op on current with operand.
func Apply(op Op, current, operand float64) float64 {
	switch op {
	case OpGet:
		return current
	case OpAdd:
		return current + operand
	case OpSubtract:
		return current - operand
	case OpMultiply:
		if operand == -1 && (current == 0 || current == 1) {
			return toggle(current)
		}
		return current * operand
	case OpToggle:
		return toggle(current)
	default:
		return operand
	}
}

func toggle(v float64) float64 {
	if v != 0 {
		return 0
	}
	return 1
}
