package registry

import (
	"errors"
	"fmt"

	"portenta-bridge/internal/gate"
)

var ErrUnknownSignal = errors.New("unknown signal")

// Имена сигналов, которые используются в коде напрямую.
const (
	Version      = "SW_GET_VERSION"
	ModeSet      = "mode_set"
	VoltSet      = "volt_set"
	CurrSet      = "curr_set"
	VoltAct      = "volt_act"
	CurrAct      = "curr_act"
	IGBTFault    = "igbt_fault"
	ExtEnable    = "ext_enable"
	ChargerRelay = "charger_relay"
	DumpRelay    = "dump_relay"
	DumpFan      = "dump_fan"
	WarnLamp     = "warn_lamp"
	SCRTrig      = "scr_trig"
)

// VersionValue is "WE" + version 03 + interface 01.
const VersionValue uint32 = 0x57450301

// Class is the ownership class of a signal.
type Class uint8

const (
	Free Class = iota
	Toggle
	CoreOwned
)

func (c Class) String() string {
	switch c {
	case Toggle:
		return "toggle"
	case CoreOwned:
		return "core"
	default:
		return "free"
	}
}

type Descriptor struct {
	Name        string
	ID          byte
	Boolean     bool
	Class       Class
	NonNegative bool
}

// Target returns the gate view of the descriptor.
func (d Descriptor) Target() gate.Target {
	return gate.Target{Name: d.Name, CoreOwned: d.Class == CoreOwned, IsMode: d.Name == ModeSet}
}

var table = []Descriptor{
	{Name: Version, ID: 0x01},
	{Name: ModeSet, ID: 0x02},
	{Name: VoltSet, ID: 0x04, NonNegative: true},
	{Name: CurrSet, ID: 0x05, NonNegative: true},
	{Name: VoltAct, ID: 0x06, Class: CoreOwned},
	{Name: CurrAct, ID: 0x07, Class: CoreOwned},
	{Name: IGBTFault, ID: 0x08, Class: CoreOwned},
	{Name: ExtEnable, ID: 0x09, Boolean: true, Class: CoreOwned},
	{Name: ChargerRelay, ID: 0x0A, Boolean: true, Class: Toggle},
	{Name: DumpRelay, ID: 0x0B, Boolean: true, Class: Toggle},
	{Name: DumpFan, ID: 0x0C, Boolean: true, Class: Toggle},
	{Name: WarnLamp, ID: 0x0D, Boolean: true, Class: Toggle, NonNegative: true},
	{Name: SCRTrig, ID: 0x0E, Boolean: true, Class: Toggle},
	{Name: "meas_voltage_pwm", ID: 0x0F},
	{Name: "meas_current_pwm", ID: 0x10},
}

var (
	byName = make(map[string]Descriptor, len(table))
	byID   = make(map[byte]Descriptor, len(table))
)

func init() {
	for _, d := range table {
		if _, dup := byName[d.Name]; dup {
			panic(fmt.Sprintf("registry: duplicate name %q", d.Name))
		}
		if _, dup := byID[d.ID]; dup {
			panic(fmt.Sprintf("registry: duplicate id 0x%02X", d.ID))
		}
		byName[d.Name] = d
		byID[d.ID] = d
	}
}

func ByName(name string) (Descriptor, bool) {
	d, ok := byName[name]
	return d, ok
}

func ByID(id byte) (Descriptor, bool) {
	d, ok := byID[id]
	return d, ok
}

// All returns the descriptors in table order.
func All() []Descriptor {
	out := make([]Descriptor, len(table))
	copy(out, table)
	return out
}

// ClassOf returns the ownership class of any name, registered or not.
func ClassOf(name string) Class {
	if d, ok := byName[name]; ok {
		return d.Class
	}
	return Free
}

// VersionString renders the version constant, e.g. "WE0301".
func VersionString(v uint32) string {
	return fmt.Sprintf("%c%c%02d%02d", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
