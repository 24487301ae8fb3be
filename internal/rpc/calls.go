package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"
)

const (
	mask19     = 1<<19 - 1
	currShift  = 19
	enableBit  = 38
	pollScale  = 100.0
	verifyWait = 300 * time.Millisecond
)

// PollData is the telemetry triple packed into one get_poll_data reply.
type PollData struct {
	Voltage float64
	Current float64
	Enabled bool
}

// DecodePoll unpacks two 19-bit fields at 1/100 resolution and one flag bit
// at offset 38.
func DecodePoll(packed uint64) PollData {
	return PollData{
		Voltage: round2(float64(packed&mask19) / pollScale),
		Current: round2(float64((packed>>currShift)&mask19) / pollScale),
		Enabled: (packed>>enableBit)&1 == 1,
	}
}

// EncodePoll is the inverse of DecodePoll, used by emulators and tests.
func EncodePoll(p PollData) uint64 {
	v := uint64(math.Round(p.Voltage*pollScale)) & mask19
	c := uint64(math.Round(p.Current*pollScale)) & mask19
	var e uint64
	if p.Enabled {
		e = 1
	}
	return v | c<<currShift | e<<enableBit
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Poll fetches the packed telemetry triple.
func (b *Bridge) Poll(ctx context.Context, opts Options) (PollData, error) {
	res, err := b.CallOpts(ctx, opts, FnPollData)
	if err != nil {
		return PollData{}, err
	}
	return DecodePoll(res.(uint64)), nil
}

func (b *Bridge) SyncCompleted(ctx context.Context) (bool, error) {
	res, err := b.Call(ctx, FnSyncCompleted)
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

type eventPayload struct {
	DisplayEvent struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	} `json:"display_event"`
}

// ForwardEvent hands a value change to the core's event handler.
func (b *Bridge) ForwardEvent(ctx context.Context, name string, value any) error {
	var p eventPayload
	p.DisplayEvent.Name = name
	p.DisplayEvent.Value = value
	js, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("forward %s: %w", name, err)
	}
	_, err = b.Call(ctx, FnProcessEvent, string(js))
	return err
}

// Mirror satisfies registry.Mirror.
func (b *Bridge) Mirror(name string, value any) error {
	return b.ForwardEvent(context.Background(), name, value)
}

// TruthTable is the reduced state pushed to a core that lost its state.
type TruthTable struct {
	VoltSet      float64 `json:"volt_set"`
	CurrSet      float64 `json:"curr_set"`
	ExtEnable    bool    `json:"ext_enable"`
	WarnLamp     bool    `json:"warn_lamp"`
	ChargerRelay bool    `json:"charger_relay"`
	DumpRelay    bool    `json:"dump_relay"`
	DumpFan      bool    `json:"dump_fan"`
}

func (b *Bridge) PushTruthTable(ctx context.Context, t TruthTable) error {
	js, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("truth table: %w", err)
	}
	log.Printf("[sync] sending truth table to core: %s", js)
	_, err = b.Call(ctx, FnSetTruthTable, string(js))
	return err
}

// VerifyBindings calls every known procedure once and logs a PASS/FAIL
// table. None of the calls change core state.
func (b *Bridge) VerifyBindings(ctx context.Context, t TruthTable) int {
	truth, _ := json.Marshal(t)
	noop := `{"display_event":{"name":"noop","value":0}}`
	checks := []struct {
		fn   string
		args []any
	}{
		{FnPollData, nil},
		{FnSyncCompleted, nil},
		{FnProcessEvent, []any{noop}},
		{FnSetTruthTable, []any{string(truth)}},
		{FnVoltAct, nil},
		{FnCurrAct, nil},
		{FnExtEnable, nil},
		{FnIGBTFault, nil},
	}

	log.Printf("[init][rpc] binding check:")
	passed := 0
	for _, c := range checks {
		status := "FAIL"
		if _, err := b.CallOpts(ctx, Options{Retries: 1, Timeout: verifyWait}, c.fn, c.args...); err == nil {
			status = "PASS"
			passed++
		}
		log.Printf("[init][rpc]   %-20s %s", c.fn, status)
	}
	log.Printf("[init][rpc] summary: %d/%d passed", passed, len(checks))
	return passed
}
