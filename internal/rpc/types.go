package rpc

import "fmt"

// Remote procedure names bound on the core.
const (
	FnPollData      = "get_poll_data"
	FnSyncCompleted = "has_sync_completed"
	FnProcessEvent  = "process_event_in_uc"
	FnSetTruthTable = "set_truth_table"
	FnVoltAct       = "volt_act"
	FnCurrAct       = "curr_act"
	FnExtEnable     = "ext_enable"
	FnIGBTFault     = "igbt_fault"
)

type kind uint8

const (
	kindAny kind = iota
	kindNumber
	kindBool
	kindInt
	kindIntOrNil
)

var expected = map[string]kind{
	FnVoltAct:       kindNumber,
	FnCurrAct:       kindNumber,
	FnExtEnable:     kindBool,
	FnIGBTFault:     kindBool,
	FnSyncCompleted: kindBool,
	FnProcessEvent:  kindIntOrNil,
	FnPollData:      kindInt,
}

// coerce checks res against the expectation for fn and normalises it:
// numbers become float64, booleans bool, integers uint64.
func coerce(fn string, res any) (any, error) {
	switch expected[fn] {
	case kindNumber:
		if f, ok := asFloat(res); ok {
			return f, nil
		}
	case kindBool:
		switch v := res.(type) {
		case bool:
			return v, nil
		case int:
			return v != 0, nil
		case int64:
			return v != 0, nil
		case uint64:
			return v != 0, nil
		}
	case kindInt:
		switch v := res.(type) {
		case int:
			if v >= 0 {
				return uint64(v), nil
			}
		case int64:
			if v >= 0 {
				return uint64(v), nil
			}
		case uint64:
			return v, nil
		}
	case kindIntOrNil:
		switch res.(type) {
		case nil, int, int64, uint64:
			return res, nil
		}
	default:
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s returned %T (%v)", ErrTypeMismatch, fn, res, res)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
