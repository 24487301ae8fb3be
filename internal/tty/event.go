package tty

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrMalformed    = errors.New("malformed display event")
	ErrUnknownEvent = errors.New("unknown display event")
)

// Event is one inbound display event.
type Event interface{ eventType() string }

// ConfigRequest: {"type":"get","action":"config"}.
type ConfigRequest struct{}

// GetValue asks for the current value of Name.
type GetValue struct{ Name string }

// SetValue is the old direct-set path.
type SetValue struct {
	Name  string
	Value float64
}

// ButtonPress carries an operation for the core (Dest "uc") or for the
// gateway itself (Dest "linux").
type ButtonPress struct {
	Name  string
	Value float64
	Do    string
	Dest  string
}

// Response is the display acknowledging one of our writes.
type Response struct{ Type string }

func (ConfigRequest) eventType() string { return "get" }
func (GetValue) eventType() string      { return "get_value" }
func (SetValue) eventType() string      { return "set_value" }
func (ButtonPress) eventType() string   { return "button_press" }
func (r Response) eventType() string    { return r.Type }

const (
	DestUC    = "uc"
	DestLinux = "linux"
)

// number accepts JSON numbers, booleans and numeric strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch string(b) {
	case "true":
		*n = 1
		return nil
	case "false", "null":
		*n = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("value %q is not a number", s)
		}
		*n = number(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type wireEvent struct {
	Type    string `json:"type"`
	Action  string `json:"action"`
	Name    string `json:"name"`
	Value   number `json:"value"`
	Do      string `json:"do"`
	Dest    string `json:"dest"`
	Src     string `json:"src"`
	Message string `json:"message"`
	Stage   string `json:"stage"`
	Code    string `json:"code"` // в ответах дисплея: "ok" или "fail_not_found"
}

// Decode parses one line. Both {"display_event":{...}} and a bare event
// object are accepted; unknown fields and unknown types are rejected.
func Decode(line []byte) (Event, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(line, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	inner := json.RawMessage(line)
	if ev, ok := outer["display_event"]; ok {
		if len(outer) != 1 {
			return nil, fmt.Errorf("%w: unexpected keys next to display_event", ErrMalformed)
		}
		inner = ev
	}

	var w wireEvent
	dec := json.NewDecoder(bytes.NewReader(inner))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	name := w.Name
	if name == "" {
		name = w.Action
	}

	switch w.Type {
	case "get":
		if w.Action != "config" {
			return nil, fmt.Errorf("%w: get %q", ErrUnknownEvent, w.Action)
		}
		return ConfigRequest{}, nil
	case "get_value":
		if name == "" {
			return nil, fmt.Errorf("%w: get_value without name", ErrMalformed)
		}
		return GetValue{Name: name}, nil
	case "set_value":
		if name == "" {
			return nil, fmt.Errorf("%w: set_value without name", ErrMalformed)
		}
		return SetValue{Name: name, Value: float64(w.Value)}, nil
	case "button_press":
		if name == "" {
			return nil, fmt.Errorf("%w: button_press without name", ErrMalformed)
		}
		b := ButtonPress{Name: name, Value: float64(w.Value), Do: w.Do, Dest: w.Dest}
		if b.Do == "" {
			b.Do = "set"
		}
		if b.Dest == "" {
			b.Dest = DestLinux
		}
		return b, nil
	case "set_value_response", "get_value_response":
		return Response{Type: w.Type}, nil
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnknownEvent, w.Type)
}
