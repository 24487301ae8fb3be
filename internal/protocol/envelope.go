package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is one JSON envelope body variant.
type Message interface {
	Command() byte
}

type SetCommand struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type GetCommand struct {
	Name string `json:"name"`
}

type ConfigRequestCommand struct{}

// Ack covers ACK_OK, ACK_ERROR and ACK_ERROR_SIGN; Code selects which.
type Ack struct {
	Code  byte    `json:"-"`
	Name  string  `json:"name,omitempty"`
	Value float64 `json:"value,omitempty"`
	Error string  `json:"error,omitempty"`
}

// ConfigPage is one chunk of a paged JSON document.
type ConfigPage struct {
	Page       int    `json:"page"`
	TotalPages int    `json:"total_pages"`
	Len        int    `json:"len"`
	Flags      int    `json:"flags"`
	Data       string `json:"data"`
}

func (SetCommand) Command() byte           { return CmdSet }
func (GetCommand) Command() byte           { return CmdGet }
func (ConfigRequestCommand) Command() byte { return CmdConfigRequest }
func (a Ack) Command() byte                { return a.Code }
func (ConfigPage) Command() byte           { return CmdConfig }

// EncodeEnvelope returns sign(4) | cmd(1) | json.
func EncodeEnvelope(k Key, m Message) ([]byte, error) {
	cmd := m.Command()
	if !knownCommand(cmd) {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, cmd)
	}
	js, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode envelope 0x%02X: %w", cmd, err)
	}
	body := make([]byte, 0, 1+len(js))
	body = append(body, cmd)
	body = append(body, js...)
	sig := k.envelopeSig(body)
	return append(sig[:], body...), nil
}

// DecodeEnvelope verifies and decodes pkt into its variant. Unknown
// command codes and bodies with unexpected fields are rejected.
func DecodeEnvelope(k Key, pkt []byte) (Message, error) {
	if len(pkt) < sigLen+1 {
		return nil, fmt.Errorf("%w: %d", ErrFrameLength, len(pkt))
	}
	sig, body := pkt[:sigLen], pkt[sigLen:]
	want := k.envelopeSig(body)
	if !sigEqual(want[:], sig) {
		return nil, ErrBadSignature
	}

	cmd, js := body[0], body[1:]
	switch cmd {
	case CmdSet:
		var m SetCommand
		if err := decodeStrict(js, &m); err != nil {
			return nil, err
		}
		return m, nil
	case CmdGet:
		var m GetCommand
		if err := decodeStrict(js, &m); err != nil {
			return nil, err
		}
		return m, nil
	case CmdConfigRequest:
		var m ConfigRequestCommand
		if err := decodeStrict(js, &m); err != nil {
			return nil, err
		}
		return m, nil
	case CmdAckOK, CmdAckError, CmdAckErrorSign:
		m := Ack{Code: cmd}
		if err := decodeStrict(js, &m); err != nil {
			return nil, err
		}
		return m, nil
	case CmdConfig:
		var m ConfigPage
		if err := decodeStrict(js, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownCommand, cmd)
}

func decodeStrict(js []byte, v any) error {
	if len(bytes.TrimSpace(js)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrMalformedBody)
	}
	return nil
}

func knownCommand(c byte) bool {
	switch c {
	case CmdSet, CmdGet, CmdConfigRequest, CmdAckOK, CmdAckError, CmdAckErrorSign, CmdConfig:
		return true
	}
	return false
}
