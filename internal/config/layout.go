package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
)

var ErrNoDisplayConfig = errors.New("layout has no display_config")

// Poll describes one m4_data_polls entry. Only the fields the gateway
// reads are decoded.
type Poll struct {
	Func     string `json:"poll_rpc_func"`
	Template struct {
		DisplayEvent struct {
			Name string `json:"name"`
		} `json:"display_event"`
	} `json:"giga_json_template"`
}

// Target is the display value name the poll updates.
func (p Poll) Target() string { return p.Template.DisplayEvent.Name }

// Layout is the display layout file (config.json).
type Layout struct {
	DisplayConfig json.RawMessage `json:"display_config"`
	Polls         []Poll          `json:"m4_data_polls"`
	DefaultMode   string          `json:"default_mode"`
}

type panelValue struct {
	Name         string          `json:"name"`
	DefaultValue json.RawMessage `json:"default_value"`
}

type panels struct {
	Panels []struct {
		Values []panelValue `json:"values"`
	} `json:"panels"`
}

// Default is one value seeded into the store at startup.
type Default struct {
	Name  string
	Value float64
}

// LoadLayout читает файл раскладки дисплея. Отсутствие display_config не
// ошибка загрузки, это проверяет DisplayJSON.
func LoadLayout(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("layout %s: %w", path, err)
	}
	var l Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("layout %s: invalid json: %w", path, err)
	}
	if len(l.DisplayConfig) == 0 || bytes.Equal(bytes.TrimSpace(l.DisplayConfig), []byte("null")) {
		log.Printf("[cfg] layout %s: display_config section missing", path)
		l.DisplayConfig = nil
	}
	if l.Polls == nil {
		log.Printf("[cfg] layout %s: m4_data_polls section missing", path)
	}
	return &l, nil
}

// DisplayJSON returns the display_config section in compact form.
func (l *Layout) DisplayJSON() ([]byte, error) {
	if l == nil || l.DisplayConfig == nil {
		return nil, ErrNoDisplayConfig
	}
	var b bytes.Buffer
	if err := json.Compact(&b, l.DisplayConfig); err != nil {
		return nil, fmt.Errorf("display_config: %w", err)
	}
	return b.Bytes(), nil
}

// Defaults collects display_config.panels[].values[] defaults in file order.
// Values without a name are skipped; a missing default is zero.
func (l *Layout) Defaults() []Default {
	if l == nil || l.DisplayConfig == nil {
		return nil
	}
	var p panels
	if err := json.Unmarshal(l.DisplayConfig, &p); err != nil {
		log.Printf("[cfg] display_config panels: %v", err)
		return nil
	}
	var out []Default
	for _, panel := range p.Panels {
		for _, v := range panel.Values {
			if v.Name == "" {
				continue
			}
			out = append(out, Default{Name: v.Name, Value: defaultValue(v.DefaultValue)})
		}
	}
	return out
}

func defaultValue(raw json.RawMessage) float64 {
	s := string(bytes.TrimSpace(raw))
	switch s {
	case "", "null", "false":
		return 0
	case "true":
		return 1
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		if f, err := strconv.ParseFloat(str, 64); err == nil {
			return f
		}
	}
	return 0
}

// PollNameMap maps RPC function names to display names and logs every
// pair whose names differ.
func (l *Layout) PollNameMap() map[string]string {
	out := make(map[string]string)
	if l == nil {
		return out
	}
	log.Printf("[init] checking m4_data_polls name/func pairs")
	for _, p := range l.Polls {
		name := p.Target()
		log.Printf("[init]   func: %-16s -> name: %s", p.Func, name)
		if p.Func == "" || name == "" {
			continue
		}
		out[p.Func] = name
		if p.Func != name {
			log.Printf("[init] WARNING: rpc %q mapped to %q", p.Func, name)
		}
	}
	return out
}
