// Package telemetry handles the PID_LOG lines the display interleaves with
// its JSON events.
package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Tag starts every telemetry line: PID_LOG,<t_ms>,<set_current>,<duty>
const Tag = "PID_LOG"

var ErrMalformed = errors.New("malformed telemetry line")

var header = []string{"time_ms", "set_current", "duty"}

type Sample struct {
	TimeMS     int64
	SetCurrent float64
	Duty       float64
}

// IsTelemetry reports whether line should bypass the JSON decoder.
func IsTelemetry(line string) bool {
	return strings.HasPrefix(line, Tag)
}

// Parse reads the first three fields after the tag; trailing fields are ignored.
func Parse(line string) (Sample, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 4 || parts[0] != Tag {
		return Sample{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	t, err1 := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	set, err2 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	duty, err3 := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	if err := errors.Join(err1, err2, err3); err != nil {
		return Sample{}, fmt.Errorf("%w: %q: %v", ErrMalformed, line, err)
	}
	return Sample{TimeMS: t, SetCurrent: set, Duty: duty}, nil
}

func (s Sample) record() []string {
	return []string{
		strconv.FormatInt(s.TimeMS, 10),
		strconv.FormatFloat(s.SetCurrent, 'f', -1, 64),
		strconv.FormatFloat(s.Duty, 'f', -1, 64),
	}
}

// CSV appends samples to a file, writing the header when the file is new.
type CSV struct {
	mu   sync.Mutex
	path string
}

func NewCSV(path string) *CSV { return &CSV{path: path} }

func (c *CSV) Path() string { return c.path }

func (c *CSV) Append(s Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// файл новый или пустой, нужен заголовок
	needHeader := true
	if st, err := os.Stat(c.path); err == nil && st.Size() > 0 {
		needHeader = false
	}
	if dir := filepath.Dir(c.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("telemetry: create %s: %w", dir, err)
		}
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", c.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("telemetry: header: %w", err)
		}
	}
	if err := w.Write(s.record()); err != nil {
		return fmt.Errorf("telemetry: record: %w", err)
	}
	w.Flush()
	return w.Error()
}
