package tty

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/tarm/serial"

	"portenta-bridge/internal/config"
)

// Open opens the display UART. Failure here is fatal for the gateway.
func Open(cfg config.TTYConfig) (io.ReadWriteCloser, error) {
	sc := &serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.BaudRate,
		ReadTimeout: cfg.ReadTimeout,
		Size:        byte(cfg.DataBits),
		Parity:      parity(cfg.Parity),
		StopBits:    serial.Stop1,
	}
	if cfg.StopBits == 2 {
		sc.StopBits = serial.Stop2
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return nil, fmt.Errorf("tty: cannot open %s: %w", cfg.Device, err)
	}
	log.Printf("[tty] opened %s at %d baud", cfg.Device, cfg.BaudRate)
	return p, nil
}

func parity(s string) serial.Parity {
	switch strings.ToLower(s) {
	case "odd", "o":
		return serial.ParityOdd
	case "even", "e":
		return serial.ParityEven
	default:
		return serial.ParityNone
	}
}
