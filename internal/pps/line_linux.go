//go:build linux

package pps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Line is a requested pulse input feeding a Capture.
type Line struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	name string
}

var requestFn = request

// Open requests cfg.Line with rising-edge detection and wires its events
// into c.
func Open(cfg Config, c *Capture) (*Line, error) {
	if cfg.Line == "" {
		return nil, fmt.Errorf("pps: no line configured")
	}
	return requestFn(cfg, func(evt gpiocdev.LineEvent) {
		if evt.Type == gpiocdev.LineEventRisingEdge {
			c.Signal(uint64(evt.Timestamp / time.Microsecond))
		}
	})
}

func request(cfg Config, h gpiocdev.EventHandler) (*Line, error) {
	for _, path := range candidates(cfg.Chip) {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		off, err := chip.FindLine(cfg.Line)
		if err != nil {
			_ = chip.Close()
			continue
		}
		l, err := chip.RequestLine(off,
			gpiocdev.WithRisingEdge,
			gpiocdev.WithEventHandler(h),
			gpiocdev.WithConsumer("axion-pps"))
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &Line{chip: chip, line: l, name: cfg.Line}, nil
	}
	return nil, fmt.Errorf("pps: line %q not found (or busy)", cfg.Line)
}

func candidates(chip string) []string {
	if chip != "" {
		if !strings.HasPrefix(chip, "/") {
			chip = filepath.Join("/dev", chip)
		}
		return []string{chip}
	}
	var out []string
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			out = append(out, filepath.Join("/dev", e.Name()))
		}
	}
	return out
}

func (l *Line) Name() string { return l.name }

func (l *Line) Close() error {
	if l == nil || l.line == nil {
		return nil
	}
	err := l.line.Close()
	l.line = nil
	if l.chip != nil {
		_ = l.chip.Close()
		l.chip = nil
	}
	return err
}
