//go:build linux

package feedback

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "axion-feedback"

type ledLines struct {
	chip  *gpiocdev.Chip
	red   *gpiocdev.Line
	green *gpiocdev.Line
}

var openLEDFn = openLED

func chipCandidates(chip string) []string {
	if chip != "" {
		return []string{chip}
	}
	out := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "gpiochip") {
			p := filepath.Join("/dev", e.Name())
			if p != out[0] && p != out[1] {
				out = append(out, p)
			}
		}
	}
	return out
}

func openLED(cfg HardwareConfig) (*ledLines, error) {
	for _, path := range chipCandidates(cfg.Chip) {
		chip, err := gpiocdev.NewChip(path)
		if err != nil {
			continue
		}
		l := &ledLines{chip: chip}
		if l.red, err = requestOutput(chip, cfg.RedLine); err != nil {
			_ = l.close()
			continue
		}
		if l.green, err = requestOutput(chip, cfg.GreenLine); err != nil {
			_ = l.close()
			continue
		}
		return l, nil
	}
	return nil, fmt.Errorf("feedback: led lines %q/%q not found (or busy)", cfg.RedLine, cfg.GreenLine)
}

func requestOutput(chip *gpiocdev.Chip, name string) (*gpiocdev.Line, error) {
	if name == "" {
		return nil, nil
	}
	off, err := chip.FindLine(name)
	if err != nil {
		return nil, err
	}
	return chip.RequestLine(off, gpiocdev.AsOutput(0), gpiocdev.WithConsumer(consumer))
}

func (l *ledLines) set(red, green bool) error {
	if l.red != nil {
		if err := l.red.SetValue(level(red)); err != nil {
			return fmt.Errorf("feedback: red led: %w", err)
		}
	}
	if l.green != nil {
		if err := l.green.SetValue(level(green)); err != nil {
			return fmt.Errorf("feedback: green led: %w", err)
		}
	}
	return nil
}

func level(on bool) int {
	if on {
		return 1
	}
	return 0
}

func (l *ledLines) close() error {
	var first error
	for _, ln := range []*gpiocdev.Line{l.red, l.green} {
		if ln == nil {
			continue
		}
		_ = ln.SetValue(0)
		if err := ln.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.red, l.green = nil, nil
	if l.chip != nil {
		_ = l.chip.Close()
		l.chip = nil
	}
	return first
}
