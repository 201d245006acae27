//go:build !linux

package pps

import "errors"

type Line struct{}

func Open(Config, *Capture) (*Line, error) {
	return nil, errors.New("pps: gpio edge capture requires linux")
}

func (*Line) Name() string { return "" }

func (*Line) Close() error { return nil }
