//go:build !linux

package gps

import (
	"errors"
	"io"
)

var errNoSerial = errors.New("gps: direct serial needs linux; use source gpsd")

func openSerial(string, int) (io.ReadCloser, error) { return nil, errNoSerial }
