//go:build !linux

package feedback

import "errors"

var errUnsupported = errors.New("feedback: led/buzzer hardware requires linux")

type ledLines struct{}

func (*ledLines) set(bool, bool) error { return errUnsupported }
func (*ledLines) close() error         { return nil }

type pwmBuzzer struct{}

func (*pwmBuzzer) tone(int) error { return errUnsupported }
func (*pwmBuzzer) silence() error { return nil }
func (*pwmBuzzer) close() error   { return nil }

var openLEDFn = func(HardwareConfig) (*ledLines, error) { return nil, errUnsupported }

var openBuzzerFn = func(HardwareConfig) (*pwmBuzzer, error) { return nil, errUnsupported }
