package feedback

import "errors"

// Actuator is the physical output: a two-die LED and a piezo buzzer.
type Actuator interface {
	SetLED(red, green bool) error
	Tone(hz int) error
	Silence() error
	Close() error
}

// Nop discards all output.
type Nop struct{}

func (Nop) SetLED(bool, bool) error { return nil }
func (Nop) Tone(int) error          { return nil }
func (Nop) Silence() error          { return nil }
func (Nop) Close() error            { return nil }

// HardwareConfig names the LED lines and the buzzer PWM channel.
type HardwareConfig struct {
	Chip       string `yaml:"chip"`       // gpiochip path; empty scans /dev
	RedLine    string `yaml:"red_line"`   // e.g. "GPIO17"
	GreenLine  string `yaml:"green_line"` // e.g. "GPIO27"
	Buzzer     bool   `yaml:"buzzer"`
	PWMChip    string `yaml:"pwm_chip"`    // e.g. "pwmchip0"; empty picks the first
	PWMChannel int    `yaml:"pwm_channel"` // channel under PWMChip
}

var errNoOutputs = errors.New("feedback: no led lines or buzzer configured")

type hardware struct {
	led    *ledLines
	buzzer *pwmBuzzer
}

// OpenHardware opens whichever outputs are configured. A missing buzzer or
// LED is tolerated as long as one of them opens.
func OpenHardware(cfg HardwareConfig) (Actuator, error) {
	var h hardware
	var errs []error
	if cfg.RedLine != "" || cfg.GreenLine != "" {
		l, err := openLEDFn(cfg)
		if err != nil {
			errs = append(errs, err)
		} else {
			h.led = l
		}
	}
	if cfg.Buzzer {
		b, err := openBuzzerFn(cfg)
		if err != nil {
			errs = append(errs, err)
		} else {
			h.buzzer = b
		}
	}
	if h.led == nil && h.buzzer == nil {
		if len(errs) == 0 {
			return nil, errNoOutputs
		}
		return nil, errors.Join(errs...)
	}
	return &h, nil
}

func (h *hardware) SetLED(red, green bool) error {
	if h.led == nil {
		return nil
	}
	return h.led.set(red, green)
}

func (h *hardware) Tone(hz int) error {
	if h.buzzer == nil {
		return nil
	}
	return h.buzzer.tone(hz)
}

func (h *hardware) Silence() error {
	if h.buzzer == nil {
		return nil
	}
	return h.buzzer.silence()
}

func (h *hardware) Close() error {
	var errs []error
	if h.led != nil {
		errs = append(errs, h.led.close())
	}
	if h.buzzer != nil {
		errs = append(errs, h.buzzer.close())
	}
	return errors.Join(errs...)
}
