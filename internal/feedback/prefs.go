package feedback

import "axion/internal/eeprom"

const (
	prefsMagic   = "FB"
	prefsVersion = 2
	prefsHdrLen  = 4
)

// Prefs are the global and per-mode channel enables.
type Prefs struct {
	GlobalLED    bool           `json:"global_led" yaml:"global_led"`
	GlobalBuzzer bool           `json:"global_buzzer" yaml:"global_buzzer"`
	LED          [NumModes]bool `json:"led"`
	Buzzer       [NumModes]bool `json:"buzzer"`
}

// DefaultPrefs enables everything.
func DefaultPrefs() Prefs {
	p := Prefs{GlobalLED: true, GlobalBuzzer: true}
	for i := range p.LED {
		p.LED[i] = true
		p.Buzzer[i] = true
	}
	return p
}

func (p Prefs) ledOn(m Mode) bool    { return m < NumModes && p.LED[m] }
func (p Prefs) buzzerOn(m Mode) bool { return m < NumModes && p.Buzzer[m] }

// LoadPrefs reads the stored preferences. Version 1 records predate the
// per-mode tables and load as all enabled. Anything unreadable loads as
// DefaultPrefs and returns the eeprom sentinel.
func LoadPrefs(s eeprom.Store) (Prefs, error) {
	raw, err := eeprom.ReadRegion(s, eeprom.Feedback)
	if err != nil {
		return DefaultPrefs(), err
	}
	v, err := eeprom.CheckHeader(raw, prefsMagic, 1, prefsVersion)
	if err != nil {
		return DefaultPrefs(), err
	}
	if v == 1 {
		return DefaultPrefs(), nil
	}
	b := raw[prefsHdrLen:]
	p := Prefs{GlobalLED: b[0] != 0, GlobalBuzzer: b[1] != 0}
	for i := 0; i < int(NumModes); i++ {
		p.LED[i] = b[2+i] != 0
		p.Buzzer[i] = b[2+int(NumModes)+i] != 0
	}
	return p, nil
}

func SavePrefs(s eeprom.Store, p Prefs) error {
	buf := make([]byte, prefsHdrLen+2+2*int(NumModes))
	eeprom.PutHeader(buf, prefsMagic, prefsVersion)
	b := buf[prefsHdrLen:]
	b[0], b[1] = bit(p.GlobalLED), bit(p.GlobalBuzzer)
	for i := 0; i < int(NumModes); i++ {
		b[2+i] = bit(p.LED[i])
		b[2+int(NumModes)+i] = bit(p.Buzzer[i])
	}
	return eeprom.WriteRegion(s, eeprom.Feedback, buf)
}

func bit(v bool) byte {
	if v {
		return 1
	}
	return 0
}
