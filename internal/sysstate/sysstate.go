// Package sysstate persists the boot counter, last uptime, last error code and
// last reset reason.
package sysstate

import (
	"encoding/binary"
	"sync"

	"axion/internal/eeprom"
)

const (
	magic     = "SS"
	version   = 1
	recordLen = 16
)

// Reset reasons.
const (
	ResetUnknown  uint8 = 0
	ResetPowerOn  uint8 = 1
	ResetShutdown uint8 = 2
	ResetCrash    uint8 = 3
)

type State struct {
	Boots           uint32 `json:"boots"`
	LastUptimeMs    uint32 `json:"last_uptime_ms"`
	LastError       uint8  `json:"last_error"`
	LastResetReason uint8  `json:"last_reset_reason"`
}

func encode(st State) []byte {
	b := make([]byte, recordLen)
	eeprom.PutHeader(b, magic, version)
	binary.LittleEndian.PutUint32(b[4:8], st.Boots)
	binary.LittleEndian.PutUint32(b[8:12], st.LastUptimeMs)
	b[12] = st.LastError
	b[13] = st.LastResetReason
	return b
}

// Load reads the record; a bad header returns the zero State and an
// eeprom.ErrBadMagic / ErrBadVersion error.
func Load(s eeprom.Store) (State, error) {
	raw, err := eeprom.ReadRegion(s, eeprom.SysState)
	if err != nil {
		return State{}, err
	}
	if _, err := eeprom.CheckHeader(raw, magic, version); err != nil {
		return State{}, err
	}
	return State{
		Boots:           binary.LittleEndian.Uint32(raw[4:8]),
		LastUptimeMs:    binary.LittleEndian.Uint32(raw[8:12]),
		LastError:       raw[12],
		LastResetReason: raw[13],
	}, nil
}

func Save(s eeprom.Store, st State) error {
	return eeprom.WriteRegion(s, eeprom.SysState, encode(st))
}

// Tracker holds the live record and writes it through on every change.
type Tracker struct {
	mu    sync.Mutex
	store eeprom.Store
	st    State
}

// Open loads the stored record. A missing or foreign record starts from zero
// and is not an error; storage read failures are returned with a usable
// Tracker.
func Open(s eeprom.Store) (*Tracker, error) {
	st, err := Load(s)
	t := &Tracker{store: s, st: st}
	if eeprom.IsUnset(err) {
		return t, nil
	}
	return t, err
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

func (t *Tracker) update(fn func(*State)) error {
	t.mu.Lock()
	fn(&t.st)
	st := t.st
	t.mu.Unlock()
	return Save(t.store, st)
}

// NoteBoot increments the boot counter and records why the previous run
// ended.
func (t *Tracker) NoteBoot(reason uint8) error {
	return t.update(func(st *State) {
		st.Boots++
		st.LastResetReason = reason
	})
}

func (t *Tracker) SetLastUptime(ms uint32) error {
	return t.update(func(st *State) { st.LastUptimeMs = ms })
}

func (t *Tracker) SetLastError(code uint8) error {
	return t.update(func(st *State) { st.LastError = code })
}

// MarkShutdown records a clean stop. A run that never reaches it keeps the
// reason written by NoteBoot.
func (t *Tracker) MarkShutdown(uptimeMs uint32) error {
	return t.update(func(st *State) {
		st.LastUptimeMs = uptimeMs
		st.LastResetReason = ResetShutdown
	})
}
