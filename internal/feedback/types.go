// Package feedback routes semantic events to two independent, non-blocking
// pattern players: a red/green status LED and a piezo tone generator.
package feedback

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the UI screen the event came from.
type Mode uint8

const (
	Dashboard Mode = iota
	GForces
	Accel
	Drag
	Lap
	Crawling
	Drift
	Compass
	Diagnostics
	Settings
	Bench
	NumModes
)

var modeNames = [NumModes]string{
	"dashboard", "gforces", "accel", "drag", "lap", "crawling",
	"drift", "compass", "diagnostics", "settings", "bench",
}

func (m Mode) String() string {
	if m < NumModes {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range modeNames {
		if n == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("feedback: unknown mode %q", s)
}

// Event is a semantic occurrence.
type Event uint8

const (
	EventNone Event = iota
	EventOK
	EventWarn
	EventError
	EventRecord
	EventGo
	EventFinish
	EventConnect
	EventDisconnect
	EventCrossing
	EventBest
	EventDriftActive
	EventDriftScoreHigh
	EventDeepSleep
	EventCountdownCue
	EventArmed
)

var eventNames = map[Event]string{
	EventNone: "none", EventOK: "ok", EventWarn: "warn", EventError: "error",
	EventRecord: "record", EventGo: "go", EventFinish: "finish",
	EventConnect: "connect", EventDisconnect: "disconnect",
	EventCrossing: "crossing", EventBest: "best",
	EventDriftActive: "drift_active", EventDriftScoreHigh: "drift_score_high",
	EventDeepSleep: "deep_sleep", EventCountdownCue: "countdown_cue",
	EventArmed: "armed",
}

func (e Event) String() string {
	if n, ok := eventNames[e]; ok {
		return n
	}
	return fmt.Sprintf("event(%d)", uint8(e))
}

// Color is what the two-die status LED shows.
type Color uint8

const (
	Off Color = iota
	Green
	Red
	Yellow // both dies lit
)

// Dies returns the red and green die states.
func (c Color) Dies() (red, green bool) {
	switch c {
	case Green:
		return false, true
	case Red:
		return true, false
	case Yellow:
		return true, true
	}
	return false, false
}

func (c Color) String() string {
	switch c {
	case Green:
		return "green"
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	}
	return "off"
}

// Note is a fixed tone with its own duration.
type Note uint8

const (
	NoteLow  Note = 1 // 2000 Hz, 100 ms
	NoteMid  Note = 2 // 2400 Hz, 100 ms
	NoteHigh Note = 3 // 2800 Hz, 150 ms
)

func (n Note) Hz() int {
	switch n {
	case NoteMid:
		return 2400
	case NoteHigh:
		return 2800
	}
	return 2000
}

func (n Note) Duration() time.Duration {
	if n == NoteHigh {
		return 150 * time.Millisecond
	}
	return 100 * time.Millisecond
}
