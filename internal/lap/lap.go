// Package lap implements the lap timer: it learns a track from GPS fixes,
// then times laps through a circular start/finish geofence around the first
// waypoint.
package lap

import (
	"fmt"
	"math"
	"time"
)

const (
	MaxPoints       = 64
	LearnMinSpeedMS = 5.0
	LearnInterval   = time.Second
	GateRadiusM     = 30.0
	CrossMinSpeedMS = 5.5

	metersPerDegLat = 111320.0
	earthCircumM    = 40075000.0
)

type Mode int

const (
	Learning Mode = iota
	Racing
)

func (m Mode) String() string {
	if m == Racing {
		return "racing"
	}
	return "learning"
}

type TimerState int

const (
	Idle TimerState = iota
	Timing
)

func (s TimerState) String() string {
	if s == Timing {
		return "timing"
	}
	return "idle"
}

// Point is a waypoint in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Input is the GPS state the machine consumes each tick.
type Input struct {
	Point
	SpeedMS float64
	Valid   bool
	Now     time.Time
}

// Result describes what one tick produced.
type Result struct {
	Appended  bool
	Crossing  bool
	Started   bool
	Completed bool
	LapTime   time.Duration
	NewBest   bool
}

// Snapshot is a copy of the machine state for readers.
type Snapshot struct {
	Mode    string        `json:"mode"`
	Timer   string        `json:"timer"`
	Slot    int           `json:"slot"`
	Points  int           `json:"points"`
	Laps    int           `json:"laps"`
	Best    time.Duration `json:"best_ns"`
	Last    time.Duration `json:"last_ns"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Inside  bool          `json:"inside"`
}

// Machine is owned by a single goroutine.
type Machine struct {
	points     []Point
	mode       Mode
	slot       int
	best       time.Duration
	last       time.Duration
	laps       int
	lastAppend time.Time

	timer     TimerState
	lapStart  time.Time
	wasInside bool
	now       time.Time
}

func New() *Machine {
	return &Machine{slot: 1}
}

func (m *Machine) Mode() Mode          { return m.mode }
func (m *Machine) Timer() TimerState   { return m.timer }
func (m *Machine) Slot() int           { return m.slot }
func (m *Machine) Best() time.Duration { return m.best }

// Points returns a copy of the learned track.
func (m *Machine) Points() []Point { return append([]Point(nil), m.points...) }

// SelectSlot clamps n to 1..3 and returns the slot in use.
func (m *Machine) SelectSlot(n int) int {
	m.slot = clampSlot(n)
	return m.slot
}

func clampSlot(n int) int {
	if n < 1 {
		return 1
	}
	if n > 3 {
		return 3
	}
	return n
}

// Reset clears the track and returns to learning.
func (m *Machine) Reset() {
	slot := m.slot
	*m = Machine{slot: slot}
}

// StartRacing switches to racing around the first learned point.
func (m *Machine) StartRacing() error {
	if len(m.points) == 0 {
		return fmt.Errorf("lap: no track learned")
	}
	m.mode = Racing
	m.timer = Idle
	m.wasInside = false
	return nil
}

// SetTrack replaces the track with loaded points and enters racing mode.
func (m *Machine) SetTrack(points []Point, best time.Duration, slot int) {
	if len(points) > MaxPoints {
		points = points[:MaxPoints]
	}
	m.points = append([]Point(nil), points...)
	m.best = best
	m.slot = clampSlot(slot)
	m.mode = Racing
	m.timer = Idle
	m.wasInside = false
}

// Step advances the machine with one GPS input.
func (m *Machine) Step(in Input) Result {
	m.now = in.Now
	if !in.Valid {
		return Result{}
	}
	if m.mode == Learning {
		return m.learn(in)
	}
	return m.race(in)
}

func (m *Machine) learn(in Input) Result {
	if in.SpeedMS <= LearnMinSpeedMS || len(m.points) >= MaxPoints {
		return Result{}
	}
	if !m.lastAppend.IsZero() && in.Now.Sub(m.lastAppend) < LearnInterval {
		return Result{}
	}
	m.points = append(m.points, in.Point)
	m.lastAppend = in.Now
	return Result{Appended: true}
}

func (m *Machine) race(in Input) Result {
	if len(m.points) == 0 {
		return Result{}
	}
	inside := Inside(m.points[0], in.Point, GateRadiusM)
	crossing := !m.wasInside && inside && in.SpeedMS > CrossMinSpeedMS
	m.wasInside = inside
	if !crossing {
		return Result{}
	}

	r := Result{Crossing: true}
	switch m.timer {
	case Idle:
		m.timer = Timing
		m.lapStart = in.Now
		r.Started = true
	case Timing:
		t := in.Now.Sub(m.lapStart)
		m.timer = Idle
		m.last = t
		m.laps++
		r.Completed = true
		r.LapTime = t
		if m.best == 0 || t < m.best {
			m.best = t
			r.NewBest = true
		}
	}
	return r
}

func (m *Machine) Snapshot() Snapshot {
	s := Snapshot{
		Mode:   m.mode.String(),
		Timer:  m.timer.String(),
		Slot:   m.slot,
		Points: len(m.points),
		Laps:   m.laps,
		Best:   m.best,
		Last:   m.last,
		Inside: m.wasInside,
	}
	if m.timer == Timing && !m.now.IsZero() {
		s.Elapsed = m.now.Sub(m.lapStart)
	}
	return s
}

// Distance2 is the squared flat-earth distance in m² between a and b, with
// longitude scaled by cos(latitude) at a.
func Distance2(a, b Point) float64 {
	dlat := (b.Lat - a.Lat) * metersPerDegLat
	dlon := (b.Lon - a.Lon) * earthCircumM * math.Cos(a.Lat*math.Pi/180) / 360
	return dlat*dlat + dlon*dlon
}

// Inside reports whether p is strictly within radius meters of center.
func Inside(center, p Point, radius float64) bool {
	return Distance2(center, p) < radius*radius
}
