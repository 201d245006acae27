// Package drag times straight-line runs: a pulse-paced countdown, a launch
// gate on longitudinal acceleration and speed, and set-once distance splits.
package drag

import (
	"fmt"
	"math"
	"time"
)

type State int

const (
	Idle State = iota
	Countdown
	Armed
	Running
	Finished
)

func (s State) String() string {
	switch s {
	case Countdown:
		return "countdown"
	case Armed:
		return "armed"
	case Running:
		return "running"
	case Finished:
		return "finished"
	default:
		return "idle"
	}
}

// Target is the run distance.
type Target int

const (
	EighthMile Target = iota
	QuarterMile
	Thousand
)

func (t Target) Meters() float64 {
	switch t {
	case QuarterMile:
		return 402.336
	case Thousand:
		return 304.8
	default:
		return 201.168
	}
}

func (t Target) String() string {
	switch t {
	case QuarterMile:
		return "1/4"
	case Thousand:
		return "1000ft"
	default:
		return "1/8"
	}
}

// ParseTarget accepts "1/8", "1/4", "1000ft" and their long names.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "1/8", "eighth":
		return EighthMile, nil
	case "1/4", "quarter":
		return QuarterMile, nil
	case "1000ft", "thousand":
		return Thousand, nil
	}
	return 0, fmt.Errorf("drag: unknown target %q", s)
}

const (
	CountdownSteps = 3
	LaunchG        = 0.30
	LaunchKMH      = 1.0
)

// Split indices into Run.Splits.
const (
	Split60ft = iota
	Split330ft
	Split660ft
	SplitFinal
	numSplits
)

var splitMeters = [numSplits - 1]float64{18.288, 100.584, 201.168}

// Cue is the feedback a tick asks for. CueGo marks the end of the countdown,
// CueLaunch the start of timing.
type Cue int

const (
	CueNone Cue = iota
	CueCount
	CueGo
	CueLaunch
	CueFinish
)

// Input is one tick of sensor state. Pulse is true when a timing-pulse edge
// was observed since the previous tick.
type Input struct {
	Now     time.Time
	SpeedMS float64
	AccelG  float64
	Pulse   bool
}

// Run is the state of one attempt.
type Run struct {
	State      State                    `json:"-"`
	StateName  string                   `json:"state"`
	Target     Target                   `json:"-"`
	TargetName string                   `json:"target"`
	DistanceM  float64                  `json:"distance_m"`
	PeakG      float64                  `json:"peak_g"`
	EndSpeedMS float64                  `json:"end_speed_ms"`
	Start      time.Time                `json:"start,omitempty"`
	Splits     [numSplits]time.Duration `json:"splits_ns"`
	Remaining  int                      `json:"countdown_remaining"`
	Saved      bool                     `json:"saved"`
}

// Final is the elapsed time to the target, zero until finished.
func (r Run) Final() time.Duration { return r.Splits[SplitFinal] }

// Machine is owned by a single goroutine.
type Machine struct {
	run       Run
	step      int
	latched   [numSplits]bool
	prevSpeed float64
	prevAt    time.Time
	running   bool
}

func New(target Target) *Machine {
	m := &Machine{}
	m.run.Target = target
	return m
}

func (m *Machine) State() State  { return m.run.State }
func (m *Machine) Running() bool { return m.running }

// SetTarget changes the distance; only allowed while Idle.
func (m *Machine) SetTarget(t Target) error {
	if m.run.State != Idle {
		return fmt.Errorf("drag: cannot change target while %s", m.run.State)
	}
	m.run.Target = t
	return nil
}

// StartCountdown moves Idle → Countdown.
func (m *Machine) StartCountdown() error {
	if m.run.State != Idle {
		return fmt.Errorf("drag: cannot start countdown while %s", m.run.State)
	}
	m.run.State = Countdown
	m.step = CountdownSteps
	return nil
}

// Abort returns to Idle from Countdown or Armed. A running attempt cannot be
// aborted.
func (m *Machine) Abort() error {
	switch m.run.State {
	case Countdown, Armed:
		m.reset()
		return nil
	case Idle:
		return nil
	}
	return fmt.Errorf("drag: cannot abort while %s", m.run.State)
}

// Confirm ends a Finished run with the user's save/discard decision and
// returns the completed attempt.
func (m *Machine) Confirm(save bool) (Run, error) {
	if m.run.State != Finished {
		return Run{}, fmt.Errorf("drag: nothing to confirm while %s", m.run.State)
	}
	out := m.Snapshot()
	out.Saved = save
	m.reset()
	return out, nil
}

func (m *Machine) reset() {
	target := m.run.Target
	*m = Machine{}
	m.run.Target = target
}

// Step advances the machine by one tick.
func (m *Machine) Step(in Input) Cue {
	switch m.run.State {
	case Countdown:
		if !in.Pulse {
			return CueNone
		}
		if m.step > 0 {
			m.step--
			return CueCount
		}
		m.run.State = Armed
		m.step = CountdownSteps
		return CueGo
	case Armed:
		if in.AccelG > LaunchG && in.SpeedMS*3.6 > LaunchKMH {
			m.launch(in)
			return CueLaunch
		}
		return CueNone
	case Running:
		return m.integrate(in)
	}
	return CueNone
}

func (m *Machine) launch(in Input) {
	m.run.State = Running
	m.run.Start = in.Now
	m.run.DistanceM = 0
	m.run.PeakG = math.Abs(in.AccelG)
	m.run.EndSpeedMS = in.SpeedMS
	m.run.Splits = [numSplits]time.Duration{}
	m.latched = [numSplits]bool{}
	m.prevSpeed = in.SpeedMS
	m.prevAt = in.Now
	m.running = true
}

func (m *Machine) integrate(in Input) Cue {
	dt := in.Now.Sub(m.prevAt).Seconds()
	if dt > 0 {
		m.run.DistanceM += 0.5 * (m.prevSpeed + in.SpeedMS) * dt
	}
	m.prevSpeed = in.SpeedMS
	m.prevAt = in.Now
	if g := math.Abs(in.AccelG); g > m.run.PeakG {
		m.run.PeakG = g
	}
	m.run.EndSpeedMS = in.SpeedMS

	elapsed := in.Now.Sub(m.run.Start)
	for i, d := range splitMeters {
		m.latch(i, d, elapsed)
	}
	if m.latch(SplitFinal, m.run.Target.Meters(), elapsed) {
		m.run.State = Finished
		m.running = false
		return CueFinish
	}
	return CueNone
}

// latch sets split i once, the first time distance reaches d.
func (m *Machine) latch(i int, d float64, elapsed time.Duration) bool {
	if m.latched[i] || m.run.DistanceM < d {
		return false
	}
	m.latched[i] = true
	m.run.Splits[i] = elapsed
	return true
}

// Snapshot returns a copy of the current attempt.
func (m *Machine) Snapshot() Run {
	r := m.run
	r.StateName = r.State.String()
	r.TargetName = r.Target.String()
	if r.State == Countdown {
		r.Remaining = m.step
	}
	return r
}
