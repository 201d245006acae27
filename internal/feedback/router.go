package feedback

import (
	"log"
	"math"
	"sync"
	"time"
)

const (
	crawlWarnDeg   = 20.0
	crawlDangerDeg = 30.0
	crawlBeepEvery = 3 * time.Second
)

// cue is one table entry. A steady color replaces any running LED pattern.
type cue struct {
	led    *LEDPattern
	steady *Color
	notes  []Note
}

func blink(on, off time.Duration, repeats int, c Color) *LEDPattern {
	return &LEDPattern{On: on, Off: off, Repeats: repeats, Color: c}
}

func steady(c Color) *Color { return &c }

const ms = time.Millisecond

type cueKey struct {
	mode  Mode
	event Event
}

var cues = map[cueKey]cue{
	{Drag, EventCountdownCue}: {steady: steady(Red), notes: []Note{NoteLow}},
	{Drag, EventArmed}:        {steady: steady(Green), notes: []Note{NoteHigh}},
	{Drag, EventGo}:           {steady: steady(Green), notes: []Note{NoteLow}},
	{Drag, EventFinish}:       {led: blink(200*ms, 200*ms, 2, Green), notes: []Note{NoteLow}},

	{Accel, EventGo}:     {led: blink(250*ms, 250*ms, 20, Yellow), notes: []Note{NoteLow}},
	{Accel, EventFinish}: {led: blink(300*ms, 200*ms, 1, Green), notes: []Note{NoteLow}},

	{GForces, EventRecord}: {led: blink(150*ms, 150*ms, 3, Green), notes: []Note{NoteLow, NoteMid}},

	{Lap, EventCrossing}: {led: blink(200*ms, 0, 1, Yellow), notes: []Note{NoteLow}},
	{Lap, EventBest}:     {led: blink(150*ms, 150*ms, 3, Green), notes: []Note{NoteLow, NoteMid, NoteHigh}},

	{Drift, EventDriftScoreHigh}: {led: blink(100*ms, 100*ms, 2, Green), notes: []Note{NoteMid}},
	{Drift, EventRecord}:         {led: blink(100*ms, 80*ms, 3, Green), notes: []Note{NoteLow, NoteMid, NoteHigh}},

	{Diagnostics, EventConnect}:    {steady: steady(Green), notes: []Note{NoteLow}},
	{Diagnostics, EventDisconnect}: {steady: steady(Red), notes: []Note{NoteHigh}},

	{Compass, EventOK}:    {steady: steady(Green)},
	{Compass, EventError}: {steady: steady(Red)},

	{Settings, EventDeepSleep}: {led: blink(500*ms, 0, 1, Red), notes: []Note{NoteMid}},

	{Dashboard, EventError}: {led: blink(400*ms, 400*ms, 2, Red)},
}

// Status carries the inputs for the per-mode baseline indicator.
type Status struct {
	AllOK         bool // every monitored sensor fresh
	LostLong      bool // GPS fix lost beyond the long threshold
	MagCalibrated bool
	PitchDeg      float64
	RollDeg       float64
	HDOP          float64
	IMUFresh      bool
}

// Snapshot is the router's observable state.
type Snapshot struct {
	Mode      string `json:"mode"`
	Color     string `json:"color"`
	ToneHz    int    `json:"tone_hz"`
	LEDActive bool   `json:"led_active"`
	ToneBusy  bool   `json:"tone_active"`
	Prefs     Prefs  `json:"prefs"`
	Emitted   uint64 `json:"emitted"`
	LastError string `json:"last_error,omitempty"`
}

// Router dispatches (mode, event) pairs to the LED and tone players and
// drives the actuator from Tick. It never blocks on the hardware beyond a
// single line write.
type Router struct {
	mu sync.Mutex

	act   Actuator
	mode  Mode
	prefs Prefs
	stat  Status

	led  ledPlayer
	tone tonePlayer

	color    Color
	hz       int
	lastBeep time.Time
	emitted  uint64
	lastErr  string
}

func NewRouter(act Actuator, prefs Prefs) *Router {
	if act == nil {
		act = Nop{}
	}
	return &Router{act: act, prefs: prefs}
}

func (r *Router) SetMode(m Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m >= NumModes || m == r.mode {
		return
	}
	r.mode = m
	r.led.stop()
}

func (r *Router) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Router) SetPrefs(p Prefs) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefs = p
}

func (r *Router) Prefs() Prefs {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefs
}

func (r *Router) SetStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stat = s
}

func (r *Router) ledEnabled(m Mode) bool  { return r.prefs.GlobalLED && r.prefs.ledOn(m) }
func (r *Router) toneEnabled(m Mode) bool { return r.prefs.GlobalBuzzer && r.prefs.buzzerOn(m) }

// Emit schedules the patterns mapped to (m, ev). Unmapped pairs and pairs
// whose channels are disabled are ignored.
func (r *Router) Emit(m Mode, ev Event, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := cues[cueKey{m, ev}]
	if !ok {
		return
	}
	ledOK, toneOK := r.ledEnabled(m), r.toneEnabled(m)
	if !ledOK && !toneOK {
		return
	}
	r.emitted++
	if ledOK {
		switch {
		case c.steady != nil:
			r.led.stop()
			r.applyLED(*c.steady)
		case c.led != nil:
			r.led.schedule(*c.led, now)
		}
	}
	if toneOK && len(c.notes) > 0 {
		r.tone.schedule(c.notes, now)
	}
}

// Tick advances both players and, when no LED pattern is running, applies
// the current mode's baseline.
func (r *Router) Tick(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, drove := r.led.tick(now); drove {
		r.applyLED(c)
	} else if !r.led.active {
		r.baseline(now)
	}
	if hz, changed := r.tone.tick(now); changed {
		r.applyTone(hz)
	}
}

func (r *Router) baseline(now time.Time) {
	if !r.ledEnabled(r.mode) {
		return
	}
	s := r.stat
	switch r.mode {
	case Dashboard:
		if s.LostLong {
			r.led.schedule(LEDPattern{On: 400 * ms, Off: 400 * ms, Repeats: 2, Color: Red}, now)
			return
		}
		if s.AllOK {
			r.applyLED(Green)
		} else {
			r.applyLED(Off)
		}
	case Compass:
		if s.MagCalibrated {
			r.applyLED(Green)
		} else {
			r.applyLED(Red)
		}
	case Crawling:
		a := math.Max(math.Abs(s.PitchDeg), math.Abs(s.RollDeg))
		switch {
		case a < crawlWarnDeg:
			r.applyLED(Green)
		case a < crawlDangerDeg:
			r.applyLED(Yellow)
		default:
			r.applyLED(Red)
			if r.toneEnabled(Crawling) && !r.tone.active && now.Sub(r.lastBeep) > crawlBeepEvery {
				r.lastBeep = now
				r.tone.schedule([]Note{NoteMid, NoteLow}, now)
			}
		}
	case Bench:
		if s.HDOP > 0 && s.HDOP < 2 && s.IMUFresh {
			r.applyLED(Green)
		} else {
			r.applyLED(Red)
		}
	}
}

func (r *Router) applyLED(c Color) {
	if c == r.color {
		return
	}
	red, green := c.Dies()
	if err := r.act.SetLED(red, green); err != nil {
		r.fail("led", err)
		return
	}
	r.color = c
}

func (r *Router) applyTone(hz int) {
	var err error
	if hz > 0 {
		err = r.act.Tone(hz)
	} else {
		err = r.act.Silence()
	}
	if err != nil {
		r.fail("tone", err)
		return
	}
	r.hz = hz
}

func (r *Router) fail(what string, err error) {
	msg := err.Error()
	if msg != r.lastErr {
		log.Printf("feedback %s: %v", what, err)
	}
	r.lastErr = msg
}

func (r *Router) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Mode:      r.mode.String(),
		Color:     r.color.String(),
		ToneHz:    r.hz,
		LEDActive: r.led.active,
		ToneBusy:  r.tone.active,
		Prefs:     r.prefs,
		Emitted:   r.emitted,
		LastError: r.lastErr,
	}
}

// Close silences the buzzer, darkens the LED and releases the actuator.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.act.SetLED(false, false)
	_ = r.act.Silence()
	return r.act.Close()
}
