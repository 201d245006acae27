package feedback

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	ops   []string
	red   bool
	green bool
	hz    int
}

func (r *recorder) SetLED(red, green bool) error {
	r.red, r.green = red, green
	r.ops = append(r.ops, fmt.Sprintf("led %v/%v", red, green))
	return nil
}

func (r *recorder) Tone(hz int) error {
	r.hz = hz
	r.ops = append(r.ops, fmt.Sprintf("tone %d", hz))
	return nil
}

func (r *recorder) Silence() error {
	r.hz = 0
	r.ops = append(r.ops, "silence")
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) count(op string) int {
	n := 0
	for _, o := range r.ops {
		if o == op {
			n++
		}
	}
	return n
}

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func TestLEDPlayer_TwoCyclesThenInactive(t *testing.T) {
	var p ledPlayer
	p.schedule(LEDPattern{On: 200 * ms, Off: 200 * ms, Repeats: 2, Color: Green}, t0)

	var ons, offs int
	for d := time.Duration(0); d <= 2*time.Second; d += 10 * ms {
		c, drove := p.tick(at(d))
		if !drove {
			continue
		}
		if c == Green {
			ons++
		} else {
			offs++
		}
	}
	assert.Equal(t, 2, ons)
	assert.Equal(t, 2, offs)
	assert.False(t, p.active)
}

func TestLEDPlayer_Timing(t *testing.T) {
	var p ledPlayer
	p.schedule(LEDPattern{On: 200 * ms, Off: 200 * ms, Repeats: 2, Color: Red}, t0)

	c, drove := p.tick(t0)
	require.True(t, drove)
	assert.Equal(t, Red, c)

	_, drove = p.tick(at(199 * ms))
	assert.False(t, drove)

	c, drove = p.tick(at(200 * ms))
	require.True(t, drove)
	assert.Equal(t, Off, c)
	assert.True(t, p.active)

	_, drove = p.tick(at(399 * ms))
	assert.False(t, drove)
	c, _ = p.tick(at(400 * ms))
	assert.Equal(t, Red, c)
	c, _ = p.tick(at(600 * ms))
	assert.Equal(t, Off, c)
	assert.False(t, p.active)
}

func TestTonePlayer_Sequence(t *testing.T) {
	var p tonePlayer
	p.schedule([]Note{NoteLow, NoteMid, NoteHigh}, t0)

	hz, ok := p.tick(t0)
	require.True(t, ok)
	assert.Equal(t, 2000, hz)

	_, ok = p.tick(at(99 * ms))
	assert.False(t, ok)

	hz, _ = p.tick(at(100 * ms))
	assert.Equal(t, 2400, hz)
	hz, _ = p.tick(at(200 * ms))
	assert.Equal(t, 2800, hz)

	// high note lasts 150 ms
	_, ok = p.tick(at(349 * ms))
	assert.False(t, ok)
	hz, ok = p.tick(at(350 * ms))
	require.True(t, ok)
	assert.Equal(t, 0, hz)
	assert.False(t, p.active)
}

func TestTonePlayer_CapsAtFourNotes(t *testing.T) {
	var p tonePlayer
	p.schedule([]Note{1, 1, 1, 1, 1, 1}, t0)
	assert.Len(t, p.notes, maxNotes)
}

func TestRouter_DragFinish(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.SetMode(Drag)

	r.Emit(Drag, EventFinish, t0)
	for d := time.Duration(0); d <= time.Second; d += 10 * ms {
		r.Tick(at(d))
	}
	assert.Equal(t, 2, rec.count("led false/true"))
	assert.Equal(t, 1, rec.count("tone 2000"))
	assert.Equal(t, 1, rec.count("silence"))
	assert.Equal(t, uint64(1), r.Snapshot().Emitted)
	assert.False(t, r.Snapshot().LEDActive)
}

func TestRouter_SteadyCancelsPattern(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.SetMode(Drag)

	r.Emit(Drag, EventFinish, t0)
	r.Tick(t0)
	r.Emit(Drag, EventGo, at(10*ms))
	assert.False(t, r.Snapshot().LEDActive)
	assert.Equal(t, "green", r.Snapshot().Color)

	r.Emit(Drag, EventCountdownCue, at(20*ms))
	assert.True(t, rec.red)
	assert.False(t, rec.green)
}

// play emits ev at start and ticks the router for half a second.
func play(r *Router, m Mode, ev Event, start time.Duration) {
	r.Emit(m, ev, at(start))
	for d := time.Duration(0); d <= 500*ms; d += 10 * ms {
		r.Tick(at(start + d))
	}
}

func TestRouter_DragCountdownTones(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.SetMode(Drag)

	for i := 0; i < 3; i++ {
		play(r, Drag, EventCountdownCue, time.Duration(i)*time.Second)
		assert.True(t, rec.red)
	}
	assert.Equal(t, 3, rec.count("tone 2000"), "one low note per countdown edge")

	play(r, Drag, EventArmed, 3*time.Second)
	assert.Equal(t, 1, rec.count("tone 2800"))
	assert.True(t, rec.green)
	assert.False(t, rec.red)

	play(r, Drag, EventGo, 4*time.Second)
	assert.Equal(t, 4, rec.count("tone 2000"), "launch plays the low note")
	assert.Equal(t, 0, rec.hz)
}

func TestRouter_DiagnosticsConnectTones(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.SetMode(Diagnostics)

	play(r, Diagnostics, EventConnect, 0)
	assert.Equal(t, []int{1, 0}, []int{rec.count("tone 2000"), rec.count("tone 2800")})
	play(r, Diagnostics, EventDisconnect, time.Second)
	assert.Equal(t, 1, rec.count("tone 2800"))
	assert.True(t, rec.red)
}

func TestRouter_Gating(t *testing.T) {
	rec := &recorder{}
	p := DefaultPrefs()
	p.GlobalLED = false
	r := NewRouter(rec, p)
	r.SetMode(Lap)

	r.Emit(Lap, EventBest, t0)
	r.Tick(t0)
	assert.Equal(t, 0, rec.count("led true/true"))
	assert.Equal(t, 1, rec.count("tone 2000"))

	p.GlobalBuzzer = false
	r.SetPrefs(p)
	r.Emit(Lap, EventCrossing, at(time.Second))
	r.Tick(at(time.Second))
	assert.Equal(t, uint64(1), r.Snapshot().Emitted)

	p = DefaultPrefs()
	p.LED[Lap] = false
	p.Buzzer[Lap] = false
	r.SetPrefs(p)
	r.Emit(Lap, EventBest, at(2*time.Second))
	assert.Equal(t, uint64(1), r.Snapshot().Emitted)
}

func TestRouter_UnmappedIgnored(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.Emit(Bench, EventBest, t0)
	r.Emit(Drift, EventDriftActive, t0)
	assert.Equal(t, uint64(0), r.Snapshot().Emitted)
	assert.Empty(t, rec.ops)
}

func TestRouter_DashboardBaseline(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())

	r.SetStatus(Status{AllOK: true})
	r.Tick(t0)
	assert.True(t, rec.green)
	assert.False(t, rec.red)

	r.SetStatus(Status{})
	r.Tick(at(10 * ms))
	assert.False(t, rec.green)

	r.SetStatus(Status{LostLong: true})
	r.Tick(at(20 * ms))
	assert.True(t, r.Snapshot().LEDActive)
	r.Tick(at(20 * ms))
	assert.True(t, rec.red)
}

func TestRouter_PatternBeatsBaseline(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.SetStatus(Status{AllOK: true})
	r.Emit(Dashboard, EventError, t0)

	r.Tick(t0)
	assert.True(t, rec.red)
	r.Tick(at(100 * ms))
	assert.True(t, rec.red, "baseline must not override a running pattern")
	assert.False(t, rec.green)
}

func TestRouter_CrawlingBaseline(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.SetMode(Crawling)

	r.SetStatus(Status{PitchDeg: 10, RollDeg: -5})
	r.Tick(t0)
	assert.Equal(t, "green", r.Snapshot().Color)

	r.SetStatus(Status{PitchDeg: 2, RollDeg: -25})
	r.Tick(at(10 * ms))
	assert.Equal(t, "yellow", r.Snapshot().Color)

	r.SetStatus(Status{PitchDeg: 31})
	r.Tick(at(20 * ms))
	assert.Equal(t, "red", r.Snapshot().Color)
	assert.True(t, r.Snapshot().ToneBusy)
	r.Tick(at(20 * ms))
	assert.Equal(t, 2400, rec.hz)

	// no second warning within three seconds
	for d := 30 * ms; d < 3*time.Second; d += 10 * ms {
		r.Tick(at(d))
	}
	assert.Equal(t, 1, rec.count("tone 2400"))
	r.Tick(at(3100 * ms))
	r.Tick(at(3100 * ms))
	assert.Equal(t, 2, rec.count("tone 2400"))
}

func TestRouter_BenchBaseline(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.SetMode(Bench)

	r.SetStatus(Status{HDOP: 1.2, IMUFresh: true})
	r.Tick(t0)
	assert.Equal(t, "green", r.Snapshot().Color)

	r.SetStatus(Status{HDOP: 0, IMUFresh: true})
	r.Tick(at(10 * ms))
	assert.Equal(t, "red", r.Snapshot().Color)
}

func TestRouter_CompassBaseline(t *testing.T) {
	rec := &recorder{}
	r := NewRouter(rec, DefaultPrefs())
	r.SetMode(Compass)
	r.Tick(t0)
	assert.Equal(t, "red", r.Snapshot().Color)
	r.SetStatus(Status{MagCalibrated: true})
	r.Tick(at(10 * ms))
	assert.Equal(t, "green", r.Snapshot().Color)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Drift ")
	require.NoError(t, err)
	assert.Equal(t, Drift, m)
	_, err = ParseMode("warp")
	assert.Error(t, err)
	assert.Equal(t, "bench", Bench.String())
}

func TestColorDies(t *testing.T) {
	red, green := Yellow.Dies()
	assert.True(t, red)
	assert.True(t, green)
	red, green = Off.Dies()
	assert.False(t, red || green)
}
