package engine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"axion/internal/ahrs"
	"axion/internal/archive"
	"axion/internal/drag"
	"axion/internal/errlog"
	"axion/internal/feedback"
)

const requestTimeout = time.Second

var errBusy = errors.New("engine: loop did not accept request")

// do runs fn on the loop goroutine, or inline when the loop is not running.
// Start flips running under e.mu, so the inline path never overlaps a loop.
func (e *Engine) do(fn func() error) error {
	e.mu.Lock()
	if !e.running.Load() {
		defer e.mu.Unlock()
		return fn()
	}
	e.mu.Unlock()

	req := request{fn: fn, done: make(chan error, 1)}
	t := time.NewTimer(requestTimeout)
	defer t.Stop()
	select {
	case e.reqs <- req:
	case <-t.C:
		return errBusy
	}
	return <-req.done
}

// SetMode switches the active screen. Events from other screens are not
// routed to the feedback outputs.
func (e *Engine) SetMode(name string) error {
	m, err := feedback.ParseMode(name)
	if err != nil {
		return err
	}
	return e.do(func() error {
		e.mode = m
		e.deps.Router.SetMode(m)
		return nil
	})
}

func (e *Engine) SetDragTarget(t drag.Target) error {
	return e.do(func() error { return e.drag.SetTarget(t) })
}

// StartDrag begins the pulse-paced countdown.
func (e *Engine) StartDrag() error {
	return e.do(e.drag.StartCountdown)
}

func (e *Engine) AbortDrag() error {
	return e.do(e.drag.Abort)
}

// ConfirmDrag closes a finished run. With save set the run is archived.
func (e *Engine) ConfirmDrag(save bool) (drag.Run, error) {
	var run drag.Run
	err := e.do(func() error {
		r, err := e.drag.Confirm(save)
		if err != nil {
			return err
		}
		run = r
		if !save || e.deps.Archive == nil {
			return nil
		}
		rec := dragRecord(r, e.deps.Clock.Now())
		if err := e.deps.Archive.InsertDrag(rec); err != nil {
			e.storageFail("archive", err)
			return err
		}
		log.Printf("drag run archived id=%s target=%s time=%s", rec.ID, rec.Target, r.Final())
		return nil
	})
	return run, err
}

func dragRecord(r drag.Run, now time.Time) *archive.DragRun {
	rec := &archive.DragRun{
		Target:     r.TargetName,
		DistanceM:  r.DistanceM,
		PeakG:      r.PeakG,
		EndSpeedMS: r.EndSpeedMS,
		Split60:    r.Splits[drag.Split60ft].Milliseconds(),
		Split330:   r.Splits[drag.Split330ft].Milliseconds(),
		Split660:   r.Splits[drag.Split660ft].Milliseconds(),
		FinalMs:    r.Final().Milliseconds(),
		RecordedAt: now.UnixMilli(),
	}
	if !r.Start.IsZero() {
		rec.StartedAt = r.Start.UnixMilli()
	}
	return rec
}

// ResetAccel re-arms the 0-100 timer.
func (e *Engine) ResetAccel() error {
	return e.do(func() error {
		e.accel.Reset()
		return nil
	})
}

// ResetPeakG clears the g-force record.
func (e *Engine) ResetPeakG() error {
	return e.do(func() error {
		e.peakG = 0
		return nil
	})
}

func (e *Engine) LapStartRacing() error {
	return e.do(e.lap.StartRacing)
}

// LapReset clears the learned track and returns to learning.
func (e *Engine) LapReset() error {
	return e.do(func() error {
		e.lap.Reset()
		return nil
	})
}

// LapSelectSlot returns the slot actually selected.
func (e *Engine) LapSelectSlot(n int) (int, error) {
	var got int
	err := e.do(func() error {
		got = e.lap.SelectSlot(n)
		return nil
	})
	return got, err
}

// LapSave writes the track to its slot.
func (e *Engine) LapSave() error {
	return e.do(func() error {
		if e.deps.Store == nil {
			return errNoStore
		}
		if err := e.lap.Save(e.deps.Store); err != nil {
			e.storageFail("lap", err)
			return err
		}
		return nil
	})
}

func (e *Engine) LapLoad(slot int) error {
	return e.do(func() error {
		if e.deps.Store == nil {
			return errNoStore
		}
		return e.lap.LoadSlot(e.deps.Store, slot)
	})
}

// Level rebuilds the mount from the recent accelerometer average. The
// vehicle must be at rest.
func (e *Engine) Level(forwardAxis int) (ahrs.Mount, error) {
	var m ahrs.Mount
	err := e.do(func() error {
		samples := e.gravity.Last(0)
		if len(samples) == 0 {
			return fmt.Errorf("engine: no accelerometer samples")
		}
		var g ahrs.Vec3
		for _, s := range samples {
			for i := range g {
				g[i] += s[i]
			}
		}
		for i := range g {
			g[i] /= float64(len(samples))
		}
		mount, err := ahrs.MountFromGravity(forwardAxis, g)
		if err != nil {
			return err
		}
		e.est.SetMount(mount)
		m = mount
		log.Printf("ahrs leveled forward_axis=%d samples=%d", forwardAxis, len(samples))
		return nil
	})
	return m, err
}

// SaveCalibration stores and applies a magnetometer calibration.
func (e *Engine) SaveCalibration(c ahrs.Calibration) error {
	return e.do(func() error {
		now := e.deps.Clock.Now()
		if e.deps.Store == nil {
			e.emit(now, feedback.Compass, feedback.EventError)
			return errNoStore
		}
		if err := ahrs.SaveCalibration(e.deps.Store, c); err != nil {
			e.storageFail("calibration", err)
			e.emit(now, feedback.Compass, feedback.EventError)
			return err
		}
		c.Sanitize()
		c.Valid = true
		e.est.SetCalibration(c)
		e.emit(now, feedback.Compass, feedback.EventOK)
		return nil
	})
}

// SetFeedbackPrefs applies the channel enables and stores them. The router
// keeps the new values even when the write fails.
func (e *Engine) SetFeedbackPrefs(p feedback.Prefs) error {
	return e.do(func() error {
		e.deps.Router.SetPrefs(p)
		if e.deps.Store == nil {
			return errNoStore
		}
		if err := feedback.SavePrefs(e.deps.Store, p); err != nil {
			e.storageFail("feedback", err)
			return err
		}
		return nil
	})
}

// FlushLog persists the diagnostic log now.
func (e *Engine) FlushLog() error {
	return e.do(func() error {
		e.logDirty = true
		e.lastFlush = e.deps.Clock.Now()
		return e.flush()
	})
}

// ClearLog empties the in-memory diagnostic log.
func (e *Engine) ClearLog() error {
	return e.do(func() error {
		e.deps.Log.Clear()
		e.logDirty = true
		return nil
	})
}

// RecordError adds an entry on behalf of a collaborator.
func (e *Engine) RecordError(code errlog.Code, src string, data int32) error {
	return e.do(func() error {
		e.logErr(code, src, data)
		return nil
	})
}
