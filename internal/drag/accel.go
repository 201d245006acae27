package drag

import "time"

// AccelTargetKMH ends a 0-100 run.
const AccelTargetKMH = 100.0

// AccelTimer times 0-100 km/h. It arms itself: a run starts once speed
// exceeds LaunchKMH with at least LaunchG of longitudinal acceleration.
type AccelTimer struct {
	running bool
	start   time.Time
	result  time.Duration
}

// AccelResult is the published state of the timer.
type AccelResult struct {
	Running bool          `json:"running"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Result  time.Duration `json:"result_ns"`
}

// Step advances the timer and returns CueLaunch on launch and CueFinish when
// the target speed is reached.
func (a *AccelTimer) Step(in Input) Cue {
	kmh := in.SpeedMS * 3.6
	if !a.running {
		if kmh > LaunchKMH && in.AccelG > LaunchG && a.result == 0 {
			a.running = true
			a.start = in.Now
			return CueLaunch
		}
		return CueNone
	}
	if kmh >= AccelTargetKMH {
		a.running = false
		a.result = in.Now.Sub(a.start)
		return CueFinish
	}
	return CueNone
}

// Reset clears a finished result so the timer can arm again.
func (a *AccelTimer) Reset() { *a = AccelTimer{} }

func (a *AccelTimer) Snapshot(now time.Time) AccelResult {
	r := AccelResult{Running: a.running, Result: a.result}
	if a.running {
		r.Elapsed = now.Sub(a.start)
	}
	return r
}
