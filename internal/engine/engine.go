// Package engine runs the high-rate loop: it reads the latest decoder
// snapshots and IMU samples, advances the estimators and timing machines,
// drives the feedback router and records diagnostics. The loop goroutine is
// the only writer of every machine it owns; other goroutines read the
// published Snapshot or send requests through the command methods.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"axion/internal/ahrs"
	"axion/internal/archive"
	"axion/internal/drag"
	"axion/internal/drift"
	"axion/internal/eeprom"
	"axion/internal/errlog"
	"axion/internal/feedback"
	"axion/internal/fusion"
	"axion/internal/gps"
	"axion/internal/lap"
	"axion/internal/obd"
	"axion/internal/pps"
	"axion/internal/ring"
	"axion/internal/sysstate"
	"axion/internal/timeutil"
)

const (
	DefaultInterval       = 10 * time.Millisecond
	DefaultGPSStale       = 2 * time.Second
	DefaultIMUStale       = 500 * time.Millisecond
	DefaultLostLong       = 10 * time.Second
	DefaultFlushInterval  = 5 * time.Minute
	DefaultDriftHighScore = 50.0

	gravityWindow   = 64
	gforceMinRecord = 0.3
	gforceStep      = 0.05
	driftRecordGap  = 2 * time.Second
)

type Config struct {
	Interval       time.Duration
	GPSStale       time.Duration
	IMUStale       time.Duration
	LostLong       time.Duration
	FlushInterval  time.Duration
	Beta           float64
	DriftHighScore float64
	DragTarget     drag.Target
	LapSlot        int
	Mode           feedback.Mode
	Mount          ahrs.Mount
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.GPSStale <= 0 {
		c.GPSStale = DefaultGPSStale
	}
	if c.IMUStale <= 0 {
		c.IMUStale = DefaultIMUStale
	}
	if c.LostLong <= 0 {
		c.LostLong = DefaultLostLong
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.Beta <= 0 {
		c.Beta = ahrs.DefaultBeta
	}
	if c.DriftHighScore <= 0 {
		c.DriftHighScore = DefaultDriftHighScore
	}
	if c.LapSlot == 0 {
		c.LapSlot = 1
	}
	if !c.Mount.Set && c.Mount.X == (ahrs.Vec3{}) {
		c.Mount = ahrs.IdentityMount()
	}
}

// FixSource is satisfied by *gps.Service.
type FixSource interface{ Fix() gps.Fix }

// OBDSource is satisfied by *obd.Service.
type OBDSource interface{ Sample() obd.Sample }

// Archive is satisfied by *archive.DB.
type Archive interface {
	InsertDrag(*archive.DragRun) error
	InsertLap(*archive.Lap) error
}

// Deps are the collaborators. Any of GPS, OBD, IMU, Pulse, Store, State and
// Archive may be nil.
type Deps struct {
	GPS     FixSource
	OBD     OBDSource
	IMU     ahrs.Source
	Pulse   *pps.Capture
	Store   eeprom.Store
	Router  *feedback.Router
	Log     *errlog.Log
	State   *sysstate.Tracker
	Archive Archive
	Clock   timeutil.Clock
}

// Health is the staleness monitor's view.
type Health struct {
	GPSStale     bool          `json:"gps_stale"`
	GPSLostLong  bool          `json:"gps_lost_long"`
	GPSAge       time.Duration `json:"gps_age_ns"`
	IMUStale     bool          `json:"imu_stale"`
	IMUAge       time.Duration `json:"imu_age_ns"`
	IMUErrors    uint64        `json:"imu_errors"`
	OBDConnected bool          `json:"obd_connected"`
	PulseEdges   uint64        `json:"pulse_edges"`
	Overruns     uint64        `json:"overruns"`
}

// Snapshot is published once per tick.
type Snapshot struct {
	At          time.Time        `json:"at"`
	Ticks       uint64           `json:"ticks"`
	Mode        string           `json:"mode"`
	Fix         gps.Fix          `json:"fix"`
	OBD         obd.Sample       `json:"obd"`
	Orientation ahrs.State       `json:"orientation"`
	Speed       fusion.Speed     `json:"speed"`
	Drift       drift.Metric     `json:"drift"`
	Lap         lap.Snapshot     `json:"lap"`
	Drag        drag.Run         `json:"drag"`
	Accel       drag.AccelResult `json:"accel"`
	PeakG       float64          `json:"peak_g"`
	Health      Health           `json:"health"`
}

type request struct {
	fn   func() error
	done chan error
}

type Engine struct {
	cfg  Config
	deps Deps

	est     *ahrs.Estimator
	kal     *fusion.Kalman
	drift   *drift.Scorer
	lap     *lap.Machine
	drag    *drag.Machine
	accel   drag.AccelTimer
	gravity *ring.Buffer[ahrs.Vec3]

	mode     feedback.Mode
	started  time.Time
	ticks    uint64
	overruns uint64
	health   Health

	lastIMU       time.Time
	imuFailLogged bool
	gpsLostLogged bool
	obdUp         bool
	logDirty      bool
	lastFlush     time.Time
	driftHigh     bool
	driftBest     float64
	driftRecordAt time.Time
	peakG         float64

	reqs    chan request
	running atomic.Bool
	last    atomic.Value // Snapshot

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var errNoStore = errors.New("engine: no persistent store")

// New builds the engine and restores persisted state from deps.Store.
func New(cfg Config, deps Deps) *Engine {
	cfg.defaults()
	if deps.Clock == nil {
		deps.Clock = timeutil.NewRealClock()
	}
	if deps.Log == nil {
		deps.Log = errlog.New(deps.Clock)
	}
	if deps.Router == nil {
		deps.Router = feedback.NewRouter(nil, feedback.DefaultPrefs())
	}

	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		kal:     fusion.NewKalman(),
		drift:   drift.NewScorer(),
		lap:     lap.New(),
		drag:    drag.New(cfg.DragTarget),
		gravity: ring.New[ahrs.Vec3](gravityWindow),
		mode:    cfg.Mode,
		reqs:    make(chan request),
		started: deps.Clock.Now(),
	}
	e.lastFlush = e.started

	cal := ahrs.DefaultCalibration()
	if deps.Store != nil {
		c, err := ahrs.LoadCalibration(deps.Store)
		switch {
		case err == nil:
			cal = c
		case eeprom.IsUnset(err):
			log.Printf("ahrs calibration not set; magnetometer unused")
		default:
			log.Printf("ahrs calibration load failed: %v", err)
		}
		e.restoreLap()
	} else {
		e.lap.SelectSlot(cfg.LapSlot)
	}
	e.est = ahrs.NewEstimator(cfg.Beta, cfg.Mount, cal)
	deps.Router.SetMode(cfg.Mode)
	e.last.Store(Snapshot{Mode: cfg.Mode.String()})
	return e
}

func (e *Engine) restoreLap() {
	if err := e.lap.LoadSlot(e.deps.Store, e.cfg.LapSlot); err == nil {
		log.Printf("lap track loaded slot=%d points=%d", e.lap.Slot(), len(e.lap.Points()))
		return
	}
	slot, err := e.lap.Load(e.deps.Store)
	if err != nil {
		e.lap.SelectSlot(e.cfg.LapSlot)
		log.Printf("lap no stored track; learning slot=%d", e.lap.Slot())
		return
	}
	log.Printf("lap track loaded slot=%d points=%d", slot, len(e.lap.Points()))
}

// Start records the boot and launches the loop.
func (e *Engine) Start(ctx context.Context) error {
	if e == nil {
		return fmt.Errorf("engine is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return nil
	}
	e.boot()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running.Store(true)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		e.run(runCtx)
	}()
	log.Printf("engine started interval=%s mode=%s", e.cfg.Interval, e.mode)
	return nil
}

func (e *Engine) boot() {
	st := e.deps.State
	if st == nil {
		return
	}
	prev := st.State()
	if prev.Boots > 0 && prev.LastResetReason == sysstate.ResetCrash {
		e.logErr(errlog.RebootCause, "boot", int32(prev.LastResetReason))
	}
	// Stays ResetCrash unless Close marks a clean shutdown.
	if err := st.NoteBoot(sysstate.ResetCrash); err != nil {
		e.storageFail("sysstate", err)
	}
}

func (e *Engine) run(ctx context.Context) {
	t := time.NewTicker(e.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.reqs:
			req.done <- req.fn()
		case <-t.C:
			start := time.Now()
			e.Tick()
			if time.Since(start) > e.cfg.Interval {
				e.overruns++
			}
		}
	}
}

// Close stops the loop, flushes the diagnostic log and records a clean
// shutdown.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	uptime := e.deps.Clock.Since(e.started)
	if e.deps.Store != nil {
		e.deps.Log.Add(errlog.StorageFlush, "shutdown", int32(e.deps.Log.Len()))
		e.logDirty = true
		e.flush()
	}
	if e.deps.State != nil {
		if err := e.deps.State.MarkShutdown(uint32(uptime.Milliseconds())); err != nil {
			log.Printf("sysstate shutdown write failed: %v", err)
		}
	}
	log.Printf("engine stopped uptime=%s ticks=%d", uptime.Round(time.Second), e.ticks)
}

func (e *Engine) Snapshot() Snapshot {
	if e == nil {
		return Snapshot{}
	}
	v := e.last.Load()
	if v == nil {
		return Snapshot{}
	}
	return v.(Snapshot)
}

// Log is the diagnostic log the engine writes to.
func (e *Engine) Log() *errlog.Log { return e.deps.Log }

// Tick runs one pass of the pipeline. Only the loop goroutine, or a caller
// that has not started the engine, may call it.
func (e *Engine) Tick() Snapshot {
	now := e.deps.Clock.Now()
	e.ticks++

	var fix gps.Fix
	if e.deps.GPS != nil {
		fix = e.deps.GPS.Fix()
	}
	var car obd.Sample
	if e.deps.OBD != nil {
		car = e.deps.OBD.Sample()
	}

	e.monitorGPS(now, fix)
	e.monitorOBD(now, car)
	orient := e.stepIMU(now)
	gpsOK := fix.Valid && !e.health.GPSStale

	speed := e.kal.Step(fusion.Inputs{
		GPSValid:     gpsOK,
		GPSSpeedMS:   fix.SpeedMS,
		HDOP:         fix.HDOP,
		OBDConnected: car.Connected,
		OBDSpeedMS:   car.SpeedMS,
	})
	metric := e.stepDrift(now, fix, orient)
	e.stepLap(now, fix, gpsOK)

	pulse := false
	if e.deps.Pulse != nil {
		_, pulse = e.deps.Pulse.Take()
		e.health.PulseEdges, _ = e.deps.Pulse.Stats()
	}
	gpsSpeed := 0.0
	if gpsOK {
		gpsSpeed = fix.SpeedMS
	}
	e.stepTimers(now, gpsSpeed, orient, pulse)
	e.stepGForces(now, orient)

	e.deps.Router.SetStatus(feedback.Status{
		AllOK:         !e.health.GPSStale && !e.health.IMUStale,
		LostLong:      e.health.GPSLostLong,
		MagCalibrated: e.est.Calibration().Valid,
		PitchDeg:      orient.PitchDeg,
		RollDeg:       orient.RollDeg,
		HDOP:          fix.HDOP,
		IMUFresh:      !e.health.IMUStale,
	})
	e.deps.Router.Tick(now)
	e.maybeFlush(now)

	e.health.Overruns = e.overruns
	snap := Snapshot{
		At:          now,
		Ticks:       e.ticks,
		Mode:        e.mode.String(),
		Fix:         fix,
		OBD:         car,
		Orientation: orient,
		Speed:       speed,
		Drift:       metric,
		Lap:         e.lap.Snapshot(),
		Drag:        e.drag.Snapshot(),
		Accel:       e.accel.Snapshot(now),
		PeakG:       e.peakG,
		Health:      e.health,
	}
	e.last.Store(snap)
	return snap
}

func (e *Engine) monitorGPS(now time.Time, fix gps.Fix) {
	last := fix.LastFix
	if last.IsZero() {
		last = e.started
	}
	age := now.Sub(last)
	e.health.GPSAge = age
	e.health.GPSStale = !fix.Valid || age > e.cfg.GPSStale
	e.health.GPSLostLong = e.deps.GPS != nil && age > e.cfg.LostLong

	if !e.health.GPSStale {
		e.gpsLostLogged = false
	}
	if e.health.GPSLostLong && !e.gpsLostLogged {
		e.gpsLostLogged = true
		e.logErr(errlog.GPSLost, "gps", int32(age/time.Second))
	}
}

func (e *Engine) monitorOBD(now time.Time, car obd.Sample) {
	e.health.OBDConnected = car.Connected
	if e.deps.OBD == nil || car.Connected == e.obdUp {
		return
	}
	e.obdUp = car.Connected
	if car.Connected {
		e.emit(now, feedback.Diagnostics, feedback.EventConnect)
		return
	}
	e.emit(now, feedback.Diagnostics, feedback.EventDisconnect)
	e.logErr(errlog.OBDTimeout, "obd", 0)
}

func (e *Engine) stepIMU(now time.Time) ahrs.State {
	if e.deps.IMU != nil {
		s, err := e.deps.IMU.Read()
		if err != nil {
			e.health.IMUErrors++
			if !e.imuFailLogged {
				e.imuFailLogged = true
				log.Printf("imu read failed: %v", err)
				e.logErr(errlog.IMUFail, "imu", int32(e.health.IMUErrors))
			}
		} else {
			if s.At.IsZero() {
				s.At = now
			}
			e.est.Step(s)
			e.gravity.Push(s.Accel)
			e.lastIMU = now
			e.imuFailLogged = false
		}
	}
	last := e.lastIMU
	if last.IsZero() {
		last = e.started
	}
	e.health.IMUAge = now.Sub(last)
	e.health.IMUStale = e.lastIMU.IsZero() || e.health.IMUAge > e.cfg.IMUStale
	return e.est.State()
}

func (e *Engine) stepDrift(now time.Time, fix gps.Fix, orient ahrs.State) drift.Metric {
	in := drift.Inputs{
		YawDeg:    orient.YawDeg,
		CourseDeg: fix.CourseDeg,
		LateralG:  orient.AccelBody[1],
		SpeedMS:   fix.SpeedMS,
		HDOP:      fix.HDOP,
		Now:       now,
	}
	if e.health.IMUStale || e.health.GPSStale {
		in.SpeedMS = 0 // closes the validity gate
	}
	m := e.drift.Step(in)
	if m.Stale {
		e.driftHigh = false
		return m
	}
	high := m.Score >= e.cfg.DriftHighScore
	if high && !e.driftHigh {
		e.emit(now, feedback.Drift, feedback.EventDriftScoreHigh)
	}
	e.driftHigh = high
	if high && m.Score > e.driftBest && now.Sub(e.driftRecordAt) >= driftRecordGap {
		if e.driftBest > 0 {
			e.emit(now, feedback.Drift, feedback.EventRecord)
		}
		e.driftRecordAt = now
	}
	if m.Score > e.driftBest {
		e.driftBest = m.Score
	}
	return m
}

func (e *Engine) stepLap(now time.Time, fix gps.Fix, gpsOK bool) {
	res := e.lap.Step(lap.Input{
		Point:   lap.Point{Lat: fix.LatDeg, Lon: fix.LonDeg},
		SpeedMS: fix.SpeedMS,
		Valid:   gpsOK,
		Now:     now,
	})
	if !res.Crossing {
		return
	}
	if res.NewBest {
		e.emit(now, feedback.Lap, feedback.EventBest)
	} else {
		e.emit(now, feedback.Lap, feedback.EventCrossing)
	}
	if !res.Completed {
		return
	}
	log.Printf("lap completed slot=%d time=%s best=%v", e.lap.Slot(), res.LapTime, res.NewBest)
	if e.deps.Archive != nil {
		rec := &archive.Lap{
			Slot:       e.lap.Slot(),
			Number:     e.lap.Snapshot().Laps,
			LapMs:      res.LapTime.Milliseconds(),
			Best:       res.NewBest,
			RecordedAt: now.UnixMilli(),
		}
		if err := e.deps.Archive.InsertLap(rec); err != nil {
			e.storageFail("archive", err)
		}
	}
	if res.NewBest && e.deps.Store != nil {
		if err := e.lap.Save(e.deps.Store); err != nil {
			e.storageFail("lap", err)
		}
	}
}

// stepTimers drives the drag machine and the 0-100 timer from GPS speed.
// Distance is integrated from the receiver, not the fused estimate.
func (e *Engine) stepTimers(now time.Time, gpsSpeed float64, orient ahrs.State, pulse bool) {
	in := drag.Input{Now: now, SpeedMS: gpsSpeed, AccelG: orient.AccelBody[0], Pulse: pulse}
	switch e.drag.Step(in) {
	case drag.CueCount:
		e.emit(now, feedback.Drag, feedback.EventCountdownCue)
	case drag.CueGo:
		e.emit(now, feedback.Drag, feedback.EventArmed)
	case drag.CueLaunch:
		e.emit(now, feedback.Drag, feedback.EventGo)
	case drag.CueFinish:
		run := e.drag.Snapshot()
		log.Printf("drag finished target=%s time=%s peak_g=%.2f", run.TargetName, run.Final(), run.PeakG)
		e.emit(now, feedback.Drag, feedback.EventFinish)
	}
	if e.health.IMUStale {
		return
	}
	switch e.accel.Step(in) {
	case drag.CueLaunch:
		e.emit(now, feedback.Accel, feedback.EventGo)
	case drag.CueFinish:
		e.emit(now, feedback.Accel, feedback.EventFinish)
	}
}

func (e *Engine) stepGForces(now time.Time, orient ahrs.State) {
	if e.health.IMUStale {
		return
	}
	g := math.Hypot(orient.AccelBody[0], orient.AccelBody[1])
	if g < gforceMinRecord || g < e.peakG+gforceStep {
		if g > e.peakG {
			e.peakG = g
		}
		return
	}
	e.peakG = g
	e.emit(now, feedback.GForces, feedback.EventRecord)
}

// emit forwards to the router only while the event's screen is active.
func (e *Engine) emit(now time.Time, m feedback.Mode, ev feedback.Event) {
	if m != e.mode {
		return
	}
	e.deps.Router.Emit(m, ev, now)
}

func (e *Engine) logErr(code errlog.Code, src string, data int32) {
	e.deps.Log.Add(code, src, data)
	e.logDirty = true
	if e.deps.State != nil {
		if err := e.deps.State.SetLastError(uint8(code)); err != nil {
			log.Printf("sysstate write failed: %v", err)
		}
	}
}

func (e *Engine) storageFail(src string, err error) {
	log.Printf("%s storage write failed: %v", src, err)
	e.logErr(errlog.StorageWriteFail, src, 0)
}

func (e *Engine) maybeFlush(now time.Time) {
	if e.deps.Store == nil || e.cfg.FlushInterval < 0 || !e.logDirty {
		return
	}
	if now.Sub(e.lastFlush) < e.cfg.FlushInterval {
		return
	}
	e.lastFlush = now
	e.flush()
}

func (e *Engine) flush() error {
	if e.deps.Store == nil {
		return errNoStore
	}
	n, err := e.deps.Log.Persist(e.deps.Store)
	if err != nil {
		// Left dirty; the next interval retries.
		log.Printf("errlog persist failed after %d records: %v", n, err)
		e.deps.Log.Add(errlog.StorageWriteFail, "errlog", int32(n))
		return err
	}
	e.logDirty = false
	return nil
}
