package web

import (
	"sync/atomic"
	"time"

	"axion/internal/engine"
	"axion/internal/feedback"
	"axion/internal/gps"
	"axion/internal/obd"
	"axion/internal/sysstate"
)

const serviceName = "axion"

// Sources are polled on every /api/status request. Nil entries are omitted
// from the response.
type Sources struct {
	Engine   func() engine.Snapshot
	GPS      func() gps.Snapshot
	OBD      func() obd.Snapshot
	Feedback func() feedback.Snapshot
	Boot     func() sysstate.State
	Pulse    func() (edges, taken uint64)
}

type Status struct {
	startUnixNano int64
	static        atomic.Value // map[string]any
	sources       atomic.Value // Sources
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.static.Store(map[string]any{})
	s.sources.Store(Sources{})
	return s
}

// SetStatic records configuration facts that do not change while running.
func (s *Status) SetStatic(info map[string]any) {
	if info != nil {
		s.static.Store(info)
	}
}

func (s *Status) SetSources(src Sources) {
	s.sources.Store(src)
}

type PulseSnapshot struct {
	Edges uint64 `json:"edges"`
	Taken uint64 `json:"taken"`
}

type StatusSnapshot struct {
	Service   string             `json:"service"`
	NowUTC    string             `json:"now_utc"`
	UptimeSec int64              `json:"uptime_sec"`
	Static    map[string]any     `json:"static"`
	Engine    *engine.Snapshot   `json:"engine,omitempty"`
	GPS       *gps.Snapshot      `json:"gps,omitempty"`
	OBD       *obd.Snapshot      `json:"obd,omitempty"`
	Feedback  *feedback.Snapshot `json:"feedback,omitempty"`
	Boot      *sysstate.State    `json:"boot,omitempty"`
	Pulse     *PulseSnapshot     `json:"pulse,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	snap := StatusSnapshot{
		Service:   serviceName,
		NowUTC:    nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec: int64(nowUTC.Sub(start).Seconds()),
		Static:    s.static.Load().(map[string]any),
	}
	src := s.sources.Load().(Sources)
	if src.Engine != nil {
		v := src.Engine()
		snap.Engine = &v
	}
	if src.GPS != nil {
		v := src.GPS()
		snap.GPS = &v
	}
	if src.OBD != nil {
		v := src.OBD()
		snap.OBD = &v
	}
	if src.Feedback != nil {
		v := src.Feedback()
		snap.Feedback = &v
	}
	if src.Boot != nil {
		v := src.Boot()
		snap.Boot = &v
	}
	if src.Pulse != nil {
		edges, taken := src.Pulse()
		snap.Pulse = &PulseSnapshot{Edges: edges, Taken: taken}
	}
	return snap
}
