// Package drift scores sideways travel from the gap between the vehicle's
// heading and its GPS course.
package drift

import (
	"math"
	"time"
)

const (
	MinSpeedKMH = 20.0
	MaxHDOP     = 2.0
)

// Inputs for one tick.
type Inputs struct {
	YawDeg    float64
	CourseDeg float64
	LateralG  float64
	SpeedMS   float64
	HDOP      float64
	Now       time.Time
}

// Metric keeps its last computed angle and score while the validity gate is
// closed; Stale reports that case.
type Metric struct {
	AngleDeg  float64   `json:"angle_deg"`
	Score     float64   `json:"score"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Scorer owns the Metric.
type Scorer struct {
	m Metric
}

func NewScorer() *Scorer { return &Scorer{m: Metric{Stale: true}} }

func (s *Scorer) Metric() Metric { return s.m }

// Valid reports whether speed and HDOP allow a fresh score.
func Valid(in Inputs) bool {
	return in.SpeedMS*3.6 > MinSpeedKMH && in.HDOP > 0 && in.HDOP < MaxHDOP
}

// Step recomputes the metric when valid; otherwise it only marks it stale.
func (s *Scorer) Step(in Inputs) Metric {
	if !Valid(in) {
		s.m.Stale = true
		return s.m
	}
	theta := Wrap180(in.YawDeg - in.CourseDeg)
	kmh := in.SpeedMS * 3.6
	s.m = Metric{
		AngleDeg:  theta,
		Score:     0.5*math.Abs(theta) + 10*math.Abs(in.LateralG) + 0.05*kmh,
		UpdatedAt: in.Now,
	}
	return s.m
}

// Wrap180 maps an angle in degrees into [-180, 180].
func Wrap180(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}
