package ahrs

import (
	"math"
	"time"
)

// State is the published orientation.
type State struct {
	Q          [4]float64 `json:"q"`
	YawDeg     float64    `json:"yaw_deg"`
	PitchDeg   float64    `json:"pitch_deg"`
	RollDeg    float64    `json:"roll_deg"`
	HeadingDeg float64    `json:"heading_deg"`

	// AccelBody is the accelerometer in the body frame, in g: x is
	// longitudinal, y lateral.
	AccelBody Vec3      `json:"accel_body_g"`
	UsedMag   bool      `json:"used_mag"`
	Valid     bool      `json:"valid"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Estimator applies mount and magnetometer calibration to raw samples and
// runs the filter. Only its owner goroutine calls Step.
type Estimator struct {
	filter *Filter
	mount  Mount
	cal    Calibration
	last   time.Time
	state  State
}

func NewEstimator(beta float64, mount Mount, cal Calibration) *Estimator {
	return &Estimator{filter: NewFilter(beta), mount: mount, cal: cal}
}

func (e *Estimator) SetMount(m Mount)             { e.mount = m }
func (e *Estimator) Mount() Mount                 { return e.mount }
func (e *Estimator) SetCalibration(c Calibration) { e.cal = c }
func (e *Estimator) Calibration() Calibration     { return e.cal }
func (e *Estimator) State() State                 { return e.state }

// Step consumes one sample. The interval since the previous sample is
// clamped by the filter.
func (e *Estimator) Step(s Sample) State {
	dt := 0.0
	if !e.last.IsZero() {
		dt = s.At.Sub(e.last).Seconds()
	}
	e.last = s.At

	accel := e.mount.ToBody(s.Accel)
	gyro := e.mount.ToBody(s.Gyro)
	useMag := s.HasMag && e.cal.Valid
	if useMag {
		mag := e.mount.ToBody(e.cal.Apply(s.Mag))
		e.filter.Update(gyro, accel, mag, dt)
	} else {
		e.filter.UpdateIMU(gyro, accel, dt)
	}

	yaw, pitch, roll := e.filter.Euler()
	q := e.filter.Quaternion()
	e.state = State{
		Q:          [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag},
		YawDeg:     yaw,
		PitchDeg:   pitch,
		RollDeg:    roll,
		HeadingDeg: math.Mod(yaw+360, 360),
		AccelBody:  accel,
		UsedMag:    useMag,
		Valid:      accel.Norm() > minNorm,
		UpdatedAt:  s.At,
	}
	return e.state
}
