// Package ahrs estimates vehicle orientation from pre-scaled IMU samples with a
// Madgwick filter, and owns the magnetometer calibration record and the
// sensor-to-body mount.
package ahrs

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

const (
	DefaultBeta = 0.1

	// DefaultDT replaces non-positive or oversized sample intervals.
	DefaultDT = 0.005
	maxDT     = 0.1

	minNorm  = 1e-6
	radToDeg = 180 / math.Pi
)

// Vec3 is an x/y/z triple in sensor or body coordinates.
type Vec3 [3]float64

func (v Vec3) Norm() float64 { return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2]) }

// Filter is a Madgwick gradient-descent orientation filter. The quaternion is
// renormalised after every update.
type Filter struct {
	Beta float64
	q    quat.Number
}

func NewFilter(beta float64) *Filter {
	if beta <= 0 {
		beta = DefaultBeta
	}
	return &Filter{Beta: beta, q: quat.Number{Real: 1}}
}

func (f *Filter) Reset() { f.q = quat.Number{Real: 1} }

func (f *Filter) Quaternion() quat.Number { return f.q }

// ClampDT returns dt, or DefaultDT when dt is non-positive or above 100 ms.
func ClampDT(dt float64) float64 {
	if dt <= 0 || dt > maxDT || math.IsNaN(dt) {
		return DefaultDT
	}
	return dt
}

// UpdateIMU integrates gyro (rad/s) corrected toward the accelerometer's
// gravity direction (any unit). A zero accelerometer vector skips the update.
func (f *Filter) UpdateIMU(gyro, accel Vec3, dt float64) {
	dt = ClampDT(dt)
	an := accel.Norm()
	if an <= minNorm {
		return
	}
	ax, ay, az := accel[0]/an, accel[1]/an, accel[2]/an
	q0, q1, q2, q3 := f.q.Real, f.q.Imag, f.q.Jmag, f.q.Kmag

	_2q0, _2q1, _2q2, _2q3 := 2*q0, 2*q1, 2*q2, 2*q3
	_4q0, _4q1, _4q2 := 4*q0, 4*q1, 4*q2
	_8q1, _8q2 := 8*q1, 8*q2
	q0q0, q1q1, q2q2, q3q3 := q0*q0, q1*q1, q2*q2, q3*q3

	s := quat.Number{
		Real: _4q0*q2q2 + _2q2*ax + _4q0*q1q1 - _2q1*ay,
		Imag: _4q1*q3q3 - _2q3*ax + 4*q0q0*q1 - _2q0*ay - _4q1 + _8q1*q1q1 + _8q1*q2q2 + _4q1*az,
		Jmag: 4*q0q0*q2 + _2q0*ax + _4q2*q3q3 - _2q3*ay - _4q2 + _8q2*q1q1 + _8q2*q2q2 + _4q2*az,
		Kmag: 4*q1q1*q3 - _2q1*ax + 4*q2q2*q3 - _2q2*ay,
	}
	f.step(gyro, s, dt)
}

// Update is the full MARG variant. It falls back to UpdateIMU when the
// magnetometer vector is zero.
func (f *Filter) Update(gyro, accel, mag Vec3, dt float64) {
	mn := mag.Norm()
	if mn <= minNorm {
		f.UpdateIMU(gyro, accel, dt)
		return
	}
	dt = ClampDT(dt)
	an := accel.Norm()
	if an <= minNorm {
		return
	}
	ax, ay, az := accel[0]/an, accel[1]/an, accel[2]/an
	mx, my, mz := mag[0]/mn, mag[1]/mn, mag[2]/mn
	q0, q1, q2, q3 := f.q.Real, f.q.Imag, f.q.Jmag, f.q.Kmag

	_2q0mx, _2q0my, _2q0mz, _2q1mx := 2*q0*mx, 2*q0*my, 2*q0*mz, 2*q1*mx
	_2q0, _2q1, _2q2, _2q3 := 2*q0, 2*q1, 2*q2, 2*q3
	_2q0q2, _2q2q3 := 2*q0*q2, 2*q2*q3
	q0q0, q0q1, q0q2, q0q3 := q0*q0, q0*q1, q0*q2, q0*q3
	q1q1, q1q2, q1q3 := q1*q1, q1*q2, q1*q3
	q2q2, q2q3, q3q3 := q2*q2, q2*q3, q3*q3

	// Earth-frame field reference.
	hx := mx*q0q0 - _2q0my*q3 + _2q0mz*q2 + mx*q1q1 + _2q1*my*q2 + _2q1*mz*q3 - mx*q2q2 - mx*q3q3
	hy := _2q0mx*q3 + my*q0q0 - _2q0mz*q1 + _2q1mx*q2 - my*q1q1 + my*q2q2 + _2q2*mz*q3 - my*q3q3
	_2bx := math.Sqrt(hx*hx + hy*hy)
	_2bz := -_2q0mx*q2 + _2q0my*q1 + mz*q0q0 + _2q1mx*q3 - mz*q1q1 + _2q2*my*q3 - mz*q2q2 + mz*q3q3
	_4bx, _4bz := 2*_2bx, 2*_2bz

	ex := 2*q1q3 - _2q0q2 - ax
	ey := 2*q0q1 + _2q2q3 - ay
	ez := 1 - 2*q1q1 - 2*q2q2 - az
	fx := _2bx*(0.5-q2q2-q3q3) + _2bz*(q1q3-q0q2) - mx
	fy := _2bx*(q1q2-q0q3) + _2bz*(q0q1+q2q3) - my
	fz := _2bx*(q0q2+q1q3) + _2bz*(0.5-q1q1-q2q2) - mz

	s := quat.Number{
		Real: -_2q2*ex + _2q1*ey - _2bz*q2*fx + (-_2bx*q3+_2bz*q1)*fy + _2bx*q2*fz,
		Imag: _2q3*ex + _2q0*ey - 4*q1*ez + _2bz*q3*fx + (_2bx*q2+_2bz*q0)*fy + (_2bx*q3-_4bz*q1)*fz,
		Jmag: -_2q0*ex + _2q3*ey - 4*q2*ez + (-_4bx*q2-_2bz*q0)*fx + (_2bx*q1+_2bz*q3)*fy + (_2bx*q0-_4bz*q2)*fz,
		Kmag: _2q1*ex + _2q2*ey + (-_4bx*q3+_2bz*q1)*fx + (-_2bx*q0+_2bz*q2)*fy + _2bx*q1*fz,
	}
	f.step(gyro, s, dt)
}

// step applies q += (½·q⊗ω − β·ŝ)·dt and renormalises q.
func (f *Filter) step(gyro Vec3, s quat.Number, dt float64) {
	qDot := quat.Scale(0.5, quat.Mul(f.q, quat.Number{Imag: gyro[0], Jmag: gyro[1], Kmag: gyro[2]}))
	if sn := quat.Abs(s); sn > 0 {
		qDot = quat.Sub(qDot, quat.Scale(f.Beta/sn, s))
	}
	q := quat.Add(f.q, quat.Scale(dt, qDot))
	n := quat.Abs(q)
	if n <= minNorm || math.IsNaN(n) || math.IsInf(n, 0) {
		return
	}
	f.q = quat.Scale(1/n, q)
}

// Euler returns yaw, pitch and roll in degrees. Yaw is in (-180, 180].
func (f *Filter) Euler() (yaw, pitch, roll float64) {
	q0, q1, q2, q3 := f.q.Real, f.q.Imag, f.q.Jmag, f.q.Kmag
	yaw = math.Atan2(2*(q0*q3+q1*q2), 1-2*(q2*q2+q3*q3))
	sp := 2 * (q0*q2 - q3*q1)
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	roll = math.Atan2(2*(q0*q1+q2*q3), 1-2*(q1*q1+q2*q2))
	return yaw * radToDeg, pitch * radToDeg, roll * radToDeg
}
