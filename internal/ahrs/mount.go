package ahrs

import (
	"fmt"
	"math"
)

// Mount maps sensor-frame vectors into the vehicle body frame
// (x forward, y left, z up).
type Mount struct {
	// ForwardAxis is the sensor axis pointing toward the vehicle's nose:
	// +/-1..+/-3 for x, y, z.
	ForwardAxis int
	X, Y, Z     Vec3
	Set         bool
}

// IdentityMount leaves vectors untouched.
func IdentityMount() Mount {
	return Mount{ForwardAxis: 1, X: Vec3{1, 0, 0}, Y: Vec3{0, 1, 0}, Z: Vec3{0, 0, 1}}
}

// ToBody projects v onto the body axes.
func (m Mount) ToBody(v Vec3) Vec3 {
	return Vec3{dot3(v, m.X), dot3(v, m.Y), dot3(v, m.Z)}
}

// MountFromGravity builds the body basis from an averaged accelerometer
// reading taken at rest and the configured forward axis.
func MountFromGravity(forwardAxis int, gravity Vec3) (Mount, error) {
	z, err := unit3(gravity)
	if err != nil {
		return Mount{}, fmt.Errorf("ahrs: invalid gravity vector: %v", err)
	}
	idx, sign := forwardAxis, 1.0
	if idx < 0 {
		idx, sign = -idx, -1.0
	}
	if idx < 1 || idx > 3 {
		return Mount{}, fmt.Errorf("ahrs: invalid forward axis %d", forwardAxis)
	}
	var x Vec3
	x[idx-1] = sign

	// Keep forward horizontal.
	d := dot3(x, z)
	xu, err := unit3(Vec3{x[0] - d*z[0], x[1] - d*z[1], x[2] - d*z[2]})
	if err != nil || math.Abs(d) > 0.9 {
		return Mount{}, fmt.Errorf("ahrs: forward axis nearly vertical")
	}
	yu, err := unit3(cross3(z, xu))
	if err != nil {
		return Mount{}, fmt.Errorf("ahrs: invalid basis")
	}
	return Mount{ForwardAxis: forwardAxis, X: xu, Y: yu, Z: z, Set: true}, nil
}

// dominantAxis returns +/-1..+/-3 for the component with the largest
// magnitude. Ties prefer x, then y.
func dominantAxis(v Vec3) int {
	a1, a2, a3 := math.Abs(v[0]), math.Abs(v[1]), math.Abs(v[2])
	if a1 >= a2 && a1 >= a3 {
		if v[0] >= 0 {
			return 1
		}
		return -1
	}
	if a2 >= a3 {
		if v[1] >= 0 {
			return 2
		}
		return -2
	}
	if v[2] >= 0 {
		return 3
	}
	return -3
}

// ForwardAxisFromAccel picks the forward axis from a reading taken while the
// unit's nose-side end points up.
func ForwardAxisFromAccel(v Vec3) int { return dominantAxis(v) }

func dot3(a, b Vec3) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func unit3(v Vec3) (Vec3, error) {
	n := v.Norm()
	if n <= 0 {
		return Vec3{}, fmt.Errorf("zero vector")
	}
	return Vec3{v[0] / n, v[1] / n, v[2] / n}, nil
}

func cross3(a, b Vec3) Vec3 {
	return Vec3{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}
