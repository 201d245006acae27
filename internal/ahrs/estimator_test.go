package ahrs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimator_UsesMagOnlyWhenCalibrated(t *testing.T) {
	t0 := time.Unix(100, 0)
	s := Sample{Accel: Vec3{0, 0, 1}, Mag: Vec3{20, 0, -40}, HasMag: true, At: t0}

	e := NewEstimator(DefaultBeta, IdentityMount(), DefaultCalibration())
	st := e.Step(s)
	assert.False(t, st.UsedMag)
	assert.True(t, st.Valid)

	cal := DefaultCalibration()
	cal.Valid = true
	e.SetCalibration(cal)
	s.At = t0.Add(10 * time.Millisecond)
	st = e.Step(s)
	assert.True(t, st.UsedMag)
	assert.Equal(t, s.At, st.UpdatedAt)
}

func TestEstimator_AccelBodyFollowsMount(t *testing.T) {
	m, err := MountFromGravity(-3, Vec3{0, 1, 0})
	assert.NoError(t, err)
	e := NewEstimator(DefaultBeta, m, DefaultCalibration())
	st := e.Step(Sample{Accel: Vec3{0, 1, -0.3}, At: time.Unix(1, 0)})
	assert.InDelta(t, 0.3, st.AccelBody[0], 1e-12)
	assert.InDelta(t, 1.0, st.AccelBody[2], 1e-12)
	assert.GreaterOrEqual(t, st.HeadingDeg, 0.0)
	assert.Less(t, st.HeadingDeg, 360.0)
}
