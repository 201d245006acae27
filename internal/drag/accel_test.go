package drag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccelTimer_ZeroToHundred(t *testing.T) {
	var a AccelTimer
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, CueNone, a.Step(Input{Now: t0, SpeedMS: 0.1, AccelG: 0.5}))
	assert.Equal(t, CueNone, a.Step(Input{Now: t0, SpeedMS: 2, AccelG: 0.1}))
	assert.Equal(t, CueLaunch, a.Step(Input{Now: t0, SpeedMS: 2, AccelG: 0.4}))
	assert.True(t, a.Snapshot(t0.Add(time.Second)).Running)
	assert.Equal(t, time.Second, a.Snapshot(t0.Add(time.Second)).Elapsed)

	assert.Equal(t, CueNone, a.Step(Input{Now: t0.Add(3 * time.Second), SpeedMS: 20}))
	assert.Equal(t, CueFinish, a.Step(Input{Now: t0.Add(6 * time.Second), SpeedMS: 28}))
	assert.Equal(t, 6*time.Second, a.Snapshot(t0).Result)

	// finished result holds until reset
	assert.Equal(t, CueNone, a.Step(Input{Now: t0.Add(7 * time.Second), SpeedMS: 2, AccelG: 0.5}))
	a.Reset()
	assert.Equal(t, CueLaunch, a.Step(Input{Now: t0.Add(8 * time.Second), SpeedMS: 2, AccelG: 0.5}))
}
