package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_AdvanceAndMicros(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(1500 * time.Microsecond)
	assert.Equal(t, start.Add(1500*time.Microsecond), c.Now())
	assert.Equal(t, uint64(1500), c.MonotonicMicros())
	assert.Equal(t, 1500*time.Microsecond, c.Since(start))
}

func TestMockClock_SetBackwardsClampsMicros(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	c.Set(start.Add(-time.Second))
	assert.Equal(t, uint64(0), c.MonotonicMicros())
}
