package rudp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTEstimatorFirstSampleIsExact(t *testing.T) {
	r := newRTTEstimator(0.1, 250*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, r.Smoothed(10*time.Millisecond), "no samples yet, must return fallback")
	r.Sample(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, r.Smoothed(0))
}

func TestRTTEstimatorConverges(t *testing.T) {
	r := newRTTEstimator(0.1, 250*time.Millisecond)
	r.Sample(100 * time.Millisecond)
	for i := 0; i < 200; i++ {
		r.Sample(50 * time.Millisecond)
	}
	got := r.Smoothed(0)
	assert.InDelta(t, 50*time.Millisecond, got, float64(2*time.Millisecond), "EWMA should converge close to the steady sample value")
}

func TestRTTEstimatorClampsToMax(t *testing.T) {
	r := newRTTEstimator(0.5, 100*time.Millisecond)
	r.Sample(5 * time.Second)
	assert.Equal(t, 100*time.Millisecond, r.Smoothed(0))
}

func TestRTTEstimatorIgnoresNegativeSample(t *testing.T) {
	r := newRTTEstimator(0.1, 250*time.Millisecond)
	r.Sample(-5 * time.Millisecond)
	assert.False(t, r.have)
}
