package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffComputeGrowsExponentiallyAndCaps(t *testing.T) {
	cfg := BackoffConfig{Base: time.Second, Multiplier: 2.0, MaxDelay: 10 * time.Second, JitterFraction: 0}

	require.Equal(t, time.Second, cfg.Compute(1))
	require.Equal(t, 2*time.Second, cfg.Compute(2))
	require.Equal(t, 4*time.Second, cfg.Compute(3))
	require.Equal(t, 10*time.Second, cfg.Compute(10)) // capped
}

func TestBackoffComputeAppliesJitterWithinBounds(t *testing.T) {
	cfg := BackoffConfig{Base: 10 * time.Second, Multiplier: 1, MaxDelay: time.Minute, JitterFraction: 0.5}
	for i := 0; i < 50; i++ {
		d := cfg.Compute(1)
		require.True(t, d >= 5*time.Second && d <= 15*time.Second, "got %s", d)
	}
}

func TestBackoffComputeTreatsSubOneAttemptAsFirst(t *testing.T) {
	cfg := BackoffConfig{Base: time.Second, Multiplier: 2.0, MaxDelay: time.Minute}
	require.Equal(t, cfg.Compute(1), cfg.Compute(0))
	require.Equal(t, cfg.Compute(1), cfg.Compute(-5))
}
