package queue

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig controls the delay fail() schedules before a task's next
// claim attempt (§4.3: "exponential backoff, base × multiplier^attempt,
// capped").
type BackoffConfig struct {
	Base       time.Duration
	Multiplier float64
	MaxDelay   time.Duration

	// JitterFraction adds up to ± this fraction of the computed delay, so
	// a burst of tasks failing together doesn't retry in lockstep.
	JitterFraction float64
}

// DefaultBackoffConfig is the schedule Fail applies to non-transient
// failures; Transient failures use the shortened form transientBackoff
// derives from it.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:           1 * time.Second,
		Multiplier:     2.0,
		MaxDelay:       5 * time.Minute,
		JitterFraction: 0.2,
	}
}

// Compute returns the delay to schedule a task after its attempt'th
// failure (attempt is the post-increment retry_count, so the first retry
// passes 1).
func (c BackoffConfig) Compute(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(c.Base) * math.Pow(c.Multiplier, float64(attempt-1))
	delay := time.Duration(raw)
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return addJitter(delay, c.JitterFraction)
}

func addJitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	delta := float64(d) * fraction
	jittered := float64(d) + (rand.Float64()*2-1)*delta
	if jittered < 0 {
		return 0
	}
	return time.Duration(jittered)
}
