package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLeaseExpired(t *testing.T) {
	now := time.Now()
	lease := Lease{ExpiresAt: now.Add(-time.Second)}
	require.True(t, lease.Expired(now))

	lease = Lease{ExpiresAt: now.Add(time.Second)}
	require.False(t, lease.Expired(now))
}

func TestEffectiveMaxRetriesDefaults(t *testing.T) {
	require.Equal(t, DefaultMaxRetries, Task{}.EffectiveMaxRetries())
	require.Equal(t, 7, Task{MaxRetries: 7}.EffectiveMaxRetries())
}

func TestExhaustedRetries(t *testing.T) {
	tk := Task{MaxRetries: 2, RetryCount: 1}
	require.False(t, tk.ExhaustedRetries())
	tk.RetryCount = 2
	require.True(t, tk.ExhaustedRetries())
}

func TestWorkerExpired(t *testing.T) {
	now := time.Now()
	w := Worker{LastHeartbeatAt: now.Add(-20 * time.Second)}
	require.True(t, w.Expired(now, 5*time.Second))
	require.False(t, w.Expired(now, 10*time.Second))
}
