package instance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusRunning.Terminal())
	require.False(t, StatusPaused.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestCanTransition(t *testing.T) {
	running := Instance{Status: StatusRunning}
	require.True(t, running.CanTransition())

	paused := Instance{Status: StatusPaused}
	require.False(t, paused.CanTransition())

	completed := Instance{Status: StatusCompleted}
	require.False(t, completed.CanTransition())
}
