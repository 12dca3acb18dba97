package kerrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotFoundErrorUnwraps(t *testing.T) {
	err := NewNotFoundError("instance", "abc-123")
	require.True(t, IsNotFound(err))
	require.Contains(t, err.Error(), "abc-123")
}

func TestConflictErrorUnwraps(t *testing.T) {
	err := NewConflictError("workflow", "de.berlin/x#workflow", "version already registered")
	require.True(t, IsConflict(err))
}

func TestValidationErrorUnwraps(t *testing.T) {
	err := RequiredError("account_id")
	require.True(t, IsValidation(err))
	require.Equal(t, "account_id: is required", err.Error())
}

func TestScriptErrorClassification(t *testing.T) {
	timeout := NewScriptError(ScriptTimeout, "deadline exceeded")
	require.ErrorIs(t, timeout, ErrTimeout)

	denied := NewScriptError(ScriptHostDenied, "kv.set not permitted in guard")
	require.True(t, IsLeaseLost(denied) == false)
	require.ErrorIs(t, fmt.Errorf("wrap: %w", denied), ErrHostDenied)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(ErrConflict))
	require.True(t, IsRetryable(ErrTransient))
	require.False(t, IsRetryable(ErrFatal))
	require.False(t, IsRetryable(ErrInvalidInput))
}

func TestLeaseLost(t *testing.T) {
	require.True(t, IsLeaseLost(ErrLeaseLost))
	require.True(t, IsLeaseLost(fmt.Errorf("claim: %w", ErrLeaseLost)))
}
