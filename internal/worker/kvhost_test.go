package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextHostGetSetRoundTrip(t *testing.T) {
	host, err := newContextHost(map[string]any{"amount": 100})
	require.NoError(t, err)

	v, err := host.Get(context.Background(), "amount")
	require.NoError(t, err)
	require.Equal(t, float64(100), v)

	require.NoError(t, host.Set(context.Background(), "approved", true))

	snap, err := host.snapshot()
	require.NoError(t, err)
	require.Equal(t, true, snap["approved"])
	require.Equal(t, float64(100), snap["amount"])
}

func TestContextHostGetMissingKeyIsNotFound(t *testing.T) {
	host, err := newContextHost(nil)
	require.NoError(t, err)

	_, err = host.Get(context.Background(), "missing")
	require.Error(t, err)
}

func TestMergeReturnValueOverwritesOverlappingFields(t *testing.T) {
	host, err := newContextHost(map[string]any{"amount": 100, "name": "ada"})
	require.NoError(t, err)

	require.NoError(t, host.mergeReturnValue(map[string]any{"amount": 250}))

	snap, err := host.snapshot()
	require.NoError(t, err)
	require.Equal(t, float64(250), snap["amount"])
	require.Equal(t, "ada", snap["name"])
}

func TestMergeReturnValueReplacesDocumentForNonObjectValue(t *testing.T) {
	host, err := newContextHost(map[string]any{"amount": 100})
	require.NoError(t, err)

	require.NoError(t, host.mergeReturnValue(42))
	require.Equal(t, "42", host.doc)
}
