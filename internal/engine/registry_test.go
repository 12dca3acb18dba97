package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/degov/workflow-core/internal/kerrors"
)

func TestRegisterWorkflowAutoAssignsVersion(t *testing.T) {
	e := newTestEngine(t)
	def := approvalWorkflow()

	v1, err := e.RegisterWorkflow(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	v2, err := e.RegisterWorkflow(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, 2, v2)
}

func TestRegisterWorkflowIsIdempotentForIdenticalContent(t *testing.T) {
	e := newTestEngine(t)
	def := approvalWorkflow()
	def.Version = 1

	v1, err := e.RegisterWorkflow(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, 1, v1)

	v2, err := e.RegisterWorkflow(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, 1, v2)
}

func TestRegisterWorkflowRejectsConflictingContentAtSameVersion(t *testing.T) {
	e := newTestEngine(t)
	def := approvalWorkflow()
	def.Version = 1

	_, err := e.RegisterWorkflow(context.Background(), def)
	require.NoError(t, err)

	changed := approvalWorkflow()
	changed.Version = 1
	changed.Transitions[0].Guard = "ctx.amount < 2000"

	_, err = e.RegisterWorkflow(context.Background(), changed)
	require.True(t, kerrors.IsConflict(err))
}
