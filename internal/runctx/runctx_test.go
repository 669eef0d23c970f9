package runctx

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/mender/api/schemas"
)

func TestNew(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rc := New("create a page", nil, nil, zap.New(core))

	_, err := uuid.Parse(rc.ID)
	require.NoError(t, err)
	assert.False(t, rc.StartedAt.IsZero())
	assert.Empty(t, rc.History)

	rc.Logger.Info("hello")
	entry := logs.All()[0]
	assert.Equal(t, rc.ID, entry.ContextMap()["run_id"])
	assert.Equal(t, "create a page", entry.ContextMap()["task"])

	other := New("create a page", nil, nil, zap.New(core))
	assert.NotEqual(t, rc.ID, other.ID)
}

func TestHistoryIsCopied(t *testing.T) {
	rc := New("t", nil, nil, zap.NewNop())
	rc.Record(schemas.Step{Action: schemas.ActionGoto})
	rc.Record(schemas.Step{Action: schemas.ActionClick})

	prev := rc.PreviousSteps()
	require.Len(t, prev, 2)
	prev[0].Action = schemas.ActionWait
	assert.Equal(t, schemas.ActionGoto, rc.History[0].Action)
}
