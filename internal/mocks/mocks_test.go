package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/mender/api/schemas"
)

func TestMockDriver_DecodeInto(t *testing.T) {
	d := new(MockDriver)
	d.On("Evaluate", mock.Anything, "probe", mock.Anything).
		Run(DecodeInto(`{"title": "Home"}`)).
		Return(nil)

	var out struct{ Title string }
	require.NoError(t, d.Evaluate(context.Background(), "probe", &out))
	assert.Equal(t, "Home", out.Title)
	d.AssertExpectations(t)
}

func TestMockPlanner_RecordsRequests(t *testing.T) {
	p := new(MockPlanner)
	p.On("Repair", mock.Anything, mock.Anything).Return("", errors.New("offline"))

	req := schemas.RepairRequest{Task: "t", Error: "boom"}
	_, err := p.Repair(context.Background(), req)
	require.Error(t, err)
	require.Len(t, p.Requests(), 1)
	assert.Equal(t, "boom", p.Requests()[0].Error)
}

func TestMockLLMClient_HonorsCancellation(t *testing.T) {
	c := new(MockLLMClient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Generate(ctx, schemas.GenerationRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	c.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}
