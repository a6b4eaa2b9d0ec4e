package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutu-network/modelctl/internal/domain"
)

func TestEngine_Run_UploadsPendingTask(t *testing.T) {
	local, server := newLocalStore(t), newTestServer(t)
	d := putBlob(t, local, blobA)

	engine, err := NewEngine(LocalEndpoint(local), server.endpoint(), nil, Options{}, testLog())
	require.NoError(t, err)

	task := domain.NewTransferTask(d, domain.RoleModel, "model.gguf", "local", server.client.String())
	res := engine.Run(context.Background(), task)

	assert.Equal(t, domain.OutcomeTransferred, res.Outcome)
	assert.Equal(t, domain.TaskCompleted, task.State)
	assert.Equal(t, int64(len(blobA)), server.uploaded.Load())
}

func TestEngine_Run_RejectsTaskOutOfOrder(t *testing.T) {
	local, server := newLocalStore(t), newTestServer(t)
	d := putBlob(t, local, blobA)

	engine, err := NewEngine(LocalEndpoint(local), server.endpoint(), nil, Options{}, testLog())
	require.NoError(t, err)

	for _, state := range []domain.TaskState{domain.TaskProbing, domain.TaskCompleted, domain.TaskSkipped} {
		t.Run(string(state), func(t *testing.T) {
			task := domain.NewTransferTask(d, domain.RoleModel, "model.gguf", "local", server.client.String())
			task.State = state

			res := engine.Run(context.Background(), task)

			assert.Equal(t, domain.OutcomeFailed, res.Outcome)
			assert.ErrorIs(t, res.Err, domain.ErrInvalidTransition)
			assert.Equal(t, domain.TaskFailed, task.State)
		})
	}
	assert.Zero(t, server.uploaded.Load(), "no bytes move for a task in the wrong state")
}
