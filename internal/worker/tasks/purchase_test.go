package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	ids []string
	err error
}

func (f *fakeExecutor) Execute(ctx context.Context, id string) error {
	f.ids = append(f.ids, id)
	return f.err
}

func TestPurchaseHandler(t *testing.T) {
	exec := &fakeExecutor{}
	h := NewPurchaseHandler(exec)

	task, err := NewPurchaseTask("D1")
	require.NoError(t, err)
	assert.Equal(t, TypeDonationPurchase, task.Type())

	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.Equal(t, []string{"D1"}, exec.ids)
}

func TestPurchaseHandler_BadPayloadSkipsRetry(t *testing.T) {
	h := NewPurchaseHandler(&fakeExecutor{})

	err := h.ProcessTask(context.Background(), asynq.NewTask(TypeDonationPurchase, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = h.ProcessTask(context.Background(), asynq.NewTask(TypeDonationPurchase, []byte(`{}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestPurchaseHandler_PropagatesExecutorError(t *testing.T) {
	boom := errors.New("db down")
	h := NewPurchaseHandler(&fakeExecutor{err: boom})

	task, err := NewPurchaseTask("D1")
	require.NoError(t, err)
	assert.ErrorIs(t, h.ProcessTask(context.Background(), task), boom)
}
