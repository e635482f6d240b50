package worker

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-core/internal/worker/tasks"
)

func newTestClient(t *testing.T) *Client {
	mr := miniredis.RunT(t)
	c := newClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func taskState(t *testing.T, c *Client, donationID string) asynq.TaskState {
	t.Helper()
	info, err := c.inspector.GetTaskInfo(tasks.QueuePurchase, tasks.PurchaseTaskID(donationID))
	require.NoError(t, err)
	return info.State
}

func TestDispatch_QueuedTaskNotDuplicated(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, "D1"))
	require.NoError(t, c.Dispatch(ctx, "D1"))

	pending, err := c.inspector.ListPendingTasks(tasks.QueuePurchase)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, asynq.TaskStatePending, taskState(t, c, "D1"))
}

func TestDispatch_ArchivedTaskIsRequeued(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, "D1"))
	// 重试耗尽后 asynq 会把任务归档
	require.NoError(t, c.inspector.ArchiveTask(tasks.QueuePurchase, tasks.PurchaseTaskID("D1")))
	require.Equal(t, asynq.TaskStateArchived, taskState(t, c, "D1"))

	require.NoError(t, c.Dispatch(ctx, "D1"))
	assert.Equal(t, asynq.TaskStatePending, taskState(t, c, "D1"))

	archived, err := c.inspector.ListArchivedTasks(tasks.QueuePurchase)
	require.NoError(t, err)
	assert.Empty(t, archived)
}
