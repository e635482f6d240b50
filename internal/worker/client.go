package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"donation-core/internal/worker/tasks"
	"donation-core/pkg/logger"
)

// Client 封装 Asynq Client，同时作为采购派发器
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewClient 初始化 Client
// addr: "localhost:6379"
func NewClient(addr string, password string, db int) *Client {
	return newClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func newClient(opt asynq.RedisClientOpt) *Client {
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
	}
}

// Dispatch 推送采购任务
// 同一捐赠单的任务还在排队 / 重试中时视为成功；已归档 (重试耗尽) 的删掉后重新入队
func (c *Client) Dispatch(ctx context.Context, donationID string) error {
	task, err := tasks.NewPurchaseTask(donationID)
	if err != nil {
		return err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return c.requeueFinished(ctx, donationID, task)
	}
	if err != nil {
		return err
	}
	logger.Debug("采购任务已入队", zap.String("donation_id", donationID), zap.String("task_id", info.ID))
	return nil
}

func (c *Client) requeueFinished(ctx context.Context, donationID string, task *asynq.Task) error {
	taskID := tasks.PurchaseTaskID(donationID)

	info, err := c.inspector.GetTaskInfo(tasks.QueuePurchase, taskID)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound):
		// 刚被删除，直接重新入队
	case err != nil:
		return fmt.Errorf("inspect purchase task: %w", err)
	case info.State == asynq.TaskStateArchived || info.State == asynq.TaskStateCompleted:
		if err := c.inspector.DeleteTask(tasks.QueuePurchase, taskID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("delete finished purchase task: %w", err)
		}
		logger.Warn("采购任务已结束但捐赠单未完成，重新派发",
			zap.String("donation_id", donationID), zap.String("state", info.State.String()))
	default:
		logger.Debug("采购任务已在队列中", zap.String("donation_id", donationID), zap.String("state", info.State.String()))
		return nil
	}

	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// 并发派发已经入队
		return nil
	}
	return err
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	if err := c.inspector.Close(); err != nil {
		logger.Warn("关闭 Asynq Inspector 失败", zap.Error(err))
	}
	return c.client.Close()
}
