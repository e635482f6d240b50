package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"donation-core/pkg/logger"
)

// 任务类型常量
const (
	TypeDonationPurchase = "donation:purchase"
	QueuePurchase        = "critical"
)

// PurchaseTaskID 同一捐赠单固定一个 TaskID
func PurchaseTaskID(donationID string) string {
	return "purchase:" + donationID
}

// PurchasePayload 采购任务参数
type PurchasePayload struct {
	DonationID string `json:"donation_id"`
}

// ---------------------------------------------------------------------
// 1. Producer (Client) Code
// ---------------------------------------------------------------------

// NewPurchaseTask 创建采购任务
// TaskID 固定为捐赠单 ID，同一捐赠单排队中的任务只有一个
func NewPurchaseTask(donationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PurchasePayload{DonationID: donationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeDonationPurchase, payload,
		asynq.TaskID(PurchaseTaskID(donationID)),
		asynq.Queue(QueuePurchase),
		asynq.MaxRetry(5),
		asynq.Timeout(2*time.Minute),
	), nil
}

// ---------------------------------------------------------------------
// 2. Consumer (Server) Code
// ---------------------------------------------------------------------

// PurchaseExecutor 真正执行采购的组件
type PurchaseExecutor interface {
	Execute(ctx context.Context, donationID string) error
}

type PurchaseHandler struct {
	executor PurchaseExecutor
}

func NewPurchaseHandler(executor PurchaseExecutor) *PurchaseHandler {
	return &PurchaseHandler{executor: executor}
}

// ProcessTask 实现 asynq.Handler
func (h *PurchaseHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p PurchasePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// JSON 解析失败，重试也没用，直接跳过 (SkipRetry)
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.DonationID == "" {
		return fmt.Errorf("empty donation id: %w", asynq.SkipRetry)
	}

	logger.Info("开始处理采购任务", zap.String("donation_id", p.DonationID))
	return h.executor.Execute(ctx, p.DonationID)
}
