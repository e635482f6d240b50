package purchase

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"donation-core/internal/gateway/marketplace"
	"donation-core/internal/model"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
)

// Lifecycle 采购涉及的捐赠单状态迁移
type Lifecycle interface {
	BeginPurchase(ctx context.Context, id string) (*model.Donation, error)
	RecordPurchaseResult(ctx context.Context, id, orderID string, purchaseErr error) (*model.Donation, error)
}

// OrderPlacer 商城下单
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, o marketplace.Order) (string, error)
}

// Executor 一次完整的采购: BeginPurchase -> PlaceOrder -> RecordPurchaseResult
type Executor struct {
	lifecycle Lifecycle
	placer    OrderPlacer
}

func NewExecutor(lifecycle Lifecycle, placer OrderPlacer) *Executor {
	return &Executor{lifecycle: lifecycle, placer: placer}
}

// Execute 返回 error 表示本次没有得出结论，可以稍后重试
func (e *Executor) Execute(ctx context.Context, donationID string) error {
	// 1. 进入 PURCHASING
	d, err := e.lifecycle.BeginPurchase(ctx, donationID)
	if err != nil {
		if errors.Is(err, errno.ErrInvalidState) {
			// 已经有结论或被别的 worker 处理
			logger.Debug("跳过采购", zap.String("donation_id", donationID), zap.Error(err))
			return nil
		}
		return err
	}

	// 2. 调商城 (同一捐赠单的幂等令牌固定)
	orderID, placeErr := e.placer.PlaceOrder(ctx, marketplace.Order{
		ItemID:         d.ItemID,
		Quantity:       1,
		Amount:         d.Amount,
		ReferenceID:    d.ID,
		IdempotencyKey: marketplace.IdempotencyKey(d.ID),
	})
	if placeErr != nil && ctx.Err() != nil {
		// 进程退出中，不记为失败，留给 ResumeStalled
		return ctx.Err()
	}

	// 3. 记录结果
	if _, err := e.lifecycle.RecordPurchaseResult(ctx, d.ID, orderID, placeErr); err != nil {
		if errors.Is(err, errno.ErrInvalidState) {
			return nil
		}
		return err
	}

	if placeErr != nil {
		logger.Error("采购失败", zap.String("donation_id", d.ID), zap.Error(placeErr))
	} else {
		logger.Info("采购成功", zap.String("donation_id", d.ID), zap.String("order_id", orderID))
	}
	return nil
}
