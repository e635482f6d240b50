package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"donation-core/internal/event"
	"donation-core/internal/gateway/marketplace"
	"donation-core/internal/model"
	"donation-core/internal/repository"
	"donation-core/internal/service/alert"
	"donation-core/internal/service/donation"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
)

// OrderTracker 查询商城订单状态
type OrderTracker interface {
	QueryStatus(ctx context.Context, orderID string) (*marketplace.Status, error)
}

// ShippingRecorder 捐赠单物流相关的状态迁移
type ShippingRecorder interface {
	RecordShippingStatus(ctx context.Context, id string, sh donation.Shipment) (*model.Donation, error)
	ResumeStalled(ctx context.Context) (int, error)
}

// UnmatchedRetrier 重新匹配未匹配入账
type UnmatchedRetrier interface {
	RetryUnmatched(ctx context.Context, ngoID string) (int, error)
}

// ShippingPollJob 每个 tick:
// 1. 重试未匹配入账
// 2. 重新派发卡住的采购
// 3. 查询 PURCHASED / SHIPPED 捐赠单的物流状态
type ShippingPollJob struct {
	donations repository.DonationStore
	recorder  ShippingRecorder
	tracker   OrderTracker
	matcher   UnmatchedRetrier
	alerts    alert.Notifier
}

func NewShippingPollJob(donations repository.DonationStore, recorder ShippingRecorder, tracker OrderTracker, matcher UnmatchedRetrier, alerts alert.Notifier) *ShippingPollJob {
	return &ShippingPollJob{
		donations: donations,
		recorder:  recorder,
		tracker:   tracker,
		matcher:   matcher,
		alerts:    alerts,
	}
}

// Run 单个捐赠单失败只记日志，下个 tick 再试
func (j *ShippingPollJob) Run(ctx context.Context) error {
	if j.matcher != nil {
		if _, err := j.matcher.RetryUnmatched(ctx, ""); err != nil {
			logger.Warn("[ShippingPoll] 重试未匹配入账失败", zap.Error(err))
		}
	}
	if _, err := j.recorder.ResumeStalled(ctx); err != nil {
		logger.Warn("[ShippingPoll] 重新派发采购失败", zap.Error(err))
	}

	inTransit, err := j.donations.ListByStatus(ctx, model.StatusPurchased, model.StatusShipped)
	if err != nil {
		return fmt.Errorf("list in-transit donations: %w", err)
	}

	failed := 0
	for i := range inTransit {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := j.poll(ctx, &inTransit[i]); err != nil {
			failed++
			logger.Warn("[ShippingPoll] 查询物流失败",
				zap.String("donation_id", inTransit[i].ID), zap.Error(err))
		}
	}

	logger.Info("[ShippingPoll] 本轮完成", zap.Int("polled", len(inTransit)), zap.Int("failed", failed))
	return nil
}

func (j *ShippingPollJob) poll(ctx context.Context, d *model.Donation) error {
	if d.PurchaseOrderID == nil || *d.PurchaseOrderID == "" {
		return errors.New("donation has no purchase order id")
	}

	st, err := j.tracker.QueryStatus(ctx, *d.PurchaseOrderID)
	if err != nil {
		return err
	}

	sh := donation.Shipment{TrackingNumber: st.TrackingNumber, At: st.UpdatedAt}
	switch st.Status {
	case marketplace.OrderOrdered:
		return nil
	case marketplace.OrderShipped:
		sh.Status = model.StatusShipped
	case marketplace.OrderDelivered:
		sh.Status = model.StatusDelivered
	case marketplace.OrderCancelled:
		// 状态图里没有从已下单回退的边，交给人工处理
		return j.alerts.Notify(ctx, event.OperatorAlertEvent{
			Kind:      event.AlertOrderCancelled,
			Reference: d.ID,
			Message:   "marketplace cancelled a purchased order",
			Details: map[string]string{
				"order_id": *d.PurchaseOrderID,
				"ngo_id":   d.NgoID,
			},
		})
	default:
		return fmt.Errorf("unknown order status %q", st.Status)
	}

	_, err = j.recorder.RecordShippingStatus(ctx, d.ID, sh)
	if errors.Is(err, errno.ErrInvalidState) {
		// 其他路径已经推进了状态
		return nil
	}
	return err
}
