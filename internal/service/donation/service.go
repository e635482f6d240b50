package donation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/internal/repository"
	"donation-core/internal/service/alert"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
	"donation-core/pkg/monitor"
)

// Intake 发起捐赠的入参
type Intake struct {
	StoryID string
	DonorID string
	NgoID   string // 可为空，为空时取故事所属机构
	Amount  int64
	Message string
}

// Shipment 商城回报的物流状态
// Status 只会是 PURCHASED (已下单未发货) / SHIPPED / DELIVERED
type Shipment struct {
	Status         model.DonationStatus
	TrackingNumber string
	At             time.Time
}

// Dispatcher 异步触发采购
type Dispatcher interface {
	Dispatch(ctx context.Context, donationID string) error
}

// FundingMatcher 用未匹配的入账流水重新匹配
type FundingMatcher interface {
	RetryUnmatched(ctx context.Context, ngoID string) (int, error)
}

// Service 捐赠单状态机
// 每次迁移都以 (status, version) 为条件，同一捐赠单上的并发操作只有一个生效
type Service struct {
	donations  repository.DonationStore
	stories    repository.StoryStore
	alerts     alert.Notifier
	dispatcher Dispatcher
	matcher    FundingMatcher
	now        func() time.Time
	stallAfter time.Duration
}

type Option func(*Service)

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStallAfter 采购中间态停留多久算卡住
func WithStallAfter(d time.Duration) Option {
	return func(s *Service) { s.stallAfter = d }
}

func NewService(donations repository.DonationStore, stories repository.StoryStore, alerts alert.Notifier, opts ...Option) *Service {
	s := &Service{
		donations:  donations,
		stories:    stories,
		alerts:     alerts,
		now:        time.Now,
		stallAfter: 15 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher 采购执行器依赖本服务，只能构造完成后注入
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

// SetFundingMatcher 入账监听同样依赖本服务
func (s *Service) SetFundingMatcher(m FundingMatcher) {
	s.matcher = m
}

func (s *Service) Get(ctx context.Context, id string) (*model.Donation, error) {
	return s.donations.Get(ctx, id)
}

// StartDonationProcess 创建 PENDING_PAYMENT 捐赠单后立即返回
func (s *Service) StartDonationProcess(ctx context.Context, in Intake) (*model.Donation, error) {
	// 1. 校验
	if in.Amount <= 0 {
		return nil, errno.ErrValidation.WithMessage("amount must be positive")
	}
	if in.StoryID == "" || in.DonorID == "" {
		return nil, errno.ErrValidation.WithMessage("storyId and donorId are required")
	}

	story, err := s.stories.Get(ctx, in.StoryID)
	if err != nil {
		if errors.Is(err, errno.ErrStoryNotFound) {
			return nil, errno.ErrValidation.WithMessage("story not found: " + in.StoryID)
		}
		return nil, err
	}
	if story.Status != model.StoryOpen {
		return nil, errno.ErrValidation.WithMessage("story is not accepting donations: " + in.StoryID)
	}
	if in.NgoID != "" && in.NgoID != story.NgoID {
		return nil, errno.ErrValidation.WithMessage("ngo does not own story: " + in.NgoID)
	}

	// 2. 落库
	now := s.now()
	d := &model.Donation{
		ID:        uuid.NewString(),
		StoryID:   story.ID,
		DonorID:   in.DonorID,
		NgoID:     story.NgoID,
		ItemID:    story.ItemID,
		Amount:    in.Amount,
		Message:   in.Message,
		Status:    model.StatusPendingPayment,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.donations.Create(ctx, d); err != nil {
		return nil, err
	}
	monitor.Business.DonationTransitionsTotal.WithLabelValues("", string(model.StatusPendingPayment)).Inc()
	logger.Info("捐赠单已创建",
		zap.String("donation_id", d.ID),
		zap.String("ngo_id", d.NgoID),
		zap.Int64("amount", d.Amount),
	)

	// 3. 入账可能先于捐赠单到达
	if s.matcher != nil {
		if _, err := s.matcher.RetryUnmatched(ctx, d.NgoID); err != nil {
			logger.Warn("重试未匹配入账失败", zap.String("ngo_id", d.NgoID), zap.Error(err))
		}
	}
	return d, nil
}

// ConfirmFunding PENDING_PAYMENT -> PAYMENT_CONFIRMED，同时消费入账流水
// 非 PENDING_PAYMENT 时返回当前记录和 ErrInvalidState，调用方按无操作处理
func (s *Service) ConfirmFunding(ctx context.Context, donationID, depositTxnID string) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, donationID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.StatusPendingPayment {
		return d, errno.ErrInvalidState
	}

	funded, err := s.donations.Fund(ctx, d, depositTxnID, s.now())
	if err != nil {
		if errors.Is(err, errno.ErrInvalidState) {
			return s.current(ctx, d)
		}
		return nil, err
	}
	s.observe(d.Status, funded.Status)
	logger.Info("捐赠单已到账",
		zap.String("donation_id", funded.ID),
		zap.String("transaction_id", depositTxnID),
	)

	s.dispatchPurchase(ctx, funded.ID)
	return funded, nil
}

// BeginPurchase PAYMENT_CONFIRMED -> PURCHASING
// 已经是 PURCHASING 时直接返回，便于重启后续跑
func (s *Service) BeginPurchase(ctx context.Context, id string) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case model.StatusPurchasing:
		return d, nil
	case model.StatusPaymentConfirmed:
		return s.transition(ctx, d, model.StatusPurchasing, map[string]interface{}{
			"purchase_attempts": d.PurchaseAttempts + 1,
		})
	default:
		return d, errno.ErrInvalidState
	}
}

// RecordPurchaseResult purchaseErr 为空时 PURCHASING -> PURCHASED，否则 -> FAILED 并告警
func (s *Service) RecordPurchaseResult(ctx context.Context, id, orderID string, purchaseErr error) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if purchaseErr == nil {
		if d.Status != model.StatusPurchasing {
			return d, errno.ErrInvalidState
		}
		return s.transition(ctx, d, model.StatusPurchased, map[string]interface{}{
			"purchase_order_id": orderID,
		})
	}

	if d.Status != model.StatusPurchasing && d.Status != model.StatusPaymentConfirmed {
		return d, errno.ErrInvalidState
	}
	failed, err := s.transition(ctx, d, model.StatusFailed, map[string]interface{}{
		"failure_reason": purchaseErr.Error(),
	})
	if err != nil {
		return failed, err
	}
	if aerr := s.alerts.Notify(ctx, event.OperatorAlertEvent{
		Kind:      event.AlertPurchaseFailed,
		Reference: failed.ID,
		Message:   "marketplace purchase failed after retries",
		Details: map[string]string{
			"ngo_id":  failed.NgoID,
			"item_id": failed.ItemID,
			"error":   purchaseErr.Error(),
		},
	}); aerr != nil {
		logger.Error("采购失败告警写入失败", zap.String("donation_id", id), zap.Error(aerr))
	}
	return failed, nil
}

var shippingRank = map[model.DonationStatus]int{
	model.StatusPurchased: 0,
	model.StatusShipped:   1,
	model.StatusDelivered: 2,
	model.StatusSettled:   3,
}

// RecordShippingStatus PURCHASED -> SHIPPED -> DELIVERED
// 相同或更早的状态不做任何变更；PURCHASED 上直接收到 DELIVERED 会先补 SHIPPED
func (s *Service) RecordShippingStatus(ctx context.Context, id string, sh Shipment) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	current, ok := shippingRank[d.Status]
	if !ok {
		return d, errno.ErrInvalidState
	}
	target, ok := shippingRank[sh.Status]
	if !ok || sh.Status == model.StatusSettled {
		return d, errno.ErrValidation.WithMessage("unsupported shipping status: " + string(sh.Status))
	}
	if target <= current {
		return d, nil
	}

	at := sh.At
	if at.IsZero() {
		at = s.now()
	}

	if d.Status == model.StatusPurchased {
		fields := map[string]interface{}{}
		if sh.TrackingNumber != "" {
			fields["tracking_number"] = sh.TrackingNumber
		}
		if d, err = s.transition(ctx, d, model.StatusShipped, fields); err != nil {
			return d, err
		}
	}

	if sh.Status == model.StatusDelivered {
		fields := map[string]interface{}{"delivered_at": at}
		if sh.TrackingNumber != "" && d.TrackingNumber == nil {
			fields["tracking_number"] = sh.TrackingNumber
		}
		return s.transition(ctx, d, model.StatusDelivered, fields)
	}
	return d, nil
}

// MarkSettled DELIVERED -> SETTLED
func (s *Service) MarkSettled(ctx context.Context, id, batchRef string) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != model.StatusDelivered {
		return d, errno.ErrInvalidState
	}
	return s.transition(ctx, d, model.StatusSettled, map[string]interface{}{
		"settled_at":     s.now(),
		"settlement_ref": batchRef,
	})
}

// MarkBatchSettled 整批标记，任意一条不是 DELIVERED 则整批不动
func (s *Service) MarkBatchSettled(ctx context.Context, ids []string, batchRef string) error {
	if err := s.donations.SettleBatch(ctx, ids, batchRef, s.now()); err != nil {
		return err
	}
	monitor.Business.DonationTransitionsTotal.
		WithLabelValues(string(model.StatusDelivered), string(model.StatusSettled)).
		Add(float64(len(ids)))
	logger.Info("结算批次已标记", zap.String("batch_ref", batchRef), zap.Int("count", len(ids)))
	return nil
}

// Cancel PENDING_PAYMENT -> CANCELLED，其他状态返回 ErrInvalidState
func (s *Service) Cancel(ctx context.Context, id string) (*model.Donation, error) {
	d, err := s.donations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != model.StatusPendingPayment {
		return d, errno.ErrInvalidState
	}
	return s.transition(ctx, d, model.StatusCancelled, nil)
}

// ResumeStalled 重新派发长时间停在 PAYMENT_CONFIRMED / PURCHASING 的捐赠单
func (s *Service) ResumeStalled(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, nil
	}
	stalled, err := s.donations.ListStale(ctx, s.now().Add(-s.stallAfter),
		model.StatusPaymentConfirmed, model.StatusPurchasing)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for _, d := range stalled {
		if err := s.dispatcher.Dispatch(ctx, d.ID); err != nil {
			logger.Warn("重新派发采购失败", zap.String("donation_id", d.ID), zap.Error(err))
			continue
		}
		resumed++
	}
	if resumed > 0 {
		logger.Info("已重新派发卡住的采购", zap.Int("count", resumed))
	}
	return resumed, nil
}

func (s *Service) dispatchPurchase(ctx context.Context, id string) {
	if s.dispatcher == nil {
		logger.Warn("未配置采购执行器，等待定时任务补发", zap.String("donation_id", id))
		return
	}
	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		// 超过 stallAfter 后由 ResumeStalled 补发
		logger.Warn("派发采购失败", zap.String("donation_id", id), zap.Error(err))
	}
}

// transition 失败于并发竞争时返回最新记录 + ErrInvalidState
func (s *Service) transition(ctx context.Context, d *model.Donation, to model.DonationStatus, fields map[string]interface{}) (*model.Donation, error) {
	next, err := s.donations.Transition(ctx, d, to, fields)
	if err != nil {
		if errors.Is(err, errno.ErrInvalidState) {
			return s.current(ctx, d)
		}
		return nil, err
	}
	s.observe(d.Status, next.Status)
	logger.Debug("捐赠单状态变更",
		zap.String("donation_id", d.ID),
		zap.String("from", string(d.Status)),
		zap.String("to", string(next.Status)),
	)
	return next, nil
}

func (s *Service) current(ctx context.Context, d *model.Donation) (*model.Donation, error) {
	latest, err := s.donations.Get(ctx, d.ID)
	if err != nil {
		return d, errno.ErrInvalidState
	}
	return latest, errno.ErrInvalidState
}

func (s *Service) observe(from, to model.DonationStatus) {
	monitor.Business.DonationTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}
