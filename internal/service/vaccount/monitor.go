package vaccount

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/internal/repository"
	"donation-core/internal/service/alert"
	"donation-core/pkg/crypto_util"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
	"donation-core/pkg/monitor"
)

// Deposit 一笔银行入账通知
type Deposit struct {
	NgoID           string
	AccountNumber   string
	Amount          int64
	TransactionID   string
	DepositorName   string
	DepositDateTime time.Time // 为空时取接收时间
	Raw             []byte    // 原始报文，原样入库
}

type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeDuplicate Outcome = "duplicate"
)

type Result struct {
	Outcome    Outcome `json:"outcome"`
	DonationID string  `json:"donationId,omitempty"`
}

// Funder 由捐赠单状态机实现
type Funder interface {
	ConfirmFunding(ctx context.Context, donationID, depositTxnID string) (*model.Donation, error)
}

// Monitor 虚拟账户入账监听
// 1. 先按 transaction_id 原子落账 (重复通知直接忽略)
// 2. 再在同一机构的待付款捐赠单中按金额匹配，最早创建的优先
// 3. 匹配不上的保留为 UNMATCHED，上报人工并在后续重试
type Monitor struct {
	ledger    repository.DepositLedger
	donations repository.DonationStore
	funder    Funder
	alerts    alert.Notifier
	tolerance int64
	now       func() time.Time
}

type Option func(*Monitor)

// WithTolerance 允许的金额误差 (最小货币单位)，默认 0 即精确匹配
func WithTolerance(t int64) Option {
	return func(m *Monitor) { m.tolerance = t }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func NewMonitor(ledger repository.DepositLedger, donations repository.DonationStore, funder Funder, alerts alert.Notifier, opts ...Option) *Monitor {
	m := &Monitor{
		ledger:    ledger,
		donations: donations,
		funder:    funder,
		alerts:    alerts,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tolerance < 0 {
		m.tolerance = 0
	}
	return m
}

// Ingest 处理一笔入账通知
func (m *Monitor) Ingest(ctx context.Context, dep Deposit) (*Result, error) {
	// 1. 校验
	if err := validate(dep); err != nil {
		monitor.Business.DepositEventsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if dep.DepositDateTime.IsZero() {
		dep.DepositDateTime = m.now()
	}

	// 2. 原子落账
	ev := &model.DepositEvent{
		TransactionID:   dep.TransactionID,
		NgoID:           dep.NgoID,
		AccountNumber:   dep.AccountNumber,
		Amount:          dep.Amount,
		DepositorName:   dep.DepositorName,
		DepositDateTime: dep.DepositDateTime,
		Status:          model.DepositUnmatched,
	}
	if len(dep.Raw) > 0 {
		ev.Payload = datatypes.JSON(dep.Raw)
	}
	inserted, err := m.ledger.Record(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("record deposit: %w", err)
	}
	if !inserted {
		monitor.Business.DepositEventsTotal.WithLabelValues(string(OutcomeDuplicate)).Inc()
		logger.Info("重复的入账通知，忽略", zap.String("transaction_id", dep.TransactionID))
		return &Result{Outcome: OutcomeDuplicate}, nil
	}

	logger.Info("收到入账",
		zap.String("transaction_id", ev.TransactionID),
		zap.String("ngo_id", ev.NgoID),
		zap.Int64("amount", ev.Amount),
	)

	// 3. 匹配
	res, err := m.match(ctx, ev)
	if err != nil {
		return nil, err
	}
	monitor.Business.DepositEventsTotal.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

// RetryUnmatched 重新匹配未匹配的入账，ngoID 为空表示全部机构；返回本次匹配成功的笔数
func (m *Monitor) RetryUnmatched(ctx context.Context, ngoID string) (int, error) {
	pending, err := m.ledger.ListUnmatched(ctx, ngoID)
	if err != nil {
		return 0, err
	}

	matched := 0
	for i := range pending {
		if ctx.Err() != nil {
			return matched, ctx.Err()
		}
		res, err := m.match(ctx, &pending[i])
		if err != nil {
			logger.Warn("重试匹配失败", zap.String("transaction_id", pending[i].TransactionID), zap.Error(err))
			continue
		}
		if res.Outcome == OutcomeMatched {
			matched++
			monitor.Business.DepositEventsTotal.WithLabelValues("retry_matched").Inc()
		}
	}
	if matched > 0 {
		logger.Info("未匹配入账重试完成", zap.String("ngo_id", ngoID), zap.Int("matched", matched))
	}
	return matched, nil
}

func (m *Monitor) match(ctx context.Context, ev *model.DepositEvent) (*Result, error) {
	candidates, err := m.donations.ListPendingForMatch(ctx, ev.NgoID, ev.Amount-m.tolerance, ev.Amount+m.tolerance)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	for _, c := range candidates {
		d, err := m.funder.ConfirmFunding(ctx, c.ID, ev.TransactionID)
		switch {
		case err == nil:
			logger.Info("入账已匹配",
				zap.String("transaction_id", ev.TransactionID),
				zap.String("donation_id", d.ID),
			)
			return &Result{Outcome: OutcomeMatched, DonationID: d.ID}, nil
		case errors.Is(err, errno.ErrInvalidState):
			// 候选单被并发处理了，试下一张
			continue
		case errors.Is(err, errno.ErrDepositConsumed):
			// 另一路重试已经用掉了这笔入账
			return &Result{Outcome: OutcomeMatched}, nil
		default:
			return nil, err
		}
	}

	m.escalate(ctx, ev)
	return &Result{Outcome: OutcomeUnmatched}, nil
}

// escalate 同一笔入账只上报一次
func (m *Monitor) escalate(ctx context.Context, ev *model.DepositEvent) {
	first, err := m.ledger.MarkEscalated(ctx, ev.TransactionID, m.now())
	if err != nil {
		logger.Error("标记上报失败", zap.String("transaction_id", ev.TransactionID), zap.Error(err))
		return
	}
	if !first {
		return
	}
	if err := m.alerts.Notify(ctx, event.OperatorAlertEvent{
		Kind:      event.AlertUnmatchedDeposit,
		Reference: ev.TransactionID,
		Message:   "deposit did not match any pending donation",
		Details: map[string]string{
			"ngo_id":         ev.NgoID,
			"account_number": ev.AccountNumber,
			"amount":         fmt.Sprintf("%d", ev.Amount),
			"depositor_name": ev.DepositorName,
		},
	}); err != nil {
		logger.Error("未匹配入账告警失败", zap.String("transaction_id", ev.TransactionID), zap.Error(err))
	}
}

// Reject 无法入账的报文 (格式错误、缺字段、金额非法) 交给人工处理
// 返回错误时调用方不能确认或跳过这条报文
func (m *Monitor) Reject(ctx context.Context, source string, raw []byte, cause error) error {
	monitor.Business.DepositEventsTotal.WithLabelValues("rejected").Inc()

	var probe struct {
		TransactionID string `json:"transactionId"`
	}
	ref := ""
	if json.Unmarshal(raw, &probe) == nil {
		ref = probe.TransactionID
	}
	if ref == "" {
		ref = "raw:" + crypto_util.CalculateBlake3(raw)
	}

	payload := string(raw)
	if len(payload) > maxAlertPayload {
		payload = payload[:maxAlertPayload] + "..."
	}
	if err := m.alerts.Notify(ctx, event.OperatorAlertEvent{
		Kind:      event.AlertRejectedDeposit,
		Reference: ref,
		Message:   "deposit notification could not be ingested",
		Details: map[string]string{
			"source":  source,
			"error":   cause.Error(),
			"payload": payload,
		},
	}); err != nil {
		return fmt.Errorf("alert rejected deposit: %w", err)
	}
	return nil
}

const maxAlertPayload = 2048

func validate(dep Deposit) error {
	var missing []string
	if strings.TrimSpace(dep.NgoID) == "" {
		missing = append(missing, "ngoId")
	}
	if strings.TrimSpace(dep.AccountNumber) == "" {
		missing = append(missing, "accountNumber")
	}
	if strings.TrimSpace(dep.TransactionID) == "" {
		missing = append(missing, "transactionId")
	}
	if len(missing) > 0 {
		return errno.ErrValidation.WithMessage("missing required fields: " + strings.Join(missing, ", "))
	}
	if dep.Amount <= 0 {
		return errno.ErrValidation.WithMessage("amount must be positive")
	}
	return nil
}

// AmountFromDecimal 拒绝小数和非正数
func AmountFromDecimal(d decimal.Decimal) (int64, error) {
	if !d.Equal(d.Truncate(0)) {
		return 0, errno.ErrValidation.WithMessage("amount must be an integer: " + d.String())
	}
	if !d.IsPositive() {
		return 0, errno.ErrValidation.WithMessage("amount must be positive")
	}
	if !d.LessThanOrEqual(decimal.NewFromInt(1 << 53)) {
		return 0, errno.ErrValidation.WithMessage("amount out of range: " + d.String())
	}
	return d.IntPart(), nil
}
