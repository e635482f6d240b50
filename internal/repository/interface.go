package repository

import (
	"context"
	"time"

	"donation-core/internal/model"
)

// DonationStore 捐赠单持久化
// 所有状态迁移都带 (status, version) 条件，输掉竞争的一方拿到 errno.ErrInvalidState
type DonationStore interface {
	Create(ctx context.Context, d *model.Donation) error
	Get(ctx context.Context, id string) (*model.Donation, error)

	// Transition 按 d 当前的 Status/Version 做一次迁移，fields 为同时写入的列
	Transition(ctx context.Context, d *model.Donation, to model.DonationStatus, fields map[string]interface{}) (*model.Donation, error)

	// Fund 在同一事务里消费入账流水并把捐赠单推进到 PAYMENT_CONFIRMED
	Fund(ctx context.Context, d *model.Donation, depositTxnID string, at time.Time) (*model.Donation, error)

	// ReserveBatch 转账前整批写入批次号 (状态仍为 DELIVERED)，崩溃后按同一批次重试
	ReserveBatch(ctx context.Context, ids []string, ref string) error

	// SettleBatch 整批 DELIVERED -> SETTLED，任意一条不满足则整批回滚
	SettleBatch(ctx context.Context, ids []string, ref string, at time.Time) error

	// ListPendingForMatch 同一机构下金额落在 [minAmount, maxAmount] 的待付款捐赠单，按创建时间升序
	ListPendingForMatch(ctx context.Context, ngoID string, minAmount, maxAmount int64) ([]model.Donation, error)
	ListByStatus(ctx context.Context, statuses ...model.DonationStatus) ([]model.Donation, error)
	ListStale(ctx context.Context, before time.Time, statuses ...model.DonationStatus) ([]model.Donation, error)
}

// DepositLedger 入账流水
type DepositLedger interface {
	// Record 原子地按 transaction_id 去重写入，返回是否为新记录
	Record(ctx context.Context, ev *model.DepositEvent) (bool, error)
	Get(ctx context.Context, transactionID string) (*model.DepositEvent, error)
	// ListUnmatched ngoID 为空时返回全部机构
	ListUnmatched(ctx context.Context, ngoID string) ([]model.DepositEvent, error)
	// MarkEscalated 只有第一次调用返回 true
	MarkEscalated(ctx context.Context, transactionID string, at time.Time) (bool, error)
}

// StoryStore 求助故事查询
type StoryStore interface {
	Get(ctx context.Context, id string) (*model.Story, error)
}
