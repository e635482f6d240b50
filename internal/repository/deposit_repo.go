package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"donation-core/internal/model"
	"donation-core/pkg/errno"
)

type GormDepositLedger struct {
	db *gorm.DB
}

func NewDepositLedger(db *gorm.DB) *GormDepositLedger {
	return &GormDepositLedger{db: db}
}

func (r *GormDepositLedger) Record(ctx context.Context, ev *model.DepositEvent) (bool, error) {
	if ev.Status == "" {
		ev.Status = model.DepositUnmatched
	}
	// INSERT ... ON CONFLICT (transaction_id) DO NOTHING
	// 唯一索引保证并发重放时只有一个写入者成功
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transaction_id"}},
		DoNothing: true,
	}).Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormDepositLedger) Get(ctx context.Context, transactionID string) (*model.DepositEvent, error) {
	var ev model.DepositEvent
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&ev).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrNotFound.WithMessage("deposit not found: " + transactionID)
		}
		return nil, err
	}
	return &ev, nil
}

func (r *GormDepositLedger) ListUnmatched(ctx context.Context, ngoID string) ([]model.DepositEvent, error) {
	q := r.db.WithContext(ctx).Where("status = ?", model.DepositUnmatched)
	if ngoID != "" {
		q = q.Where("ngo_id = ?", ngoID)
	}
	var list []model.DepositEvent
	err := q.Order("deposit_date_time ASC, id ASC").Find(&list).Error
	return list, err
}

func (r *GormDepositLedger) MarkEscalated(ctx context.Context, transactionID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.DepositEvent{}).
		Where("transaction_id = ? AND escalated_at IS NULL", transactionID).
		Update("escalated_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
