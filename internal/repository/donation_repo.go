package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/pkg/errno"
)

type GormDonationStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDonationStore(db *gorm.DB) *GormDonationStore {
	return &GormDonationStore{db: db, now: time.Now}
}

func (r *GormDonationStore) Create(ctx context.Context, d *model.Donation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(d).Error; err != nil {
			return err
		}
		return model.CreateOutboxMessage(tx, event.TopicDonationEvents, d.ID, event.DonationStatusChangedEvent{
			DonationID: d.ID,
			NgoID:      d.NgoID,
			To:         string(d.Status),
			Amount:     d.Amount,
			OccurredAt: r.now(),
		})
	})
}

func (r *GormDonationStore) Get(ctx context.Context, id string) (*model.Donation, error) {
	var d model.Donation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrNotFound.WithMessage("donation not found: " + id)
		}
		return nil, err
	}
	return &d, nil
}

func (r *GormDonationStore) Transition(ctx context.Context, d *model.Donation, to model.DonationStatus, fields map[string]interface{}) (*model.Donation, error) {
	var out model.Donation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.apply(tx, d, to, fields); err != nil {
			return err
		}
		return tx.Where("id = ?", d.ID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *GormDonationStore) Fund(ctx context.Context, d *model.Donation, depositTxnID string, at time.Time) (*model.Donation, error) {
	var out model.Donation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 流水必须存在且未被消费
		var dep model.DepositEvent
		if err := tx.Where("transaction_id = ?", depositTxnID).First(&dep).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.ErrNotFound.WithMessage("deposit not recorded: " + depositTxnID)
			}
			return err
		}
		if dep.Status != model.DepositUnmatched {
			return errno.ErrDepositConsumed
		}

		// 2. 消费流水
		res := tx.Model(&model.DepositEvent{}).
			Where("transaction_id = ? AND status = ?", depositTxnID, model.DepositUnmatched).
			Updates(map[string]interface{}{
				"status":              model.DepositMatched,
				"matched_donation_id": d.ID,
				"matched_at":          at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errno.ErrDepositConsumed
		}

		// 3. 推进捐赠单，失败则连同流水一起回滚
		if err := r.apply(tx, d, model.StatusPaymentConfirmed, map[string]interface{}{
			"matched_deposit_txn_id": depositTxnID,
		}); err != nil {
			return err
		}
		return tx.Where("id = ?", d.ID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ReserveBatch 转账前把批次号写到尚未占用的 DELIVERED 捐赠单上，状态不变
// 任意一条已被其他批次占用或不再是 DELIVERED 则整批回滚
func (r *GormDonationStore) ReserveBatch(ctx context.Context, ids []string, ref string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Donation{}).
			Where("id IN ? AND status = ? AND settlement_ref IS NULL", ids, model.StatusDelivered).
			Updates(map[string]interface{}{
				"settlement_ref": ref,
				"version":        gorm.Expr("version + 1"),
				"updated_at":     r.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("%w: reserved %d of %d", errno.ErrSettlementPartial, res.RowsAffected, len(ids))
		}
		return nil
	})
}

func (r *GormDonationStore) SettleBatch(ctx context.Context, ids []string, ref string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	// 未预留或预留给同一批次的才能结算
	settleable := "id IN ? AND status = ? AND (settlement_ref IS NULL OR settlement_ref = ?)"
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []model.Donation
		if err := tx.Where(settleable, ids, model.StatusDelivered, ref).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) != len(ids) {
			return fmt.Errorf("%w: %d of %d donations still delivered", errno.ErrSettlementPartial, len(rows), len(ids))
		}

		res := tx.Model(&model.Donation{}).
			Where(settleable, ids, model.StatusDelivered, ref).
			Updates(map[string]interface{}{
				"status":         model.StatusSettled,
				"settled_at":     at,
				"settlement_ref": ref,
				"version":        gorm.Expr("version + 1"),
				"updated_at":     r.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("%w: updated %d of %d", errno.ErrSettlementPartial, res.RowsAffected, len(ids))
		}

		for _, d := range rows {
			if err := model.CreateOutboxMessage(tx, event.TopicDonationEvents, d.ID, event.DonationStatusChangedEvent{
				DonationID: d.ID,
				NgoID:      d.NgoID,
				From:       string(model.StatusDelivered),
				To:         string(model.StatusSettled),
				Amount:     d.Amount,
				OccurredAt: at,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormDonationStore) ListPendingForMatch(ctx context.Context, ngoID string, minAmount, maxAmount int64) ([]model.Donation, error) {
	var list []model.Donation
	err := r.db.WithContext(ctx).
		Where("ngo_id = ? AND status = ? AND amount BETWEEN ? AND ?", ngoID, model.StatusPendingPayment, minAmount, maxAmount).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func (r *GormDonationStore) ListByStatus(ctx context.Context, statuses ...model.DonationStatus) ([]model.Donation, error) {
	var list []model.Donation
	err := r.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

func (r *GormDonationStore) ListStale(ctx context.Context, before time.Time, statuses ...model.DonationStatus) ([]model.Donation, error) {
	var list []model.Donation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, before).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	return list, err
}

// apply 乐观锁更新 + 写状态变更事件，必须在事务内调用
func (r *GormDonationStore) apply(tx *gorm.DB, d *model.Donation, to model.DonationStatus, fields map[string]interface{}) error {
	if !model.CanTransition(d.Status, to) {
		return errno.ErrInvalidState.WithMessage(fmt.Sprintf("illegal transition %s -> %s", d.Status, to))
	}

	now := r.now()
	updates := map[string]interface{}{
		"status":     to,
		"version":    gorm.Expr("version + 1"),
		"updated_at": now,
	}
	for k, v := range fields {
		updates[k] = v
	}

	res := tx.Model(&model.Donation{}).
		Where("id = ? AND status = ? AND version = ?", d.ID, d.Status, d.Version).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 被并发修改或状态已变化
		return errno.ErrInvalidState
	}

	return model.CreateOutboxMessage(tx, event.TopicDonationEvents, d.ID, event.DonationStatusChangedEvent{
		DonationID: d.ID,
		NgoID:      d.NgoID,
		From:       string(d.Status),
		To:         string(to),
		Amount:     d.Amount,
		OccurredAt: now,
	})
}
