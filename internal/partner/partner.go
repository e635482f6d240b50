package partner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/pkg/logger"
)

// Line 结算批次中的一笔捐赠
type Line struct {
	DonationID  string     `json:"donationId"`
	StoryID     string     `json:"storyId"`
	ItemID      string     `json:"itemId"`
	Amount      int64      `json:"amount"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// Batch 某个机构的一次结算
// Ref 由机构 ID 和排序后的捐赠单 ID 推导，重试同一批次时不变
type Batch struct {
	Ref       string    `json:"ref"`
	NgoID     string    `json:"ngoId"`
	Lines     []Line    `json:"lines"`
	Total     int64     `json:"total"`
	CreatedAt time.Time `json:"createdAt"`

	// 由前面的环节填充，例如对账单归档位置
	StatementURI string `json:"statementUri,omitempty"`
}

func (b *Batch) DonationIDs() []string {
	ids := make([]string, len(b.Lines))
	for i, l := range b.Lines {
		ids[i] = l.DonationID
	}
	return ids
}

// Transferer 通知合作机构结算；返回 nil 表示对方已确认
// 实现必须按 Batch.Ref 幂等，同一批次可能被重试
type Transferer interface {
	Transfer(ctx context.Context, batch *Batch) error
}

// Chain 依次执行，任意一步失败则整体失败
type Chain []Transferer

func (c Chain) Transfer(ctx context.Context, batch *Batch) error {
	for _, t := range c {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.Transfer(ctx, batch); err != nil {
			return err
		}
	}
	return nil
}

// OutboxTransferer 把结算通知写入 outbox (partner_settlements)，由 Relay 投递
type OutboxTransferer struct {
	db *gorm.DB
}

func NewOutboxTransferer(db *gorm.DB) *OutboxTransferer {
	return &OutboxTransferer{db: db}
}

func (t *OutboxTransferer) Transfer(ctx context.Context, batch *Batch) error {
	if batch == nil || len(batch.Lines) == 0 {
		return errors.New("empty settlement batch")
	}

	notice := event.PartnerSettlementEvent{
		BatchRef:    batch.Ref,
		NgoID:       batch.NgoID,
		DonationIDs: batch.DonationIDs(),
		TotalAmount: batch.Total,
		StatementAt: batch.StatementURI,
		CreatedAt:   batch.CreatedAt,
	}

	written, err := model.CreateOutboxMessageOnce(t.db.WithContext(ctx),
		event.TopicPartnerSettlements, batch.NgoID, "settlement:"+batch.Ref, notice)
	if err != nil {
		return fmt.Errorf("write settlement notice: %w", err)
	}
	if !written {
		logger.Info("结算通知已存在，跳过", zap.String("batch_ref", batch.Ref))
	}
	return nil
}
