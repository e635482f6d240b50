package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/internal/partner"
	"donation-core/internal/repository"
	"donation-core/internal/service/alert"
	"donation-core/pkg/crypto_util"
	"donation-core/pkg/logger"
	"donation-core/pkg/monitor"
)

// BatchSettler 整批标记已结算
type BatchSettler interface {
	MarkBatchSettled(ctx context.Context, ids []string, batchRef string) error
}

// SettlementJob 按机构汇总已送达的捐赠单，通知合作机构，确认后整批标记 SETTLED
type SettlementJob struct {
	donations  repository.DonationStore
	settler    BatchSettler
	transferer partner.Transferer
	alerts     alert.Notifier
	now        func() time.Time
}

func NewSettlementJob(donations repository.DonationStore, settler BatchSettler, transferer partner.Transferer, alerts alert.Notifier) *SettlementJob {
	return &SettlementJob{
		donations:  donations,
		settler:    settler,
		transferer: transferer,
		alerts:     alerts,
		now:        time.Now,
	}
}

// BatchRef 同一机构、同一组捐赠单总是得到同一个批次号
func BatchRef(ngoID string, donationIDs []string) string {
	ids := append([]string(nil), donationIDs...)
	sort.Strings(ids)
	return crypto_util.DeriveToken(append([]string{"settlement", ngoID}, ids...)...)
}

// BuildBatches 按机构分组尚未预留批次的 DELIVERED 捐赠单，机构和捐赠单都按 ID 排序
func BuildBatches(delivered []model.Donation, at time.Time) []*partner.Batch {
	byNgo := make(map[string][]model.Donation)
	for _, d := range delivered {
		if d.Status != model.StatusDelivered || d.SettlementRef != nil {
			continue
		}
		byNgo[d.NgoID] = append(byNgo[d.NgoID], d)
	}

	ngos := make([]string, 0, len(byNgo))
	for ngo := range byNgo {
		ngos = append(ngos, ngo)
	}
	sort.Strings(ngos)

	batches := make([]*partner.Batch, 0, len(ngos))
	for _, ngo := range ngos {
		b := newBatch(ngo, byNgo[ngo], at)
		b.Ref = BatchRef(ngo, b.DonationIDs())
		batches = append(batches, b)
	}
	return batches
}

// PendingBatches 已预留但还没结算的批次，按原批次号原样重建
func PendingBatches(delivered []model.Donation, at time.Time) []*partner.Batch {
	byRef := make(map[string][]model.Donation)
	for _, d := range delivered {
		if d.Status != model.StatusDelivered || d.SettlementRef == nil {
			continue
		}
		byRef[*d.SettlementRef] = append(byRef[*d.SettlementRef], d)
	}

	refs := make([]string, 0, len(byRef))
	for ref := range byRef {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	batches := make([]*partner.Batch, 0, len(refs))
	for _, ref := range refs {
		items := byRef[ref]
		b := newBatch(items[0].NgoID, items, at)
		b.Ref = ref
		batches = append(batches, b)
	}
	return batches
}

func newBatch(ngo string, items []model.Donation, at time.Time) *partner.Batch {
	sort.Slice(items, func(i, k int) bool { return items[i].ID < items[k].ID })

	b := &partner.Batch{NgoID: ngo, CreatedAt: at}
	for _, d := range items {
		b.Lines = append(b.Lines, partner.Line{
			DonationID:  d.ID,
			StoryID:     d.StoryID,
			ItemID:      d.ItemID,
			Amount:      d.Amount,
			DeliveredAt: d.DeliveredAt,
		})
		b.Total += d.Amount
	}
	return b
}

// Run 先重试上次没走完的批次，再为新送达的捐赠单建批次
// 转账失败的批次一条都不标记，保留预留，下次按同一批次号整批重试
func (j *SettlementJob) Run(ctx context.Context) error {
	delivered, err := j.donations.ListByStatus(ctx, model.StatusDelivered)
	if err != nil {
		return fmt.Errorf("list delivered donations: %w", err)
	}

	now := j.now()
	pending := PendingBatches(delivered, now)
	fresh := BuildBatches(delivered, now)

	var errs []error
	settled := 0
	for i, b := range append(pending, fresh...) {
		// 已停止时不再开始新批次
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if i >= len(pending) {
			// 1. 转账前先落批次号，之后无论崩溃还是失败都按这一批重试
			if err := j.donations.ReserveBatch(ctx, b.DonationIDs(), b.Ref); err != nil {
				errs = append(errs, fmt.Errorf("reserve batch %s (ngo %s): %w", b.Ref, b.NgoID, err))
				continue
			}
		} else {
			logger.Info("[Settlement] 重试未完成的批次", zap.String("batch_ref", b.Ref), zap.String("ngo_id", b.NgoID))
		}
		if err := j.settle(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("batch %s (ngo %s): %w", b.Ref, b.NgoID, err))
			continue
		}
		settled++
	}

	logger.Info("[Settlement] 本轮完成", zap.Int("settled_batches", settled), zap.Int("failed_batches", len(errs)))
	return errors.Join(errs...)
}

func (j *SettlementJob) settle(ctx context.Context, b *partner.Batch) error {
	// 2. 通知合作机构
	if err := j.transferer.Transfer(ctx, b); err != nil {
		logger.Error("[Settlement] 结算转账失败", zap.String("batch_ref", b.Ref), zap.String("ngo_id", b.NgoID), zap.Error(err))
		if aerr := j.alerts.Notify(context.WithoutCancel(ctx), event.OperatorAlertEvent{
			Kind:      event.AlertSettlementFailed,
			Reference: b.Ref,
			Message:   "partner settlement transfer failed, batch will be retried",
			Details: map[string]string{
				"ngo_id": b.NgoID,
				"total":  fmt.Sprint(b.Total),
				"error":  err.Error(),
			},
		}); aerr != nil {
			logger.Error("[Settlement] 告警写入失败", zap.String("batch_ref", b.Ref), zap.Error(aerr))
		}
		return err
	}

	// 3. 对方已确认，标记不受 Stop 取消影响，保证整批要么全部 SETTLED 要么都不动
	if err := j.settler.MarkBatchSettled(context.WithoutCancel(ctx), b.DonationIDs(), b.Ref); err != nil {
		return fmt.Errorf("mark settled: %w", err)
	}
	monitor.Business.SettledAmountTotal.Add(float64(b.Total))
	logger.Info("[Settlement] 批次已结算",
		zap.String("batch_ref", b.Ref), zap.String("ngo_id", b.NgoID),
		zap.Int("donations", len(b.Lines)), zap.Int64("total", b.Total))
	return nil
}
