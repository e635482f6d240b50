package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/internal/partner"
	"donation-core/internal/testutil"
)

type fakeTransferer struct {
	mu      sync.Mutex
	batches []*partner.Batch
	failFor map[string]bool
	hook    func(ctx context.Context) error
}

func (f *fakeTransferer) Transfer(ctx context.Context, b *partner.Batch) error {
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[b.NgoID] {
		return errors.New("partner rejected transfer")
	}
	f.batches = append(f.batches, b)
	return nil
}

func TestBatchRef_DeterministicAndOrderIndependent(t *testing.T) {
	a := BatchRef("n1", []string{"d2", "d1"})
	b := BatchRef("n1", []string{"d1", "d2"})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, BatchRef("n2", []string{"d1", "d2"}))
	assert.NotEqual(t, a, BatchRef("n1", []string{"d1"}))
}

func TestBuildBatches_GroupsDeliveredByNgo(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	batches := BuildBatches([]model.Donation{
		{ID: "d2", NgoID: "n1", Amount: 5000, Status: model.StatusDelivered},
		{ID: "d3", NgoID: "n2", Amount: 7000, Status: model.StatusDelivered},
		{ID: "d1", NgoID: "n1", Amount: 20000, Status: model.StatusDelivered},
		{ID: "d4", NgoID: "n1", Amount: 1, Status: model.StatusShipped},
	}, at)

	require.Len(t, batches, 2)
	assert.Equal(t, "n1", batches[0].NgoID)
	assert.Equal(t, []string{"d1", "d2"}, batches[0].DonationIDs())
	assert.Equal(t, int64(25000), batches[0].Total)
	assert.Equal(t, BatchRef("n1", []string{"d1", "d2"}), batches[0].Ref)
	assert.Equal(t, "n2", batches[1].NgoID)
	assert.Equal(t, int64(7000), batches[1].Total)
}

func TestSettlementJob_FailedBatchRetriedWholesale(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", "n1", model.StatusDelivered, 20000, "o1")
	f.seed(t, "d2", "n1", model.StatusDelivered, 5000, "o2")
	f.seed(t, "d3", "n2", model.StatusDelivered, 7000, "o3")
	f.seed(t, "d4", "n2", model.StatusShipped, 9000, "o4")

	tr := &fakeTransferer{failFor: map[string]bool{"n2": true}}
	job := NewSettlementJob(f.store, f.svc, tr, f.alerts)

	err := job.Run(context.Background())
	require.Error(t, err)

	for _, id := range []string{"d1", "d2"} {
		d := f.status(t, id)
		assert.Equal(t, model.StatusSettled, d.Status)
		require.NotNil(t, d.SettlementRef)
		assert.Equal(t, BatchRef("n1", []string{"d1", "d2"}), *d.SettlementRef)
		assert.NotNil(t, d.SettledAt)
	}
	assert.Equal(t, model.StatusDelivered, f.status(t, "d3").Status)
	assert.Nil(t, f.status(t, "d3").SettledAt)
	assert.Equal(t, model.StatusShipped, f.status(t, "d4").Status)
	assert.Equal(t, []string{event.AlertSettlementFailed}, f.alerts.kinds())

	// 合作机构恢复后整批重试，批次号不变
	tr.failFor = nil
	require.NoError(t, job.Run(context.Background()))
	d3 := f.status(t, "d3")
	assert.Equal(t, model.StatusSettled, d3.Status)
	assert.Equal(t, BatchRef("n2", []string{"d3"}), *d3.SettlementRef)

	// SHIPPED 的捐赠单从不结算
	assert.Equal(t, model.StatusShipped, f.status(t, "d4").Status)
	require.Len(t, tr.batches, 2)
}

func TestSettlementJob_CancelledDuringTransferLeavesBatchUntouched(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", "n1", model.StatusDelivered, 20000, "o1")
	f.seed(t, "d2", "n1", model.StatusDelivered, 5000, "o2")

	ctx, cancel := context.WithCancel(context.Background())
	tr := &fakeTransferer{hook: func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}}
	job := NewSettlementJob(f.store, f.svc, tr, f.alerts)

	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Equal(t, model.StatusDelivered, f.status(t, "d1").Status)
	assert.Equal(t, model.StatusDelivered, f.status(t, "d2").Status)
}

func TestSettlementJob_ConfirmedTransferMarkedDespiteCancellation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", "n1", model.StatusDelivered, 20000, "o1")
	f.seed(t, "d2", "n1", model.StatusDelivered, 5000, "o2")

	ctx, cancel := context.WithCancel(context.Background())
	// 对方确认之后才收到停止信号
	tr := &fakeTransferer{hook: func(context.Context) error {
		cancel()
		return nil
	}}
	job := NewSettlementJob(f.store, f.svc, tr, f.alerts)

	require.NoError(t, job.Run(ctx))
	assert.Equal(t, model.StatusSettled, f.status(t, "d1").Status)
	assert.Equal(t, model.StatusSettled, f.status(t, "d2").Status)
}

func TestSettlementJob_NothingDelivered(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", "n1", model.StatusPurchased, 1000, "o1")

	tr := &fakeTransferer{}
	require.NoError(t, NewSettlementJob(f.store, f.svc, tr, f.alerts).Run(context.Background()))
	assert.Empty(t, tr.batches)
}

// flakySettler 前 failures 次标记失败，模拟转账成功后写库失败或进程崩溃
type flakySettler struct {
	next     BatchSettler
	failures int
}

func (s *flakySettler) MarkBatchSettled(ctx context.Context, ids []string, ref string) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("database unavailable")
	}
	return s.next.MarkBatchSettled(ctx, ids, ref)
}

func settlementNotices(t *testing.T, f *fixture) []event.PartnerSettlementEvent {
	t.Helper()
	var rows []model.OutboxMessage
	require.NoError(t, f.db.Where("topic = ?", event.TopicPartnerSettlements).Order("id").Find(&rows).Error)
	out := make([]event.PartnerSettlementEvent, len(rows))
	for i, r := range rows {
		require.NoError(t, json.Unmarshal(r.Payload, &out[i]))
	}
	return out
}

func TestSettlementJob_MarkFailureRetriesSameBatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "d1", "n1", model.StatusDelivered, 20000, "o1")

	settler := &flakySettler{next: f.svc, failures: 1}
	job := NewSettlementJob(f.store, settler, partner.NewOutboxTransferer(f.db), f.alerts)

	// 1. 通知已写出，标记失败
	require.Error(t, job.Run(context.Background()))
	d1 := f.status(t, "d1")
	assert.Equal(t, model.StatusDelivered, d1.Status)
	require.NotNil(t, d1.SettlementRef)
	ref1 := BatchRef("n1", []string{"d1"})
	assert.Equal(t, ref1, *d1.SettlementRef)

	// 2. 期间又有一单送达
	f.seed(t, "d2", "n1", model.StatusDelivered, 5000, "o2")

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, model.StatusSettled, f.status(t, "d1").Status)
	assert.Equal(t, model.StatusSettled, f.status(t, "d2").Status)

	// d1 只出现在一条结算通知里
	notices := settlementNotices(t, f)
	require.Len(t, notices, 2)
	assert.Equal(t, []string{"d1"}, notices[0].DonationIDs)
	assert.Equal(t, ref1, notices[0].BatchRef)
	assert.Equal(t, int64(20000), notices[0].TotalAmount)
	assert.Equal(t, []string{"d2"}, notices[1].DonationIDs)
	assert.Equal(t, int64(5000), notices[1].TotalAmount)
	assert.Equal(t, int64(2), testutil.CountOutbox(t, f.db, event.TopicPartnerSettlements))
}

func TestPendingBatches_RebuildsReservedBatch(t *testing.T) {
	at := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	ref := "ref-1"
	delivered := []model.Donation{
		{ID: "d2", NgoID: "n1", Amount: 5000, Status: model.StatusDelivered, SettlementRef: &ref},
		{ID: "d1", NgoID: "n1", Amount: 20000, Status: model.StatusDelivered, SettlementRef: &ref},
		{ID: "d3", NgoID: "n1", Amount: 7000, Status: model.StatusDelivered},
	}

	pending := PendingBatches(delivered, at)
	require.Len(t, pending, 1)
	assert.Equal(t, ref, pending[0].Ref)
	assert.Equal(t, []string{"d1", "d2"}, pending[0].DonationIDs())
	assert.Equal(t, int64(25000), pending[0].Total)

	// 已预留的不会再进新批次
	fresh := BuildBatches(delivered, at)
	require.Len(t, fresh, 1)
	assert.Equal(t, []string{"d3"}, fresh[0].DonationIDs())
}
