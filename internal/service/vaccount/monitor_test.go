package vaccount

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/internal/repository"
	"donation-core/internal/service/donation"
	"donation-core/internal/service/mq"
	"donation-core/internal/testutil"
	"donation-core/pkg/errno"
)

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []event.OperatorAlertEvent
	err    error
}

func (a *recordingAlerts) Notify(ctx context.Context, alert event.OperatorAlertEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *recordingAlerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

type fixture struct {
	db        *gorm.DB
	processor *donation.Service
	monitor   *Monitor
	ledger    *repository.GormDepositLedger
	alerts    *recordingAlerts
	now       time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	db := testutil.NewDB(t)
	testutil.SeedStory(t, db, "S1", "N1", "I1")
	testutil.SeedStory(t, db, "S2", "N2", "I2")

	f := &fixture{
		db:     db,
		ledger: repository.NewDepositLedger(db),
		alerts: &recordingAlerts{},
		now:    time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	donations := repository.NewDonationStore(db)
	f.processor = donation.NewService(donations, repository.NewStoryStore(db), f.alerts, donation.WithClock(clock))
	f.monitor = NewMonitor(f.ledger, donations, f.processor, f.alerts, append([]Option{WithClock(clock)}, opts...)...)
	f.processor.SetFundingMatcher(f.monitor)
	return f
}

func (f *fixture) donate(t *testing.T, story string, amount int64) *model.Donation {
	t.Helper()
	d, err := f.processor.StartDonationProcess(context.Background(), donation.Intake{StoryID: story, DonorID: "donor", Amount: amount})
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)
	return d
}

func (f *fixture) status(t *testing.T, id string) model.DonationStatus {
	t.Helper()
	d, err := f.processor.Get(context.Background(), id)
	require.NoError(t, err)
	return d.Status
}

func deposit(txn, ngo string, amount int64) Deposit {
	return Deposit{NgoID: ngo, AccountNumber: "110-222-333", Amount: amount, TransactionID: txn, DepositorName: "KIM"}
}

func TestIngest_MatchAndReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.donate(t, "S1", 30000)

	res, err := f.monitor.Ingest(ctx, deposit("T1", "N1", 30000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatched, res.Outcome)
	assert.Equal(t, d.ID, res.DonationID)
	assert.Equal(t, model.StatusPaymentConfirmed, f.status(t, d.ID))

	// 银行重复推送
	res, err = f.monitor.Ingest(ctx, deposit("T1", "N1", 30000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	var n int64
	require.NoError(t, f.db.Model(&model.DepositEvent{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
	assert.Zero(t, f.alerts.count())
}

func TestIngest_DepositBeforeDonation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.monitor.Ingest(ctx, deposit("T1", "N1", 30000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
	require.Equal(t, 1, f.alerts.count())
	assert.Equal(t, event.AlertUnmatchedDeposit, f.alerts.alerts[0].Kind)

	// 捐赠单创建时自动重试
	d := f.donate(t, "S1", 30000)
	assert.Equal(t, model.StatusPaymentConfirmed, f.status(t, d.ID))

	ev, err := f.ledger.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, model.DepositMatched, ev.Status)
	assert.Equal(t, 1, f.alerts.count())
}

func TestIngest_OldestCandidateFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.donate(t, "S1", 10000)
	second := f.donate(t, "S1", 10000)
	other := f.donate(t, "S2", 10000)

	res, err := f.monitor.Ingest(ctx, deposit("T1", "N1", 10000))
	require.NoError(t, err)
	assert.Equal(t, first.ID, res.DonationID)

	res, err = f.monitor.Ingest(ctx, deposit("T2", "N1", 10000))
	require.NoError(t, err)
	assert.Equal(t, second.ID, res.DonationID)

	// N1 已经没有待付款
	res, err = f.monitor.Ingest(ctx, deposit("T3", "N1", 10000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
	assert.Equal(t, model.StatusPendingPayment, f.status(t, other.ID))
}

func TestIngest_AmountMustMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.donate(t, "S1", 10000)

	res, err := f.monitor.Ingest(ctx, deposit("T1", "N1", 9999))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
	assert.Equal(t, model.StatusPendingPayment, f.status(t, d.ID))
}

func TestIngest_Tolerance(t *testing.T) {
	f := newFixture(t, WithTolerance(100))
	ctx := context.Background()
	d := f.donate(t, "S1", 10000)

	res, err := f.monitor.Ingest(ctx, deposit("T1", "N1", 9950))
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatched, res.Outcome)
	assert.Equal(t, d.ID, res.DonationID)
}

func TestIngest_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		dep  Deposit
	}{
		{"missing ngo", Deposit{AccountNumber: "a", Amount: 1, TransactionID: "T1"}},
		{"missing account", Deposit{NgoID: "N1", Amount: 1, TransactionID: "T1"}},
		{"missing transaction", Deposit{NgoID: "N1", AccountNumber: "a", Amount: 1}},
		{"zero amount", Deposit{NgoID: "N1", AccountNumber: "a", TransactionID: "T1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.monitor.Ingest(ctx, tt.dep)
			assert.True(t, errors.Is(err, errno.ErrValidation))
		})
	}

	var n int64
	require.NoError(t, f.db.Model(&model.DepositEvent{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestIngest_DefaultsDepositTimeToReceipt(t *testing.T) {
	f := newFixture(t)
	_, err := f.monitor.Ingest(context.Background(), deposit("T1", "N1", 500))
	require.NoError(t, err)

	ev, err := f.ledger.Get(context.Background(), "T1")
	require.NoError(t, err)
	assert.True(t, ev.DepositDateTime.Equal(f.now))
}

func TestRetryUnmatched_EscalatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.monitor.Ingest(ctx, deposit("T1", "N1", 700))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n, err := f.monitor.RetryUnmatched(ctx, "")
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	assert.Equal(t, 1, f.alerts.count())
}

func TestRetryUnmatched_AllNgos(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.monitor.Ingest(ctx, deposit("T1", "N1", 100))
	require.NoError(t, err)
	_, err = f.monitor.Ingest(ctx, deposit("T2", "N2", 200))
	require.NoError(t, err)

	// 直接写库，绕过创建时的自动重试
	for _, d := range []*model.Donation{
		{ID: "D1", StoryID: "S1", DonorID: "x", NgoID: "N1", ItemID: "I1", Amount: 100, Status: model.StatusPendingPayment, CreatedAt: f.now},
		{ID: "D2", StoryID: "S2", DonorID: "x", NgoID: "N2", ItemID: "I2", Amount: 200, Status: model.StatusPendingPayment, CreatedAt: f.now},
	} {
		require.NoError(t, f.db.Create(d).Error)
	}

	n, err := f.monitor.RetryUnmatched(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.StatusPaymentConfirmed, f.status(t, "D1"))
	assert.Equal(t, model.StatusPaymentConfirmed, f.status(t, "D2"))
}

func TestIngest_ConcurrentDepositsSameAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.donate(t, "S1", 100)
	b := f.donate(t, "S1", 100)

	var wg sync.WaitGroup
	for _, txn := range []string{"T1", "T2"} {
		wg.Add(1)
		go func(txn string) {
			defer wg.Done()
			_, err := f.monitor.Ingest(ctx, deposit(txn, "N1", 100))
			assert.NoError(t, err)
		}(txn)
	}
	wg.Wait()

	assert.Equal(t, model.StatusPaymentConfirmed, f.status(t, a.ID))
	assert.Equal(t, model.StatusPaymentConfirmed, f.status(t, b.ID))

	left, err := f.ledger.ListUnmatched(ctx, "N1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestDecodeBankDeposit_Amount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    int64
		wantErr bool
	}{
		{"number", `30000`, 30000, false},
		{"string", `"30000"`, 30000, false},
		{"trailing zeros", `"1500.00"`, 1500, false},
		{"fraction", `1500.5`, 0, true},
		{"zero", `0`, 0, true},
		{"negative", `"-10"`, 0, true},
		{"not a number", `"abc"`, 0, true},
		{"missing", `null`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := []byte(`{"ngoId":"N1","accountNumber":"110","transactionId":"T1","amount":` + tt.amount + `}`)
			dep, err := DecodeBankDeposit(raw)
			if tt.wantErr {
				assert.True(t, errors.Is(err, errno.ErrValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dep.Amount)
		})
	}
}

func TestSubscriber_Handle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.donate(t, "S1", 30000)
	sub := NewSubscriber(nil, f.monitor, "")

	payload := []byte(`{"ngoId":"N1","accountNumber":"110","amount":"30000","transactionId":"T1","depositDateTime":"2024-03-04T10:00:00Z"}`)
	require.NoError(t, sub.Handle(ctx, &mq.Message{ID: "1", Payload: payload}))
	assert.Equal(t, model.StatusPaymentConfirmed, f.status(t, d.ID))

	ev, err := f.ledger.Get(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, 10, ev.DepositDateTime.UTC().Hour())
	assert.NotEmpty(t, ev.Payload)

	// 数字金额同样入账
	d2 := f.donate(t, "S1", 20000)
	numeric := []byte(`{"ngoId":"N1","accountNumber":"110","amount":20000,"transactionId":"T2"}`)
	require.NoError(t, sub.Handle(ctx, &mq.Message{ID: "2", Payload: numeric}))
	assert.Equal(t, model.StatusPaymentConfirmed, f.status(t, d2.ID))
}

func TestSubscriber_RejectedPayloadGoesToOperators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := NewSubscriber(nil, f.monitor, "")

	require.NoError(t, sub.Handle(ctx, &mq.Message{ID: "1", Payload: []byte(`{"ngoId":"N1","amount":"x","transactionId":"T9"}`)}))
	require.NoError(t, sub.Handle(ctx, &mq.Message{ID: "2", Payload: []byte(`not json`)}))

	require.Equal(t, 2, f.alerts.count())
	for _, a := range f.alerts.alerts {
		assert.Equal(t, event.AlertRejectedDeposit, a.Kind)
		assert.Equal(t, "mq:"+event.TopicBankDepositsDefault, a.Details["source"])
	}
	assert.Equal(t, "T9", f.alerts.alerts[0].Reference)
	assert.Contains(t, f.alerts.alerts[1].Reference, "raw:")

	// 没有写入流水
	left, err := f.ledger.ListUnmatched(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, left)

	// 告警写不进去时不确认，交给 MQ 重投
	f.alerts.err = errors.New("outbox unavailable")
	assert.Error(t, sub.Handle(ctx, &mq.Message{ID: "3", Payload: []byte(`not json`)}))
}
