package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/internal/repository"
	"donation-core/internal/service/donation"
	"donation-core/internal/testutil"
)

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []event.OperatorAlertEvent
}

func (a *recordingAlerts) Notify(_ context.Context, alert event.OperatorAlertEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *recordingAlerts) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, al := range a.alerts {
		out = append(out, al.Kind)
	}
	return out
}

type fixture struct {
	db     *gorm.DB
	store  *repository.GormDonationStore
	svc    *donation.Service
	alerts *recordingAlerts
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	f := &fixture{
		db:     db,
		store:  repository.NewDonationStore(db),
		alerts: &recordingAlerts{},
	}
	f.svc = donation.NewService(f.store, repository.NewStoryStore(db), f.alerts)
	return f
}

func (f *fixture) seed(t *testing.T, id, ngo string, status model.DonationStatus, amount int64, orderID string) {
	t.Helper()
	d := &model.Donation{
		ID:        id,
		StoryID:   "S-" + ngo,
		DonorID:   "donor",
		NgoID:     ngo,
		ItemID:    "I1",
		Amount:    amount,
		Status:    status,
		CreatedAt: time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}
	if orderID != "" {
		d.PurchaseOrderID = &orderID
	}
	require.NoError(t, f.db.Create(d).Error)
}

func (f *fixture) status(t *testing.T, id string) *model.Donation {
	t.Helper()
	d, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	return d
}
