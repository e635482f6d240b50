package alert

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/pkg/logger"
	"donation-core/pkg/monitor"
)

// Notifier 把需要人工处理的情况推到运营告警队列
type Notifier interface {
	Notify(ctx context.Context, alert event.OperatorAlertEvent) error
}

// OutboxNotifier 写入 outbox，由 Relay 投递到 operator_alerts
type OutboxNotifier struct {
	db  *gorm.DB
	now func() time.Time
}

func NewOutboxNotifier(db *gorm.DB) *OutboxNotifier {
	return &OutboxNotifier{db: db, now: time.Now}
}

func (n *OutboxNotifier) Notify(ctx context.Context, alert event.OperatorAlertEvent) error {
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = n.now()
	}

	logger.Warn("运营告警",
		zap.String("kind", alert.Kind),
		zap.String("reference", alert.Reference),
		zap.String("message", alert.Message),
	)
	monitor.Business.OperatorAlertsTotal.WithLabelValues(alert.Kind).Inc()

	return model.CreateOutboxMessage(n.db.WithContext(ctx), event.TopicOperatorAlerts, alert.Reference, alert)
}
