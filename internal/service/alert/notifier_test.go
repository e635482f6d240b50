package alert

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-core/internal/event"
	"donation-core/internal/model"
	"donation-core/internal/testutil"
)

func TestOutboxNotifier(t *testing.T) {
	db := testutil.NewDB(t)
	n := NewOutboxNotifier(db)

	err := n.Notify(context.Background(), event.OperatorAlertEvent{
		Kind:      event.AlertUnmatchedDeposit,
		Reference: "T1",
		Message:   "no pending donation",
	})
	require.NoError(t, err)

	var msg model.OutboxMessage
	require.NoError(t, db.Where("topic = ?", event.TopicOperatorAlerts).First(&msg).Error)
	assert.Equal(t, "T1", msg.Key)
	assert.Equal(t, model.OutboxPending, msg.Status)

	var got event.OperatorAlertEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &got))
	assert.Equal(t, event.AlertUnmatchedDeposit, got.Kind)
	assert.False(t, got.OccurredAt.IsZero())
}
