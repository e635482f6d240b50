package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from DonationStatus
		to   DonationStatus
		want bool
	}{
		{"fund pending", StatusPendingPayment, StatusPaymentConfirmed, true},
		{"cancel pending", StatusPendingPayment, StatusCancelled, true},
		{"cancel after funding", StatusPaymentConfirmed, StatusCancelled, false},
		{"fail before purchase", StatusPaymentConfirmed, StatusFailed, true},
		{"fail while purchasing", StatusPurchasing, StatusFailed, true},
		{"fail after purchase", StatusPurchased, StatusFailed, false},
		{"skip shipped", StatusPurchased, StatusDelivered, false},
		{"settle delivered", StatusDelivered, StatusSettled, true},
		{"settle shipped", StatusShipped, StatusSettled, false},
		{"backwards", StatusShipped, StatusPurchased, false},
		{"out of settled", StatusSettled, StatusDelivered, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusSettled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPendingPayment.IsTerminal())
	assert.False(t, StatusDelivered.IsTerminal())
}
