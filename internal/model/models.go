package model

import (
	"time"
)

// DonationStatus 捐赠单生命周期状态
type DonationStatus string

const (
	StatusPendingPayment   DonationStatus = "PENDING_PAYMENT"
	StatusPaymentConfirmed DonationStatus = "PAYMENT_CONFIRMED"
	StatusPurchasing       DonationStatus = "PURCHASING"
	StatusPurchased        DonationStatus = "PURCHASED"
	StatusShipped          DonationStatus = "SHIPPED"
	StatusDelivered        DonationStatus = "DELIVERED"
	StatusSettled          DonationStatus = "SETTLED"
	StatusFailed           DonationStatus = "FAILED"
	StatusCancelled        DonationStatus = "CANCELLED"
)

// 只允许前进，不允许回退
var transitions = map[DonationStatus][]DonationStatus{
	StatusPendingPayment:   {StatusPaymentConfirmed, StatusCancelled},
	StatusPaymentConfirmed: {StatusPurchasing, StatusFailed},
	StatusPurchasing:       {StatusPurchased, StatusFailed},
	StatusPurchased:        {StatusShipped},
	StatusShipped:          {StatusDelivered},
	StatusDelivered:        {StatusSettled},
}

// CanTransition 判断 from -> to 是否是图里的一条边
func CanTransition(from, to DonationStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal SETTLED / FAILED / CANCELLED 之后不会再变化
func (s DonationStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Donation 捐赠单
// 核心设计: Version 乐观锁保证同一捐赠单的状态迁移互斥
type Donation struct {
	ID                  string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	StoryID             string         `gorm:"type:varchar(64);not null;index" json:"storyId"`
	DonorID             string         `gorm:"type:varchar(64);not null;index" json:"donorId"`
	NgoID               string         `gorm:"type:varchar(64);not null;index:idx_donations_ngo_status,priority:1" json:"ngoId"`
	ItemID              string         `gorm:"type:varchar(64);not null" json:"itemId"`
	Amount              int64          `gorm:"not null" json:"amount"` // 最小货币单位
	Message             string         `gorm:"type:text" json:"message,omitempty"`
	Status              DonationStatus `gorm:"type:varchar(32);not null;index:idx_donations_ngo_status,priority:2" json:"status"`
	MatchedDepositTxnID *string        `gorm:"type:varchar(128);uniqueIndex" json:"matchedDepositTxnId,omitempty"`
	PurchaseOrderID     *string        `gorm:"type:varchar(128)" json:"purchaseOrderId,omitempty"`
	TrackingNumber      *string        `gorm:"type:varchar(128)" json:"trackingNumber,omitempty"`
	PurchaseAttempts    int            `gorm:"not null;default:0" json:"purchaseAttempts"`
	FailureReason       string         `gorm:"type:text" json:"failureReason,omitempty"`
	DeliveredAt         *time.Time     `json:"deliveredAt,omitempty"`
	SettledAt           *time.Time     `json:"settledAt,omitempty"`
	SettlementRef       *string        `gorm:"type:varchar(128);index" json:"settlementRef,omitempty"` // DELIVERED 时表示已预留给该批次
	Version             uint64         `gorm:"not null;default:0" json:"version"`
	CreatedAt           time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

func (Donation) TableName() string {
	return "donations"
}
