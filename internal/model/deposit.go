package model

import (
	"time"

	"gorm.io/datatypes"
)

// DepositStatus 入账流水的匹配状态
type DepositStatus string

const (
	DepositUnmatched DepositStatus = "UNMATCHED"
	DepositMatched   DepositStatus = "MATCHED"
)

// DepositEvent 银行虚拟账户入账流水 (Deposit Ledger)
// transaction_id 唯一索引是幂等的唯一依据
type DepositEvent struct {
	ID                uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionID     string         `gorm:"type:varchar(128);not null;uniqueIndex" json:"transactionId"`
	NgoID             string         `gorm:"type:varchar(64);not null;index" json:"ngoId"`
	AccountNumber     string         `gorm:"type:varchar(64);not null" json:"accountNumber"`
	Amount            int64          `gorm:"not null" json:"amount"`
	DepositorName     string         `gorm:"type:varchar(255)" json:"depositorName,omitempty"`
	DepositDateTime   time.Time      `gorm:"not null" json:"depositDateTime"`
	Status            DepositStatus  `gorm:"type:varchar(20);not null;default:'UNMATCHED';index" json:"status"`
	MatchedDonationID *string        `gorm:"type:varchar(36)" json:"matchedDonationId,omitempty"`
	MatchedAt         *time.Time     `json:"matchedAt,omitempty"`
	EscalatedAt       *time.Time     `json:"escalatedAt,omitempty"` // 首次上报人工处理的时间
	Payload           datatypes.JSON `json:"payload,omitempty"`     // 原始通知报文
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

func (DepositEvent) TableName() string {
	return "deposit_events"
}
