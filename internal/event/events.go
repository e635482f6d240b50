package event

import (
	"time"

	"github.com/shopspring/decimal"
)

// MQ 主题
const (
	TopicDonationEvents      = "donation_events"
	TopicOperatorAlerts      = "operator_alerts"
	TopicPartnerSettlements  = "partner_settlements"
	TopicBankDepositsDefault = "bank_deposit_events"
)

// DonationStatusChangedEvent 捐赠单状态变更
// Topic: donation_events
type DonationStatusChangedEvent struct {
	DonationID string    `json:"donation_id"`
	NgoID      string    `json:"ngo_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// 告警类型
const (
	AlertUnmatchedDeposit = "UNMATCHED_DEPOSIT"
	AlertPurchaseFailed   = "PURCHASE_FAILED"
	AlertSettlementFailed = "SETTLEMENT_FAILED"
	AlertOrderCancelled   = "ORDER_CANCELLED"
	AlertRejectedDeposit  = "REJECTED_DEPOSIT" // 拉取 / MQ 来的入账报文无法入账
)

// OperatorAlertEvent 需要人工处理的告警
// Topic: operator_alerts
type OperatorAlertEvent struct {
	Kind       string            `json:"kind"`
	Reference  string            `json:"reference"` // 入账流水号 / 捐赠单 ID / 结算批次号
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// PartnerSettlementEvent 给合作机构的结算通知
// Topic: partner_settlements
type PartnerSettlementEvent struct {
	BatchRef    string    `json:"batch_ref"`
	NgoID       string    `json:"ngo_id"`
	DonationIDs []string  `json:"donation_ids"`
	TotalAmount int64     `json:"total_amount"`
	StatementAt string    `json:"statement_at,omitempty"` // 对账单归档位置
	CreatedAt   time.Time `json:"created_at"`
}

// BankDepositEvent 银行推送的入账通知 (MQ 入口)
// Topic: bank_deposit_events
type BankDepositEvent struct {
	NgoID           string          `json:"ngoId"`
	AccountNumber   string          `json:"accountNumber"`
	Amount          decimal.Decimal `json:"amount"` // 数字或数字字符串
	TransactionID   string          `json:"transactionId"`
	DepositorName   string          `json:"depositorName,omitempty"`
	DepositDateTime string          `json:"depositDateTime,omitempty"` // RFC3339
}
