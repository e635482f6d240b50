package request

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositWebhookRequest 银行入账通知
// amount 可以是数字或数字字符串
type DepositWebhookRequest struct {
	NgoID           string           `json:"ngoId" binding:"required"`
	AccountNumber   string           `json:"accountNumber" binding:"required"`
	Amount          *decimal.Decimal `json:"amount" binding:"required"`
	TransactionID   string           `json:"transactionId" binding:"required,max=128"`
	DepositorName   string           `json:"depositorName"`
	DepositDateTime *time.Time       `json:"depositDateTime"` // 为空时取接收时间
}
