package handler

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"donation-core/internal/handler/request"
	"donation-core/internal/handler/response"
	"donation-core/internal/model"
	"donation-core/internal/service/vaccount"
	"donation-core/pkg/crypto_util"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
	"donation-core/pkg/validator"
)

const HeaderSignature = "X-Signature"

// DepositIngestor 入账处理
type DepositIngestor interface {
	Ingest(ctx context.Context, dep vaccount.Deposit) (*vaccount.Result, error)
}

// UnmatchedLister 运营对账视图
type UnmatchedLister interface {
	ListUnmatched(ctx context.Context, ngoID string) ([]model.DepositEvent, error)
}

type DepositHandler struct {
	ingestor DepositIngestor
	ledger   UnmatchedLister
	secret   []byte
}

// NewDepositHandler secret 为空时不校验签名
func NewDepositHandler(ingestor DepositIngestor, ledger UnmatchedLister, secret string) *DepositHandler {
	return &DepositHandler{ingestor: ingestor, ledger: ledger, secret: []byte(secret)}
}

// Webhook 银行入账通知
// @Summary 入账通知
// @Description 银行推送虚拟账户入账；重复的 transactionId 直接返回 duplicate
// @Tags Deposit
// @Accept json
// @Produce json
// @Param request body request.DepositWebhookRequest true "Deposit Notification"
// @Param X-Signature header string false "HMAC-SHA256(body) when webhook secret is configured"
// @Success 200 {object} response.Response{data=vaccount.Result}
// @Router /api/v1/deposits/webhook [post]
func (h *DepositHandler) Webhook(c *gin.Context) {
	// 1. 原始报文 (入库 + 验签)
	raw, err := c.GetRawData()
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	if len(h.secret) > 0 && !crypto_util.VerifyHmacSHA256(h.secret, raw, c.GetHeader(HeaderSignature)) {
		logger.Warn("入账通知验签失败", zap.String("client_ip", c.ClientIP()))
		response.Error(c, errno.ErrSignature)
		return
	}

	// 2. Bind & Validate
	var req request.DepositWebhookRequest
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		response.Error(c, errno.ErrValidation.WithMessage(validator.GetErrorMsg(err)))
		return
	}
	amount, err := vaccount.AmountFromDecimal(*req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}

	dep := vaccount.Deposit{
		NgoID:         req.NgoID,
		AccountNumber: req.AccountNumber,
		Amount:        amount,
		TransactionID: req.TransactionID,
		DepositorName: req.DepositorName,
		Raw:           raw,
	}
	if req.DepositDateTime != nil {
		dep.DepositDateTime = req.DepositDateTime.UTC()
	}

	// 3. 落账 + 匹配
	res, err := h.ingestor.Ingest(c.Request.Context(), dep)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, res)
}

// UnmatchedView 待人工处理的入账
type UnmatchedView struct {
	TransactionID   string     `json:"transactionId"`
	NgoID           string     `json:"ngoId"`
	AccountNumber   string     `json:"accountNumber"`
	Amount          int64      `json:"amount"`
	DepositorName   string     `json:"depositorName,omitempty"`
	DepositDateTime time.Time  `json:"depositDateTime"`
	EscalatedAt     *time.Time `json:"escalatedAt,omitempty"`
}

// ListUnmatched 未匹配入账列表
// @Summary 未匹配入账
// @Tags Deposit
// @Produce json
// @Param ngoId query string false "NGO ID"
// @Success 200 {object} response.Response{data=[]UnmatchedView}
// @Router /api/v1/deposits/unmatched [get]
func (h *DepositHandler) ListUnmatched(c *gin.Context) {
	events, err := h.ledger.ListUnmatched(c.Request.Context(), c.Query("ngoId"))
	if err != nil {
		logger.Error("查询未匹配入账失败", zap.Error(err))
		response.Error(c, errno.ErrDatabase)
		return
	}

	views := make([]UnmatchedView, 0, len(events))
	for _, ev := range events {
		views = append(views, UnmatchedView{
			TransactionID:   ev.TransactionID,
			NgoID:           ev.NgoID,
			AccountNumber:   ev.AccountNumber,
			Amount:          ev.Amount,
			DepositorName:   ev.DepositorName,
			DepositDateTime: ev.DepositDateTime,
			EscalatedAt:     ev.EscalatedAt,
		})
	}
	response.Success(c, views)
}
