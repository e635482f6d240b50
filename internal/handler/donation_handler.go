package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"donation-core/internal/handler/request"
	"donation-core/internal/handler/response"
	"donation-core/internal/model"
	"donation-core/internal/service/donation"
	"donation-core/pkg/errno"
	"donation-core/pkg/validator"
)

// DonationService 捐赠单接口依赖的业务能力
type DonationService interface {
	StartDonationProcess(ctx context.Context, in donation.Intake) (*model.Donation, error)
	Get(ctx context.Context, id string) (*model.Donation, error)
	Cancel(ctx context.Context, id string) (*model.Donation, error)
}

type DonationHandler struct {
	svc DonationService
}

func NewDonationHandler(svc DonationService) *DonationHandler {
	return &DonationHandler{svc: svc}
}

// Create 发起捐赠
// @Summary 发起捐赠
// @Description 创建 PENDING_PAYMENT 捐赠单，等待虚拟账户入账
// @Tags Donation
// @Accept json
// @Produce json
// @Param request body request.CreateDonationRequest true "Donation Intake"
// @Success 200 {object} response.Response{data=response.DonationCreated}
// @Router /api/v1/donations [post]
func (h *DonationHandler) Create(c *gin.Context) {
	// 1. Bind & Validate
	var req request.CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrValidation.WithMessage(validator.GetErrorMsg(err)))
		return
	}

	// 2. 调用 Service
	d, err := h.svc.StartDonationProcess(c.Request.Context(), donation.Intake{
		StoryID: req.StoryID,
		DonorID: req.DonorID,
		NgoID:   req.NgoID,
		Amount:  req.Amount,
		Message: req.Message,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, response.NewDonationCreated(d))
}

// Get 查询捐赠单
// @Summary 查询捐赠单
// @Tags Donation
// @Produce json
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Response{data=model.Donation}
// @Router /api/v1/donations/{id} [get]
func (h *DonationHandler) Get(c *gin.Context) {
	d, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, d)
}

// Cancel 取消尚未付款的捐赠单
// @Summary 取消捐赠
// @Description 只有 PENDING_PAYMENT 状态可以取消
// @Tags Donation
// @Produce json
// @Param id path string true "Donation ID"
// @Success 200 {object} response.Response{data=model.Donation}
// @Router /api/v1/donations/{id}/cancel [post]
func (h *DonationHandler) Cancel(c *gin.Context) {
	d, err := h.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, d)
}
