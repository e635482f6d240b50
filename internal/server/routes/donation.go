package routes

import (
	"github.com/gin-gonic/gin"

	"donation-core/internal/handler"
)

// RegisterDonationRoutes 注册捐赠单路由
func RegisterDonationRoutes(rg *gin.RouterGroup, h *handler.DonationHandler) {
	donations := rg.Group("/donations")
	{
		donations.POST("", h.Create)
		donations.GET("/:id", h.Get)
		donations.POST("/:id/cancel", h.Cancel)
	}
}
