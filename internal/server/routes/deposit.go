package routes

import (
	"github.com/gin-gonic/gin"

	"donation-core/internal/handler"
)

// RegisterDepositRoutes 注册入账路由
// POST /api/v1/deposits/webhook 由银行调用
func RegisterDepositRoutes(rg *gin.RouterGroup, h *handler.DepositHandler) {
	deposits := rg.Group("/deposits")
	{
		deposits.POST("/webhook", h.Webhook)
		deposits.GET("/unmatched", h.ListUnmatched)
	}
}
