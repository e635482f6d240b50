package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "donation-core/docs/swagger"
	"donation-core/internal/handler"
	"donation-core/internal/handler/response"
	"donation-core/internal/server/routes"
	"donation-core/pkg/monitor"
	"donation-core/pkg/validator"
)

// Handlers 路由用到的全部 handler
type Handlers struct {
	Health   *handler.HealthHandler
	Donation *handler.DonationHandler
	Deposit  *handler.DepositHandler
}

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(h Handlers) *gin.Engine {
	// 0. 初始化监控指标和校验器
	monitor.Init()
	validator.Init()

	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(cors.Default())
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", h.Health.Check)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		api.GET("/ping", func(c *gin.Context) {
			response.Success(c, gin.H{"pong": true})
		})

		routes.RegisterDonationRoutes(api, h.Donation)
		routes.RegisterDepositRoutes(api, h.Deposit)
	}

	return r
}
