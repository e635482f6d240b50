package handler

import (
	"github.com/gin-gonic/gin"

	"donation-core/internal/handler/response"
)

// SchedulerState 调度器是否在运行
type SchedulerState interface {
	Running() bool
}

type HealthHandler struct {
	scheduler SchedulerState
}

func NewHealthHandler(scheduler SchedulerState) *HealthHandler {
	return &HealthHandler{scheduler: scheduler}
}

// Check godoc
// @Summary Check system health
// @Description Get the current health status of the server
// @Tags system
// @Accept  json
// @Produce  json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	scheduler := "DISABLED"
	if h.scheduler != nil {
		scheduler = "STOPPED"
		if h.scheduler.Running() {
			scheduler = "RUNNING"
		}
	}
	response.Success(c, gin.H{
		"status":    "UP",
		"version":   "1.0.0",
		"service":   "donation-server",
		"scheduler": scheduler,
	})
}
