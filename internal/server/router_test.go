package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"donation-core/internal/handler"
)

type stoppedScheduler struct{}

func (stoppedScheduler) Running() bool { return false }

func TestRouter_BaseRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewHTTPRouter(Handlers{
		Health:   handler.NewHealthHandler(stoppedScheduler{}),
		Donation: handler.NewDonationHandler(nil),
		Deposit:  handler.NewDepositHandler(nil, nil, ""),
	})

	for _, path := range []string{"/api/v1/ping", "/health", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, w.Body.String(), `"scheduler":"STOPPED"`)

	// /metrics 上能看到 HTTP 指标
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
