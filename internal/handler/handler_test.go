package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"donation-core/internal/handler/response"
	"donation-core/internal/model"
	"donation-core/internal/repository"
	"donation-core/internal/service/alert"
	"donation-core/internal/service/donation"
	"donation-core/internal/service/vaccount"
	"donation-core/internal/testutil"
	"donation-core/pkg/crypto_util"
	"donation-core/pkg/errno"
	"donation-core/pkg/validator"
)

type testServer struct {
	db     *gorm.DB
	engine *gin.Engine
}

func newTestServer(t *testing.T, webhookSecret string) *testServer {
	gin.SetMode(gin.TestMode)
	validator.Init()

	db := testutil.NewDB(t)
	testutil.SeedStory(t, db, "s1", "n1", "item-1")

	alerts := alert.NewOutboxNotifier(db)
	donations := repository.NewDonationStore(db)
	ledger := repository.NewDepositLedger(db)

	processor := donation.NewService(donations, repository.NewStoryStore(db), alerts)
	mon := vaccount.NewMonitor(ledger, donations, processor, alerts)
	processor.SetFundingMatcher(mon)

	dh := NewDonationHandler(processor)
	ph := NewDepositHandler(mon, ledger, webhookSecret)

	r := gin.New()
	r.GET("/health", NewHealthHandler(nil).Check)
	api := r.Group("/api/v1")
	api.POST("/donations", dh.Create)
	api.GET("/donations/:id", dh.Get)
	api.POST("/donations/:id/cancel", dh.Cancel)
	api.POST("/deposits/webhook", ph.Webhook)
	api.GET("/deposits/unmatched", ph.ListUnmatched)

	return &testServer{db: db, engine: r}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()

	var buf []byte
	switch b := body.(type) {
	case nil:
	case string:
		buf = []byte(b)
	default:
		var err error
		buf, err = json.Marshal(b)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w, resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	m, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestDonationIntakeAndDepositFundsIt(t *testing.T) {
	s := newTestServer(t, "")

	w, resp := s.do(t, http.MethodPost, "/api/v1/donations", map[string]interface{}{
		"storyId": "s1", "donorId": "d1", "ngoId": "n1", "amount": 20000,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	created := dataMap(t, resp)
	assert.Equal(t, "s1", created["storyId"])
	assert.Equal(t, float64(20000), created["amount"])
	assert.Equal(t, string(model.StatusPendingPayment), created["status"])
	assert.NotEmpty(t, created["createdAt"])
	id := created["id"].(string)

	w, resp = s.do(t, http.MethodPost, "/api/v1/deposits/webhook", map[string]interface{}{
		"ngoId": "n1", "accountNumber": "110-123-456789", "amount": "20000", "transactionId": "tx1",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := dataMap(t, resp)
	assert.Equal(t, string(vaccount.OutcomeMatched), result["outcome"])
	assert.Equal(t, id, result["donationId"])

	// 同一流水号重推
	w, resp = s.do(t, http.MethodPost, "/api/v1/deposits/webhook", map[string]interface{}{
		"ngoId": "n1", "accountNumber": "110-123-456789", "amount": 20000, "transactionId": "tx1",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(vaccount.OutcomeDuplicate), dataMap(t, resp)["outcome"])

	w, resp = s.do(t, http.MethodGet, "/api/v1/donations/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := dataMap(t, resp)
	assert.Equal(t, string(model.StatusPaymentConfirmed), got["status"])
	assert.Equal(t, "tx1", got["matchedDepositTxnId"])
}

func TestDonationIntakeValidation(t *testing.T) {
	s := newTestServer(t, "")

	w, resp := s.do(t, http.MethodPost, "/api/v1/donations", map[string]interface{}{
		"storyId": "s1", "ngoId": "n1", "amount": 20000,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errno.ErrValidation.Code, resp.Code)
	assert.Contains(t, resp.Message, "donorId")

	w, resp = s.do(t, http.MethodPost, "/api/v1/donations", map[string]interface{}{
		"storyId": "missing", "donorId": "d1", "ngoId": "n1", "amount": 100,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errno.ErrValidation.Code, resp.Code)
}

func TestWebhookMissingFieldsCreatesNoLedgerEntry(t *testing.T) {
	s := newTestServer(t, "")

	cases := []map[string]interface{}{
		{"accountNumber": "acc", "amount": 100, "transactionId": "tx1"},
		{"ngoId": "n1", "amount": 100, "transactionId": "tx1"},
		{"ngoId": "n1", "accountNumber": "acc", "transactionId": "tx1"},
		{"ngoId": "n1", "accountNumber": "acc", "amount": 100},
		{"ngoId": "n1", "accountNumber": "acc", "amount": "12.5", "transactionId": "tx1"},
	}
	for _, body := range cases {
		w, resp := s.do(t, http.MethodPost, "/api/v1/deposits/webhook", body, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "%v", body)
		assert.Equal(t, errno.ErrValidation.Code, resp.Code)
	}

	var n int64
	require.NoError(t, s.db.Model(&model.DepositEvent{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestWebhookUnmatchedDepositIsListed(t *testing.T) {
	s := newTestServer(t, "")

	w, resp := s.do(t, http.MethodPost, "/api/v1/deposits/webhook", map[string]interface{}{
		"ngoId": "n1", "accountNumber": "acc", "amount": 99999, "transactionId": "tx2",
		"depositorName": "HONG GILDONG", "depositDateTime": "2026-10-18T09:30:00+09:00",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(vaccount.OutcomeUnmatched), dataMap(t, resp)["outcome"])

	w, resp = s.do(t, http.MethodGet, "/api/v1/deposits/unmatched?ngoId=n1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, list, 1)
	item := list[0].(map[string]interface{})
	assert.Equal(t, "tx2", item["transactionId"])
	at, err := time.Parse(time.RFC3339, item["depositDateTime"].(string))
	require.NoError(t, err)
	assert.True(t, at.Equal(time.Date(2026, 10, 18, 0, 30, 0, 0, time.UTC)))
	assert.NotNil(t, item["escalatedAt"])
}

func TestWebhookSignature(t *testing.T) {
	s := newTestServer(t, "bank-secret")
	body := `{"ngoId":"n1","accountNumber":"acc","amount":500,"transactionId":"tx9"}`

	w, resp := s.do(t, http.MethodPost, "/api/v1/deposits/webhook", body, map[string]string{HeaderSignature: "bogus"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, errno.ErrSignature.Code, resp.Code)

	sig := crypto_util.HmacSHA256([]byte("bank-secret"), []byte(body))
	w, _ = s.do(t, http.MethodPost, "/api/v1/deposits/webhook", body, map[string]string{HeaderSignature: sig})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelDonation(t *testing.T) {
	s := newTestServer(t, "")

	_, resp := s.do(t, http.MethodPost, "/api/v1/donations", map[string]interface{}{
		"storyId": "s1", "donorId": "d1", "ngoId": "n1", "amount": 1000,
	}, nil)
	id := dataMap(t, resp)["id"].(string)

	w, resp := s.do(t, http.MethodPost, "/api/v1/donations/"+id+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(model.StatusCancelled), dataMap(t, resp)["status"])

	// 已取消的不能再取消
	w, resp = s.do(t, http.MethodPost, "/api/v1/donations/"+id+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errno.ErrInvalidState.Code, resp.Code)

	w, resp = s.do(t, http.MethodGet, "/api/v1/donations/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errno.ErrNotFound.Code, resp.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	w, resp := s.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "UP", dataMap(t, resp)["status"])
	assert.Equal(t, "DISABLED", dataMap(t, resp)["scheduler"])
}
