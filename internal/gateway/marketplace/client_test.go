package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"donation-core/pkg/crypto_util"
	"donation-core/pkg/errno"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		ApiKey:          "key",
		SecretKey:       "secret",
		BaseUrl:         url,
		Timeout:         200 * time.Millisecond,
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
	})
}

func TestPlaceOrder_RetriesWithSameIdempotencyKey(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var keys []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get(HeaderIdempotencyKey))
		mu.Unlock()

		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "O-1"})
	}))
	defer srv.Close()

	key := IdempotencyKey("D1")
	orderID, err := newTestClient(srv.URL).PlaceOrder(context.Background(), Order{
		ItemID: "I1", Amount: 30000, ReferenceID: "D1", IdempotencyKey: key,
	})
	require.NoError(t, err)
	assert.Equal(t, "O-1", orderID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []string{key, key, key}, keys)
}

func TestPlaceOrder_ExhaustedRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).PlaceOrder(context.Background(), Order{ItemID: "I1", Amount: 1, ReferenceID: "D1"})
	assert.True(t, errors.Is(err, errno.ErrExternalService))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPlaceOrder_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"item sold out"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).PlaceOrder(context.Background(), Order{ItemID: "I1", Amount: 1, ReferenceID: "D1"})
	assert.True(t, errors.Is(err, errno.ErrExternalService))
	assert.Contains(t, err.Error(), "sold out")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPlaceOrder_TimeoutIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "O-2"})
	}))
	defer srv.Close()

	orderID, err := newTestClient(srv.URL).PlaceOrder(context.Background(), Order{ItemID: "I1", Amount: 1, ReferenceID: "D1"})
	require.NoError(t, err)
	assert.Equal(t, "O-2", orderID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRequestsAreSigned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		payload := SigningPayload(r.Header.Get(HeaderTimestamp), r.Method, r.URL.Path, body)
		if r.Header.Get(HeaderApiKey) != "key" ||
			!crypto_util.VerifyHmacSHA256([]byte("secret"), payload, r.Header.Get(HeaderSignature)) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"order_id": "O-3"})
	}))
	defer srv.Close()

	orderID, err := newTestClient(srv.URL).PlaceOrder(context.Background(), Order{ItemID: "I1", Amount: 5, ReferenceID: "D1"})
	require.NoError(t, err)
	assert.Equal(t, "O-3", orderID)
}

func TestQueryStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/orders/O-9", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "SHIPPED", "tracking_number": "TRK-9"})
	}))
	defer srv.Close()

	st, err := newTestClient(srv.URL).QueryStatus(context.Background(), "O-9")
	require.NoError(t, err)
	assert.Equal(t, "O-9", st.OrderID)
	assert.Equal(t, OrderShipped, st.Status)
	assert.Equal(t, "TRK-9", st.TrackingNumber)
}

func TestIdempotencyKeyIsStable(t *testing.T) {
	assert.Equal(t, IdempotencyKey("D1"), IdempotencyKey("D1"))
	assert.NotEqual(t, IdempotencyKey("D1"), IdempotencyKey("D2"))
}
