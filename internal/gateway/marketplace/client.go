package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"donation-core/pkg/crypto_util"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
	"donation-core/pkg/monitor"
)

// 签名相关请求头
const (
	HeaderApiKey         = "X-Api-Key"
	HeaderTimestamp      = "X-Timestamp"
	HeaderSignature      = "X-Signature"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// OrderStatus 商城订单状态
type OrderStatus string

const (
	OrderOrdered   OrderStatus = "ORDERED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Order 下单请求
type Order struct {
	ItemID         string
	Quantity       int
	Amount         int64
	ReferenceID    string // 捐赠单 ID
	IdempotencyKey string
}

// Status 订单查询结果
type Status struct {
	OrderID        string      `json:"order_id"`
	Status         OrderStatus `json:"status"`
	TrackingNumber string      `json:"tracking_number"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type Config struct {
	ApiKey      string
	SecretKey   string
	BaseUrl     string
	Timeout     time.Duration // 单次请求超时
	MaxAttempts int
	// InitialInterval 第一次重试前的等待，之后指数增长
	InitialInterval time.Duration
}

// StatusError 商城返回的非 2xx 响应
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketplace responded %d: %s", e.Code, e.Body)
}

// Client 商城下单/查单客户端
// 超时、网络错误、5xx、429 会按指数退避重试，其余 4xx 直接失败
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	cfg.BaseUrl = strings.TrimRight(cfg.BaseUrl, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
		now:  time.Now,
	}
}

// IdempotencyKey 同一捐赠单每次重试都带同一个令牌，商城据此去重
func IdempotencyKey(donationID string) string {
	return crypto_util.DeriveToken("purchase", donationID)
}

type placeOrderRequest struct {
	ItemID      string `json:"item_id"`
	Quantity    int    `json:"quantity"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
}

type placeOrderResponse struct {
	OrderID string `json:"order_id"`
}

// PlaceOrder 下单，返回商城订单号
func (c *Client) PlaceOrder(ctx context.Context, o Order) (string, error) {
	if o.Quantity <= 0 {
		o.Quantity = 1
	}
	body, err := json.Marshal(placeOrderRequest{
		ItemID:      o.ItemID,
		Quantity:    o.Quantity,
		Amount:      o.Amount,
		ReferenceID: o.ReferenceID,
	})
	if err != nil {
		return "", err
	}

	var out placeOrderResponse
	if err := c.do(ctx, "place_order", http.MethodPost, "/v1/orders", body, o.IdempotencyKey, &out); err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("%w: place_order: empty order id", errno.ErrExternalService)
	}
	return out.OrderID, nil
}

// QueryStatus 查询订单物流状态
func (c *Client) QueryStatus(ctx context.Context, orderID string) (*Status, error) {
	var out Status
	if err := c.do(ctx, "query_status", http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, "", &out); err != nil {
		return nil, err
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, idemKey string, out interface{}) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := c.once(ctx, method, path, body, idemKey, out)
		if err == nil {
			monitor.Business.GatewayRequestsTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			monitor.Business.GatewayRequestsTotal.WithLabelValues(op, "rejected").Inc()
		} else {
			monitor.Business.GatewayRequestsTotal.WithLabelValues(op, "retryable").Inc()
			logger.Warn("商城接口调用失败，准备重试",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.InitialInterval
	policy.MaxElapsedTime = 0 // 只按次数限制
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1)), ctx)

	if err := backoff.Retry(operation, b); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s after %d attempt(s): %v", errno.ErrExternalService, op, attempt, err)
	}
	return nil
}

// once 单次请求，自带超时
func (c *Client) once(ctx context.Context, method, path string, body []byte, idemKey string, out interface{}) error {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, method, c.cfg.BaseUrl+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idemKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idemKey)
	}
	c.sign(req, path, body)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: string(data)})
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// sign 签名串: timestamp + method + path + body
func (c *Client) sign(req *http.Request, path string, body []byte) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set(HeaderApiKey, c.cfg.ApiKey)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, crypto_util.HmacSHA256([]byte(c.cfg.SecretKey), SigningPayload(ts, req.Method, path, body)))
}

// SigningPayload 供商城侧 (以及测试) 复算签名
func SigningPayload(ts, method, path string, body []byte) []byte {
	buf := make([]byte, 0, len(ts)+len(method)+len(path)+len(body))
	buf = append(buf, ts...)
	buf = append(buf, method...)
	buf = append(buf, path...)
	buf = append(buf, body...)
	return buf
}
