package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"donation-core/internal/handler"
	"donation-core/pkg/crypto_util"
)

// envelope 服务端统一响应 {code, msg, data}
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

// APIError 服务端返回的业务错误
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d, code %d: %s", e.Status, e.Code, e.Message)
}

type Client struct {
	baseUrl string
	secret  []byte
	http    *http.Client
}

func NewClient(baseUrl, secret string) *Client {
	return &Client{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		secret:  []byte(secret),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Do 发请求并返回 data 字段
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseUrl+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if len(c.secret) > 0 {
			req.Header.Set(handler.HeaderSignature, crypto_util.HmacSHA256(c.secret, payload))
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("http %d: unexpected body %q", resp.StatusCode, truncate(raw, 200))
	}
	if env.Code != 0 {
		return nil, &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	return env.Data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// printData 缩进输出 data
func printData(data json.RawMessage) {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(out.String())
}
