package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// HTTPStatementSource GET {baseUrl}/v1/statements?cursor=...
type HTTPStatementSource struct {
	baseUrl string
	apiKey  string
	http    *http.Client
}

func NewHTTPStatementSource(baseUrl, apiKey string, timeout time.Duration) *HTTPStatementSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPStatementSource{
		baseUrl: strings.TrimRight(baseUrl, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStatementSource) FetchSince(ctx context.Context, cursor string) (*StatementPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := s.baseUrl + "/v1/statements"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch statements: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("bank responded %d: %s", resp.StatusCode, string(body))
	}

	var page StatementPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode statements: %w", err)
	}
	return &page, nil
}

// RedisCursorStore 游标存在 Redis，多实例共享
type RedisCursorStore struct {
	client *redis.Client
	key    string
}

func NewRedisCursorStore(client *redis.Client, key string) *RedisCursorStore {
	return &RedisCursorStore{client: client, key: key}
}

func (s *RedisCursorStore) Load(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *RedisCursorStore) Save(ctx context.Context, cursor string) error {
	return s.client.Set(ctx, s.key, cursor, 0).Err()
}
