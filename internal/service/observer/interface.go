package observer

import (
	"context"
	"encoding/json"
)

// StatementObserver 轮询银行流水的入账前端，与 webhook / MQ 并存
type StatementObserver interface {
	// Start 启动扫描器
	// ctx: 用于控制优雅退出
	Start(ctx context.Context) error

	// Stop 等待 fetcher 和 workers 退出
	Stop() error

	// Cursor 当前已处理到的流水位置
	Cursor() string
}

// StatementPage 一页银行流水
// Deposits 每条都是 bank_deposit_events 同格式的 JSON
type StatementPage struct {
	Deposits []json.RawMessage `json:"deposits"`
	Next     string            `json:"next"` // 下一页的游标，为空表示没有新数据
}

// StatementSource 银行流水来源
type StatementSource interface {
	FetchSince(ctx context.Context, cursor string) (*StatementPage, error)
}

// CursorStore 游标持久化，重启后从上次位置继续
type CursorStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, cursor string) error
}
