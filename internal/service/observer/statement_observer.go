package observer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"donation-core/internal/service/vaccount"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
)

// Ingestor 由 vaccount.Monitor 实现
type Ingestor interface {
	Ingest(ctx context.Context, dep vaccount.Deposit) (*vaccount.Result, error)
	// Reject 无法入账的流水转人工，成功后才能跳过
	Reject(ctx context.Context, source string, raw []byte, cause error) error
}

type job struct {
	raw    json.RawMessage
	page   *sync.WaitGroup
	failed *atomic.Int32
}

// BankStatementObserver 实现 StatementObserver 接口
// 核心设计:
// 1. Fetcher (生产者): 单线程，按游标顺序拉取流水页
// 2. Worker Pool (消费者): 多线程，并行入账同一页内的流水
// 3. 整页都处理成功才推进游标，失败的页下个 tick 整页重拉 (入账按流水号幂等)
type BankStatementObserver struct {
	source   StatementSource
	ingestor Ingestor
	cursors  CursorStore
	interval time.Duration

	workerCount int
	jobs        chan job
	wg          sync.WaitGroup

	mu     sync.RWMutex
	cursor string
}

func NewBankStatementObserver(source StatementSource, ingestor Ingestor, cursors CursorStore, interval time.Duration, workerCount int) *BankStatementObserver {
	if workerCount <= 0 {
		workerCount = 1
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &BankStatementObserver{
		source:      source,
		ingestor:    ingestor,
		cursors:     cursors,
		interval:    interval,
		workerCount: workerCount,
		// 带缓冲的 Channel，Worker 处理不过来时 fetcher 阻塞 (背压)
		jobs: make(chan job, workerCount*2),
	}
}

// Start 启动扫描器，ctx 取消后 fetcher 和 workers 依次退出
func (o *BankStatementObserver) Start(ctx context.Context) error {
	if o.cursors != nil {
		cursor, err := o.cursors.Load(ctx)
		if err != nil {
			return err
		}
		o.setCursor(cursor)
	}
	logger.Info("启动银行流水扫描器", zap.String("cursor", o.Cursor()), zap.Int("workers", o.workerCount))

	// 1. 启动 Workers (消费者)
	for i := 0; i < o.workerCount; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}

	// 2. 启动 Fetcher (生产者)
	o.wg.Add(1)
	go o.fetcher(ctx)

	return nil
}

// Stop 等待退出，需先取消 Start 的 ctx
func (o *BankStatementObserver) Stop() error {
	o.wg.Wait()
	return nil
}

func (o *BankStatementObserver) Cursor() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cursor
}

func (o *BankStatementObserver) setCursor(c string) {
	o.mu.Lock()
	o.cursor = c
	o.mu.Unlock()
}

func (o *BankStatementObserver) fetcher(ctx context.Context) {
	defer o.wg.Done()
	// fetcher 退出时关闭 channel，通知 workers 下班
	defer close(o.jobs)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Fetcher: 收到退出信号，停止拉取流水")
			return
		case <-ticker.C:
			// 一个 tick 内把积压的页全部拉完
			for o.PollOnce(ctx) {
			}
		}
	}
}

// PollOnce 拉取并处理一页，返回是否还有下一页
func (o *BankStatementObserver) PollOnce(ctx context.Context) bool {
	cursor := o.Cursor()
	page, err := o.source.FetchSince(ctx, cursor)
	if err != nil {
		logger.Warn("拉取银行流水失败", zap.String("cursor", cursor), zap.Error(err))
		return false
	}
	if len(page.Deposits) == 0 {
		return false
	}

	var pageWG sync.WaitGroup
	var failed atomic.Int32
	for _, raw := range page.Deposits {
		pageWG.Add(1)
		select {
		case o.jobs <- job{raw: raw, page: &pageWG, failed: &failed}:
		case <-ctx.Done():
			pageWG.Done()
			return false
		}
	}
	pageWG.Wait()

	if failed.Load() > 0 || ctx.Err() != nil {
		logger.Warn("本页流水未全部处理，保持游标", zap.String("cursor", cursor), zap.Int32("failed", failed.Load()))
		return false
	}
	if page.Next == "" || page.Next == cursor {
		return false
	}

	o.setCursor(page.Next)
	if o.cursors != nil {
		if err := o.cursors.Save(ctx, page.Next); err != nil {
			logger.Warn("保存流水游标失败", zap.String("cursor", page.Next), zap.Error(err))
		}
	}
	return true
}

func (o *BankStatementObserver) worker(ctx context.Context, id int) {
	defer o.wg.Done()

	for j := range o.jobs {
		if err := o.process(ctx, j.raw); err != nil {
			j.failed.Add(1)
			logger.Warn("流水入账失败", zap.Int("worker", id), zap.Error(err))
		}
		j.page.Done()
	}
}

func (o *BankStatementObserver) process(ctx context.Context, raw json.RawMessage) error {
	dep, err := vaccount.DecodeBankDeposit(raw)
	if err == nil {
		_, err = o.ingestor.Ingest(ctx, dep)
	}
	if errors.Is(err, errno.ErrValidation) {
		// 格式错误重拉也没用，转人工后跳过；告警写失败则整页保留
		logger.Error("银行流水无法入账，转人工", zap.ByteString("raw", raw), zap.Error(err))
		return o.ingestor.Reject(ctx, "statement_poll", raw, err)
	}
	return err
}
