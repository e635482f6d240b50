package purchase

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"donation-core/pkg/logger"
	"donation-core/pkg/monitor"
)

var ErrQueueFull = errors.New("purchase queue is full")
var ErrPoolStopped = errors.New("purchase pool is stopped")

// PoolDispatcher 进程内 worker pool
// 核心设计:
// 1. Dispatch 只往 channel 里放 ID，不阻塞入账路径
// 2. N 个 worker 并发消费，各自调用 Executor
type PoolDispatcher struct {
	executor    *Executor
	workerCount int
	queue       chan string

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPoolDispatcher(executor *Executor, workerCount, queueSize int) *PoolDispatcher {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = workerCount * 16
	}
	return &PoolDispatcher{
		executor:    executor,
		workerCount: workerCount,
		queue:       make(chan string, queueSize),
	}
}

// Start 启动 workers
func (p *PoolDispatcher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	logger.Info("启动采购 worker pool", zap.Int("workers", p.workerCount))
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Dispatch 队列满时直接返回 ErrQueueFull，由 ResumeStalled 兜底
func (p *PoolDispatcher) Dispatch(ctx context.Context, donationID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- donationID:
		monitor.Business.PurchaseQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 不再接收新任务，等待队列中已有任务执行完
func (p *PoolDispatcher) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
	logger.Info("采购 worker pool 已停止")
}

func (p *PoolDispatcher) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for donationID := range p.queue {
		monitor.Business.PurchaseQueueDepth.Set(float64(len(p.queue)))
		if err := p.executor.Execute(ctx, donationID); err != nil {
			logger.Warn("采购执行未完成，等待补发",
				zap.Int("worker", id),
				zap.String("donation_id", donationID),
				zap.Error(err),
			)
		}
	}
}
