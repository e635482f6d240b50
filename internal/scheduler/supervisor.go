package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"donation-core/pkg/logger"
	"donation-core/pkg/monitor"
	"donation-core/pkg/utils/lock"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrGraceExpired   = errors.New("scheduler stop: grace period expired, in-flight runs cancelled")
)

// JobFunc 一次任务执行，ctx 在 Stop 超过宽限期后取消
type JobFunc func(ctx context.Context) error

type entry struct {
	name    string
	trigger Trigger
	job     JobFunc
	running atomic.Bool
}

type Option func(*Supervisor)

func WithClock(c Clock) Option {
	return func(s *Supervisor) { s.clock = c }
}

// WithGracePeriod Stop 等待在途任务的最长时间
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) { s.grace = d }
}

// WithLocker 多实例部署时同一任务同一时刻只在一个实例上跑
func WithLocker(l lock.DistributedLock, ttl time.Duration) Option {
	return func(s *Supervisor) {
		s.locker = l
		s.lockTTL = ttl
	}
}

// Supervisor 定时任务调度
type Supervisor struct {
	clock   Clock
	grace   time.Duration
	locker  lock.DistributedLock
	lockTTL time.Duration

	mu      sync.Mutex
	entries []*entry
	started bool
	stopCh  chan struct{}
	runCtx  context.Context
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	runs    sync.WaitGroup
}

func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		clock:   RealClock(),
		grace:   30 * time.Second,
		lockTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register 用 cron 表达式注册任务，必须在 Start 之前调用
func (s *Supervisor) Register(name, expr string, job JobFunc) error {
	trigger, err := ParseCron(expr)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return s.RegisterTrigger(name, trigger, job)
}

func (s *Supervisor) RegisterTrigger(name string, trigger Trigger, job JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	for _, e := range s.entries {
		if e.name == name {
			return fmt.Errorf("job %s already registered", name)
		}
	}
	s.entries = append(s.entries, &entry{name: name, trigger: trigger, job: job})
	return nil
}

// Running 是否在调度中 (gRPC 健康检查用)
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.runCtx, s.cancel = context.WithCancel(context.Background())

	for _, e := range s.entries {
		s.loops.Add(1)
		go s.loop(s.runCtx, e, s.stopCh)
	}
	logger.Info("Scheduler started", zap.Int("jobs", len(s.entries)))
	return nil
}

// Stop 不再触发新任务，等待在途任务结束；超过宽限期 (或 ctx 先结束) 就取消它们并返回 ErrGraceExpired
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopCh)
	cancel := s.cancel
	s.mu.Unlock()

	// 1. 调度循环退出后不会再有新的执行
	s.loops.Wait()

	// 2. 等待在途任务
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-done:
		cancel()
		logger.Info("Scheduler stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	// 3. 宽限期到了，取消在途任务，留给下次启动继续
	cancel()
	logger.Warn("Scheduler stopped with runs still in flight")
	return ErrGraceExpired
}

func (s *Supervisor) loop(ctx context.Context, e *entry, stopCh <-chan struct{}) {
	defer s.loops.Done()

	for {
		now := s.clock.Now()
		next := e.trigger.Next(now)
		if next.IsZero() {
			return
		}

		select {
		case <-stopCh:
			return
		case <-s.clock.After(next.Sub(now)):
		}

		select {
		case <-stopCh:
			return
		default:
		}
		s.fire(ctx, e)
	}
}

func (s *Supervisor) fire(ctx context.Context, e *entry) {
	// 单飞: 上一次还没跑完就跳过本次，不排队
	if !e.running.CompareAndSwap(false, true) {
		logger.Warn("Scheduler: previous run still in progress, tick skipped", zap.String("job", e.name))
		monitor.Business.JobSkippedTotal.WithLabelValues(e.name, "overlap").Inc()
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer e.running.Store(false)
		s.execute(ctx, e)
	}()
}

func (s *Supervisor) execute(ctx context.Context, e *entry) {
	if s.locker != nil {
		key := "scheduler:" + e.name
		locked, err := s.locker.Acquire(ctx, key, s.lockTTL)
		if err != nil || !locked {
			logger.Debug("Scheduler: lock held by another instance", zap.String("job", e.name), zap.Error(err))
			monitor.Business.JobSkippedTotal.WithLabelValues(e.name, "locked").Inc()
			return
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
				logger.Warn("Scheduler: release lock failed", zap.String("job", e.name), zap.Error(err))
			}
		}()
	}

	start := time.Now()
	err := runSafely(ctx, e.job)
	result := "ok"
	if err != nil {
		result = "error"
		logger.Error("Scheduler: job failed", zap.String("job", e.name), zap.Error(err))
	} else {
		logger.Info("Scheduler: job finished", zap.String("job", e.name), zap.Duration("took", time.Since(start)))
	}
	monitor.Business.JobRunDuration.WithLabelValues(e.name, result).Observe(time.Since(start).Seconds())
}

// 任务 panic 不能带走调度器
func runSafely(ctx context.Context, job JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return job(ctx)
}
