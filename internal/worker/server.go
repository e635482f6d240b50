package worker

import (
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"donation-core/internal/worker/tasks"
	"donation-core/pkg/logger"
)

// Server 封装 Asynq Server (Worker)
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer 初始化 Worker Server
func NewServer(addr string, password string, db int, concurrency int, purchase *tasks.PurchaseHandler) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     addr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			// 并发数：同时处理多少个任务
			Concurrency: concurrency,
			// 队列优先级
			Queues: map[string]int{
				"critical": 6, // 采购
				"default":  3,
			},
			Logger: logger.NewAsynqLogger(),
		},
	)

	mux := asynq.NewServeMux()

	// 注册任务处理器
	mux.Handle(tasks.TypeDonationPurchase, purchase)

	return &Server{
		server: srv,
		mux:    mux,
	}
}

// Start 非阻塞启动 (用于集成到 main.go)，信号由 App 统一处理
func (s *Server) Start() error {
	if err := s.server.Start(s.mux); err != nil {
		logger.Error("Worker Server failed", zap.Error(err))
		return err
	}
	logger.Info("Worker Server started")
	return nil
}

// Stop 停止 Worker
func (s *Server) Stop() {
	s.server.Stop() // 停止拉取新任务
	s.server.Shutdown()
}
