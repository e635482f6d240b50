package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"donation-core/pkg/logger"
)

type Config struct {
	HttpPort string
	GrpcPort string
	// ShutdownTimeout 整个关闭流程的上限，含各 hook
	ShutdownTimeout time.Duration
}

// ShutdownHook 收到退出信号后按注册顺序执行，先于 HTTP / gRPC 关闭
type ShutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}

type App struct {
	httpServer      *http.Server
	grpcServer      *grpc.Server
	grpcListener    net.Listener
	shutdownTimeout time.Duration
	hooks           []ShutdownHook
}

func New(cfg Config, httpHandler *gin.Engine, grpcServer *grpc.Server) (*App, error) {
	// HTTP Server
	httpSrv := &http.Server{
		Addr:              ":" + cfg.HttpPort,
		Handler:           httpHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC Listener
	lis, err := net.Listen("tcp", ":"+cfg.GrpcPort)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on grpc port %s: %w", cfg.GrpcPort, err)
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &App{
		httpServer:      httpSrv,
		grpcServer:      grpcServer,
		grpcListener:    lis,
		shutdownTimeout: timeout,
	}, nil
}

// OnShutdown 注册关闭回调，例如停止调度器、worker
func (a *App) OnShutdown(name string, fn func(ctx context.Context) error) {
	a.hooks = append(a.hooks, ShutdownHook{Name: name, Fn: fn})
}

// Run 启动服务并阻塞，直到收到关闭信号
func (a *App) Run() {
	// 1. Start HTTP
	go func() {
		logger.Info("Starting HTTP Server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Server failure", zap.Error(err))
		}
	}()

	// 2. Start gRPC
	go func() {
		logger.Info("Starting gRPC Server", zap.String("addr", a.grpcListener.Addr().String()))
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			logger.Fatal("gRPC Server failure", zap.Error(err))
		}
	}()

	// 3. Signal Handling (Blocking)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("⚠️  Shutting down server...")

	a.Shutdown()
}

// Shutdown 先执行 hook (调度器 Stop 等)，再关闭 HTTP / gRPC
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	for _, h := range a.hooks {
		if err := h.Fn(ctx); err != nil {
			logger.Warn("Shutdown hook returned error", zap.String("hook", h.Name), zap.Error(err))
			continue
		}
		logger.Info("Shutdown hook done", zap.String("hook", h.Name))
	}

	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	a.grpcServer.GracefulStop()
	logger.Info("Server exited properly")
}
