package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceScheduler gRPC 健康检查里调度器对应的服务名
const ServiceScheduler = "donation.scheduler"

// SchedulerState 调度器运行状态
type SchedulerState interface {
	Running() bool
}

// NewGRPCServer 初始化 gRPC 服务，只注册标准健康检查
func NewGRPCServer(hs *health.Server) *grpc.Server {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	return s
}

// WatchScheduler 把调度器状态同步到健康检查，ctx 取消后返回
func WatchScheduler(ctx context.Context, hs *health.Server, scheduler SchedulerState, interval time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if scheduler.Running() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(ServiceScheduler, status)
	}

	update()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
