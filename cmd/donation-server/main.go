package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	"gorm.io/gorm"

	"donation-core/internal/gateway/marketplace"
	"donation-core/internal/handler"
	"donation-core/internal/jobs"
	"donation-core/internal/model"
	"donation-core/internal/partner"
	"donation-core/internal/repository"
	"donation-core/internal/scheduler"
	"donation-core/internal/server"
	"donation-core/internal/service"
	"donation-core/internal/service/alert"
	"donation-core/internal/service/donation"
	"donation-core/internal/service/mq"
	"donation-core/internal/service/observer"
	"donation-core/internal/service/purchase"
	"donation-core/internal/service/vaccount"
	"donation-core/internal/worker"
	"donation-core/internal/worker/tasks"
	"donation-core/pkg/cache"
	"donation-core/pkg/config"
	"donation-core/pkg/database"
	"donation-core/pkg/logger"
	"donation-core/pkg/utils/lock"
)

// @title Donation Core API
// @version 1.0
// @description Donation lifecycle and settlement engine

// @host localhost:8080
// @BasePath /api/v1
func main() {
	// 0. 初始化 Config
	config.Init()
	cfg := config.Global

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	// 2. 连接数据库
	db := openDB(cfg)
	if cfg.App.AutoMigrate {
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("自动建表失败", zap.Error(err))
		}
	}

	// 3. 连接 Redis
	rdb, err := database.ConnectRedis(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 初始化消息队列
	var producer mq.Producer
	var consumer mq.Consumer
	if cfg.Redis.MQType == "kafka" {
		logger.Info("使用 Kafka 作为消息队列...")
		producer = mq.NewKafkaProducer(cfg.Kafka.Brokers)
		consumer = mq.NewKafkaConsumer(cfg.Kafka.Brokers, "donation_engine_group")
	} else {
		logger.Info("使用 Redis Streams 作为消息队列...")
		producer = mq.NewRedisProducer(rdb)
		consumer = mq.NewRedisConsumer(rdb, "donation_engine", "engine-0")
	}

	// 5. 存储层
	// 故事信息 L1: Memory (TTL 1m), L2: Redis
	storyCache := cache.NewMultiLevelCache(
		cache.NewMemoryCache(1*time.Minute, 5*time.Minute),
		cache.NewRedisCache(rdb),
	)
	donations := repository.NewDonationStore(db)
	ledger := repository.NewDepositLedger(db)
	stories := repository.NewCachedStoryStore(repository.NewStoryStore(db), storyCache, 10*time.Minute)
	alerts := alert.NewOutboxNotifier(db)

	// 6. 核心组件
	processor := donation.NewService(donations, stories, alerts,
		donation.WithStallAfter(cfg.Monitor.StallAfter))
	depositMonitor := vaccount.NewMonitor(ledger, donations, processor, alerts,
		vaccount.WithTolerance(cfg.Monitor.AmountTolerance))
	processor.SetFundingMatcher(depositMonitor)

	gateway := marketplace.NewClient(marketplace.Config{
		ApiKey:      cfg.MarketplaceAPI.ApiKey,
		SecretKey:   cfg.MarketplaceAPI.SecretKey,
		BaseUrl:     cfg.MarketplaceAPI.BaseUrl,
		Timeout:     cfg.MarketplaceAPI.Timeout,
		MaxAttempts: cfg.MarketplaceAPI.MaxAttempts,
	})
	executor := purchase.NewExecutor(processor, gateway)

	// 7. 采购派发: 进程内 pool 或 Asynq
	var stopPurchases func()
	if cfg.Worker.Mode == "asynq" {
		client := worker.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		processor.SetDispatcher(client)

		workerServer := worker.NewServer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			cfg.Worker.Concurrency, tasks.NewPurchaseHandler(executor))
		if err := workerServer.Start(); err != nil {
			logger.Fatal("Asynq Worker 启动失败", zap.Error(err))
		}
		stopPurchases = func() {
			workerServer.Stop()
			_ = client.Close()
		}
	} else {
		pool := purchase.NewPoolDispatcher(executor, cfg.Worker.Concurrency, 0)
		pool.Start(ctx)
		processor.SetDispatcher(pool)
		stopPurchases = pool.Stop
	}

	// 8. 启动消息中继服务
	relayService := service.NewRelayService(db, producer)
	go relayService.Start(ctx)

	// 9. MQ 入账通知
	subscriber := vaccount.NewSubscriber(consumer, depositMonitor, cfg.Monitor.DepositTopic)
	go func() {
		if err := subscriber.Start(ctx); err != nil {
			logger.Error("入账订阅退出", zap.Error(err))
		}
	}()

	// 9.1 主动拉取银行流水 (可选)
	var statementObserver observer.StatementObserver
	observerCtx, stopObserver := context.WithCancel(ctx)
	if poll := cfg.Monitor.StatementPoll; poll.BaseUrl != "" {
		source := observer.NewHTTPStatementSource(poll.BaseUrl, poll.ApiKey, 10*time.Second)
		cursors := observer.NewRedisCursorStore(rdb, "observer:statement:cursor")
		statementObserver = observer.NewBankStatementObserver(source, depositMonitor, cursors, poll.Interval, poll.Workers)
		if err := statementObserver.Start(observerCtx); err != nil {
			logger.Fatal("银行流水扫描器启动失败", zap.Error(err))
		}
	}

	// 10. 结算通知: S3 对账单 (可选) + outbox
	var transfer partner.Chain
	if cfg.Partner.StatementBucket != "" {
		archiver, err := partner.NewS3StatementArchiverFromEnv(ctx, cfg.Partner.StatementBucket, cfg.Partner.Region)
		if err != nil {
			logger.Fatal("初始化 S3 对账单归档失败", zap.Error(err))
		}
		transfer = append(transfer, archiver)
	}
	transfer = append(transfer, partner.NewOutboxTransferer(db))

	// 11. 定时任务
	opts := []scheduler.Option{scheduler.WithGracePeriod(cfg.Schedulers.GracePeriod)}
	if cfg.Schedulers.UseRedisLock {
		opts = append(opts, scheduler.WithLocker(lock.NewRedisLock(rdb), 30*time.Minute))
	}
	supervisor := scheduler.NewSupervisor(opts...)

	shippingJob := jobs.NewShippingPollJob(donations, processor, gateway, depositMonitor, alerts)
	settlementJob := jobs.NewSettlementJob(donations, processor, transfer, alerts)
	if err := supervisor.Register("shipping_status_check", cfg.Schedulers.ShippingStatusCheck, shippingJob.Run); err != nil {
		logger.Fatal("注册物流轮询任务失败", zap.Error(err))
	}
	if err := supervisor.Register("settlement_check", cfg.Schedulers.SettlementCheck, settlementJob.Run); err != nil {
		logger.Fatal("注册结算任务失败", zap.Error(err))
	}
	if err := supervisor.Start(); err != nil {
		logger.Fatal("调度器启动失败", zap.Error(err))
	}

	// 12. HTTP Router
	r := server.NewHTTPRouter(server.Handlers{
		Health:   handler.NewHealthHandler(supervisor),
		Donation: handler.NewDonationHandler(processor),
		Deposit:  handler.NewDepositHandler(depositMonitor, ledger, cfg.Monitor.WebhookSecret),
	})

	// 13. gRPC Server (健康检查)
	healthServer := health.NewServer()
	grpcServer := server.NewGRPCServer(healthServer)
	go server.WatchScheduler(ctx, healthServer, supervisor, 5*time.Second)

	// 14. 启动应用
	app, err := server.New(server.Config{
		HttpPort:        cfg.App.HttpPort,
		GrpcPort:        cfg.App.GrpcPort,
		ShutdownTimeout: cfg.Schedulers.GracePeriod + 15*time.Second,
	}, r, grpcServer)
	if err != nil {
		logger.Fatal("应用启动失败", zap.Error(err))
	}

	// 退出顺序: 调度器 -> 流水扫描 -> 采购 worker -> 中继 / 订阅
	app.OnShutdown("scheduler", supervisor.Stop)
	app.OnShutdown("statement_observer", func(context.Context) error {
		stopObserver()
		if statementObserver == nil {
			return nil
		}
		return statementObserver.Stop()
	})
	app.OnShutdown("purchase", func(sctx context.Context) error {
		return stopWithin(sctx, stopPurchases, cancel)
	})
	app.OnShutdown("mq", func(context.Context) error {
		cancel()
		if err := consumer.Close(); err != nil {
			return err
		}
		return producer.Close()
	})

	// 运行 (阻塞)
	app.Run()

	// 15. 退出后资源清理
	logger.Info("正在关闭数据库连接...")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("系统已退出")
}

func openDB(cfg config.Config) *gorm.DB {
	var (
		db  *gorm.DB
		err error
	)
	if cfg.DB.Driver == "sqlite" {
		db, err = database.ConnectSQLite(cfg.DB.Path)
	} else {
		dsn := database.PostgresDSN(cfg.DB.Host, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.Port)
		db, err = database.ConnectPostgres(dsn, cfg.App.Env == "development")
	}
	if err != nil {
		logger.Fatal("数据库连接失败", zap.String("driver", cfg.DB.Driver), zap.Error(err))
	}
	return db
}

// stopWithin 等 stop 返回；ctx 先到期就 abort 让在途任务尽快结束
func stopWithin(ctx context.Context, stop func(), abort func()) error {
	done := make(chan struct{})
	go func() {
		stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		abort()
		<-done
		return ctx.Err()
	}
}
