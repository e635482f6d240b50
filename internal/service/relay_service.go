package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donation-core/internal/model"
	"donation-core/internal/service/mq"
	"donation-core/pkg/logger"
)

// RelayService 负责将本地消息表的消息搬运到 MQ
type RelayService struct {
	db        *gorm.DB
	producer  mq.Producer
	interval  time.Duration
	batchSize int
}

func NewRelayService(db *gorm.DB, producer mq.Producer) *RelayService {
	return &RelayService{
		db:        db,
		producer:  producer,
		interval:  500 * time.Millisecond, // 500ms 轮询一次
		batchSize: 50,
	}
}

func (s *RelayService) Start(ctx context.Context) {
	logger.Info("[Relay] 启动消息中继服务...")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[Relay] 停止服务")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

// ProcessPending 投递一批 PENDING 消息，返回成功条数
func (s *RelayService) ProcessPending(ctx context.Context) int {
	// 1. 按 ID 顺序取一批，保证同一捐赠的事件按写入顺序发出
	var messages []model.OutboxMessage
	if err := s.db.WithContext(ctx).
		Where("status = ?", model.OutboxPending).
		Order("id ASC").
		Limit(s.batchSize).
		Find(&messages).Error; err != nil {
		logger.Error("[Relay] 查询消息失败", zap.Error(err))
		return 0
	}

	if len(messages) == 0 {
		return 0
	}

	sent := 0
	for _, msg := range messages {
		// 2. 发送 MQ
		if err := s.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Warn("[Relay] 发送消息失败",
				zap.Uint64("id", msg.ID), zap.String("topic", msg.Topic), zap.Error(err))
			s.db.WithContext(ctx).Model(&model.OutboxMessage{}).
				Where("id = ?", msg.ID).
				UpdateColumn("attempts", gorm.Expr("attempts + 1"))
			continue
		}

		// 3. 只有发送成功了才更新状态 => At-least-once，Consumer 需做好幂等
		if err := s.db.WithContext(ctx).Model(&model.OutboxMessage{}).
			Where("id = ?", msg.ID).
			Updates(map[string]interface{}{"status": model.OutboxSent, "attempts": gorm.Expr("attempts + 1")}).Error; err != nil {
			logger.Error("[Relay] 更新状态失败", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}

	logger.Debug("[Relay] 本轮投递完成", zap.Int("pending", len(messages)), zap.Int("sent", sent))
	return sent
}
