package mq

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"donation-core/pkg/logger"
)

// KafkaConsumer 实现 Consumer 接口
type KafkaConsumer struct {
	brokers []string
	groupID string
	reader  *kafka.Reader
}

// NewKafkaConsumer 创建 Kafka 消费者
func NewKafkaConsumer(brokers []string, groupID string) *KafkaConsumer {
	return &KafkaConsumer{
		brokers: brokers,
		groupID: groupID,
	}
}

// Subscribe 订阅 Kafka 主题
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	// GroupID: 同组内一个分区只会被一个消费者消费
	// StartOffset: 新组从最早的消息开始，银行通知不能漏
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.FirstOffset,
	})

	logger.Info("[Kafka MQ] 开始监听主题", zap.String("topic", topic), zap.String("group", c.groupID))
	c.consumeLoop(ctx, topic, handler)
	return nil
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context, topic string, handler func(msg *Message) error) {
	defer c.reader.Close()

	for {
		// 1. 读取消息 (阻塞直到有消息)
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("[Kafka MQ] 读取消息错误", zap.Error(err))
			time.Sleep(1 * time.Second)
			continue
		}

		msg := &Message{
			ID:      strconv.Itoa(m.Partition) + "-" + strconv.FormatInt(m.Offset, 10),
			Topic:   topic,
			Key:     string(m.Key),
			Payload: m.Value,
		}

		// 2. Reader 的内存 Offset 已经前进，失败时原地重试同一条
		// 业务侧 (入账落账) 按 transaction_id 幂等，重复处理无副作用
		if !c.handleWithRetry(ctx, msg, handler) {
			return
		}

		// 3. 手动提交 Offset
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			logger.Warn("[Kafka MQ] 提交 Offset 失败", zap.Error(err))
		}
	}
}

const maxHandleAttempts = 5

// handleWithRetry 返回 false 表示 ctx 已取消
func (c *KafkaConsumer) handleWithRetry(ctx context.Context, msg *Message, handler func(msg *Message) error) bool {
	for attempt := 1; ; attempt++ {
		err := handler(msg)
		if err == nil {
			return true
		}
		if attempt >= maxHandleAttempts {
			logger.Error("[Kafka MQ] 多次处理失败，跳过该消息", zap.String("msg_id", msg.ID), zap.Error(err))
			return true
		}
		logger.Warn("[Kafka MQ] 业务处理失败，稍后重试", zap.String("msg_id", msg.ID), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
}

// Close 关闭消费者
func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
