package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"donation-core/pkg/logger"
)

// RedisProducer 实现 Producer 接口
type RedisProducer struct {
	client *redis.Client
}

// NewRedisProducer 创建 Redis 生产者
func NewRedisProducer(client *redis.Client) *RedisProducer {
	return &RedisProducer{
		client: client,
	}
}

// Publish 发送消息到 Redis Stream (XADD)，Stream 名即 topic
func (p *RedisProducer) Publish(ctx context.Context, topic string, key string, payload []byte) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{
			"key":     key,
			"payload": payload,
		},
	}).Err()

	if err != nil {
		logger.Error("[MQ] Publish Error", zap.String("topic", topic), zap.Error(err))
		return fmt.Errorf("redis xadd error: %w", err)
	}
	return nil
}

// Close Redis 连接由调用方统一管理
func (p *RedisProducer) Close() error {
	return nil
}

// RedisConsumer 实现 Consumer 接口
type RedisConsumer struct {
	client *redis.Client
	group  string
	name   string
	block  time.Duration
}

// NewRedisConsumer 创建 Redis 消费者
func NewRedisConsumer(client *redis.Client, group, name string) *RedisConsumer {
	return &RedisConsumer{
		client: client,
		group:  group,
		name:   name,
		block:  2 * time.Second,
	}
}

// Subscribe 订阅 Redis Stream
func (c *RedisConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	// 1. 创建 Consumer Group (如果不存在)
	// XGROUP CREATE <stream> <group> 0 MKSTREAM，从头消费已有的通知
	err := c.client.XGroupCreateMkStream(ctx, topic, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("创建消费者组失败: %w", err)
	}

	logger.Info("[Redis MQ] 开始监听主题", zap.String("topic", topic), zap.String("group", c.group))

	// 2. 先处理上次未确认的消息 (ID = 0)，再读新消息 (ID = >)
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{topic, cursor},
			Count:    10,
			Block:    c.block,
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue // 超时无消息
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("[Redis MQ] 读取消息错误", zap.Error(err))
			time.Sleep(1 * time.Second)
			continue
		}

		delivered, failed := 0, 0
		for _, stream := range streams {
			for _, xMessage := range stream.Messages {
				delivered++
				if !c.dispatch(ctx, topic, xMessage, handler) {
					failed++
				}
			}
		}
		// 积压处理完 (或者积压里有处理不了的) 就切到新消息
		if cursor == "0" && (delivered == 0 || failed > 0) {
			cursor = ">"
		}
	}
}

func (c *RedisConsumer) dispatch(ctx context.Context, topic string, xMessage redis.XMessage, handler func(msg *Message) error) bool {
	val, ok := xMessage.Values["payload"].(string)
	if !ok {
		logger.Error("[Redis MQ] 消息格式错误: payload 缺失", zap.String("msg_id", xMessage.ID))
		c.ack(ctx, topic, xMessage.ID)
		return true
	}
	key, _ := xMessage.Values["key"].(string)

	msg := &Message{
		ID:      xMessage.ID,
		Topic:   topic,
		Key:     key,
		Payload: []byte(val),
	}

	if err := handler(msg); err != nil {
		// 不 ACK，留在 PEL 里，重启后从 ID = 0 重新处理
		logger.Warn("[Redis MQ] 消息处理失败", zap.String("msg_id", xMessage.ID), zap.Error(err))
		return false
	}
	c.ack(ctx, topic, xMessage.ID)
	return true
}

func (c *RedisConsumer) ack(ctx context.Context, topic, id string) {
	if err := c.client.XAck(ctx, topic, c.group, id).Err(); err != nil {
		logger.Warn("[Redis MQ] ACK 失败", zap.String("msg_id", id), zap.Error(err))
	}
}

// Close Redis 连接由调用方统一管理
func (c *RedisConsumer) Close() error {
	return nil
}
