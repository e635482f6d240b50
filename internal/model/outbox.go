package model

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxMessage 本地消息表 (Transactional Outbox)
type OutboxMessage struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Topic     string    `gorm:"type:varchar(255);not null" json:"topic"`
	Key       string    `gorm:"type:varchar(128)" json:"key"`                  // 分区键
	DedupKey  *string   `gorm:"type:varchar(191);uniqueIndex" json:"dedupKey"` // 非空时同一 key 只写一次
	Payload   []byte    `gorm:"type:text;not null" json:"payload"`
	Status    string    `gorm:"type:varchar(50);not null;default:'PENDING';index" json:"status"` // PENDING, SENT
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
)

// CreateOutboxMessage 在同一个事务中创建业务数据和 Outbox 消息
func CreateOutboxMessage(tx *gorm.DB, topic, key string, payload interface{}) error {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := OutboxMessage{
		Topic:   topic,
		Key:     key,
		Payload: payloadBytes,
		Status:  OutboxPending,
	}

	return tx.Create(&msg).Error
}

// CreateOutboxMessageOnce 按 dedupKey 去重写入，返回是否真正写入
func CreateOutboxMessageOnce(tx *gorm.DB, topic, key, dedupKey string, payload interface{}) (bool, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}

	msg := OutboxMessage{
		Topic:    topic,
		Key:      key,
		DedupKey: &dedupKey,
		Payload:  payloadBytes,
		Status:   OutboxPending,
	}

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "dedup_key"}},
		DoNothing: true,
	}).Create(&msg)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
