package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"donation-core/internal/model"
	"donation-core/pkg/database"
)

// NewDB 每个测试一个临时 SQLite 文件，已建好全部表
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.ConnectSQLite(filepath.Join(t.TempDir(), "donation_test.db"))
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.AllModels()...))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedStory 写入一条 OPEN 状态的故事
func SeedStory(t testing.TB, db *gorm.DB, id, ngoID, itemID string) *model.Story {
	t.Helper()

	s := &model.Story{ID: id, NgoID: ngoID, ItemID: itemID, ItemName: "item " + itemID, Status: model.StoryOpen}
	require.NoError(t, db.Create(s).Error)
	return s
}

// CountOutbox 按主题统计 outbox 消息
func CountOutbox(t testing.TB, db *gorm.DB, topic string) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Where("topic = ?", topic).Count(&n).Error)
	return n
}
