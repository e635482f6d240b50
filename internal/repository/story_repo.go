package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"donation-core/internal/model"
	"donation-core/pkg/cache"
	"donation-core/pkg/errno"
	"donation-core/pkg/logger"
)

type GormStoryStore struct {
	db *gorm.DB
}

func NewStoryStore(db *gorm.DB) *GormStoryStore {
	return &GormStoryStore{db: db}
}

func (r *GormStoryStore) Get(ctx context.Context, id string) (*model.Story, error) {
	var s model.Story
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrStoryNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Status 只查状态列，故事关闭后立刻生效
func (r *GormStoryStore) Status(ctx context.Context, id string) (string, error) {
	var statuses []string
	err := r.db.WithContext(ctx).Model(&model.Story{}).Where("id = ?", id).Limit(1).Pluck("status", &statuses).Error
	if err != nil {
		return "", err
	}
	if len(statuses) == 0 {
		return "", errno.ErrStoryNotFound
	}
	return statuses[0], nil
}

// StoryStatusStore 能单独查询故事状态的存储
type StoryStatusStore interface {
	StoryStore
	Status(ctx context.Context, id string) (string, error)
}

// CachedStoryStore 机构、物品等不变的字段放在多级缓存里，状态每次回主库查
type CachedStoryStore struct {
	inner StoryStatusStore
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedStoryStore(inner StoryStatusStore, c cache.Cache, ttl time.Duration) *CachedStoryStore {
	return &CachedStoryStore{inner: inner, cache: c, ttl: ttl}
}

func (r *CachedStoryStore) Get(ctx context.Context, id string) (*model.Story, error) {
	key := "story:" + id

	var s model.Story
	if err := r.cache.Get(ctx, key, &s); err == nil {
		status, err := r.inner.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		s.Status = status
		return &s, nil
	}

	story, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// 缓存里不带状态
	profile := *story
	profile.Status = ""
	if err := r.cache.Set(ctx, key, &profile, r.ttl); err != nil {
		logger.Warn("story 缓存写入失败", zap.String("story_id", id), zap.Error(err))
	}
	return story, nil
}
