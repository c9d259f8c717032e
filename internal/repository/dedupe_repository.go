package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DedupeRepository 记录已经处理过的上传内容键，用于发现客户端重复提交。
type DedupeRepository interface {
	IsDuplicate(ctx context.Context, createdOn int64, healthCode, schemaKey string) (bool, error)
	Register(ctx context.Context, createdOn int64, healthCode, schemaKey, uploadID string) error
}

// dedupeRepository 是 DedupeRepository 的 Redis 实现。
type dedupeRepository struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// NewDedupeRepository 创建一个新的 DedupeRepository 实例，ttl<=0 表示永不过期。
func NewDedupeRepository(redisClient *redis.Client, ttl time.Duration) DedupeRepository {
	return &dedupeRepository{redisClient: redisClient, ttl: ttl}
}

func (r *dedupeRepository) key(createdOn int64, healthCode, schemaKey string) string {
	return fmt.Sprintf("upload:dedupe:%s:%d:%s", healthCode, createdOn, schemaKey)
}

// IsDuplicate 判断该内容键是否已被登记。
func (r *dedupeRepository) IsDuplicate(ctx context.Context, createdOn int64, healthCode, schemaKey string) (bool, error) {
	n, err := r.redisClient.Exists(ctx, r.key(createdOn, healthCode, schemaKey)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Register 将内容键登记到 uploadID 名下。已登记的键保持原值，重复调用不会报错。
func (r *dedupeRepository) Register(ctx context.Context, createdOn int64, healthCode, schemaKey, uploadID string) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	return r.redisClient.SetNX(ctx, r.key(createdOn, healthCode, schemaKey), uploadID, ttl).Err()
}
