package cache

import (
	"context"
	"fmt"
	"time"

	"soundrise/db"

	"github.com/redis/go-redis/v9"
)

const segmentCacheTTL = 1800 * time.Second

// SetSegmentCache 缓存 HLS 分片数据，加速首播
func SetSegmentCache(trackID int64, segmentName string, data []byte) error {
	if db.RedisClient == nil {
		return nil
	}
	key := fmt.Sprintf("segment:%d:%s", trackID, segmentName)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.RedisClient.Set(ctx, key, data, segmentCacheTTL).Err()
}

// GetSegmentCache 获取缓存的 HLS 分片
func GetSegmentCache(trackID int64, segmentName string) ([]byte, error) {
	if db.RedisClient == nil {
		return nil, nil
	}
	key := fmt.Sprintf("segment:%d:%s", trackID, segmentName)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := db.RedisClient.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return data, err
}
