package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"soundrise/db"
	"soundrise/logger"
	"soundrise/model"

	"github.com/redis/go-redis/v9"
)

const progressTTL = 2 * time.Hour

func progressKey(sessionID string) string {
	return fmt.Sprintf("progress:%s", sessionID)
}

// SetProgressSnapshot 缓存会话最近一次进度事件，供轮询接口读取
func SetProgressSnapshot(event *model.ProgressEvent) error {
	if db.RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := db.RedisClient.Set(ctx, progressKey(event.SessionID), data, progressTTL).Err(); err != nil {
		logger.Warn("写入进度快照失败",
			logger.String("sessionId", event.SessionID),
			logger.ErrorField(err))
		return err
	}
	return nil
}

// GetProgressSnapshot 读取会话最近一次进度事件；缓存未命中返回 nil, nil
func GetProgressSnapshot(sessionID string) (*model.ProgressEvent, error) {
	if db.RedisClient == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := db.RedisClient.Get(ctx, progressKey(sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var event model.ProgressEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
