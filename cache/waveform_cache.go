package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"soundrise/db"
	"soundrise/logger"

	"github.com/redis/go-redis/v9"
)

const waveformTTL = 24 * time.Hour

func waveformKey(trackID int64) string {
	return fmt.Sprintf("waveform:%d", trackID)
}

// SetWaveformCache 缓存曲目的波形数据，状态接口优先走缓存，避免反复读库
func SetWaveformCache(trackID int64, waveform []float64) error {
	if db.RedisClient == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(waveform)
	if err != nil {
		return err
	}

	if err := db.RedisClient.Set(ctx, waveformKey(trackID), data, waveformTTL).Err(); err != nil {
		logger.Warn("写入波形缓存失败",
			logger.Int64("trackId", trackID),
			logger.ErrorField(err))
		return err
	}
	return nil
}

// GetWaveformCache 读取曲目波形缓存；未命中返回 nil, nil
func GetWaveformCache(trackID int64) ([]float64, error) {
	if db.RedisClient == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := db.RedisClient.Get(ctx, waveformKey(trackID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var waveform []float64
	if err := json.Unmarshal(data, &waveform); err != nil {
		return nil, err
	}
	return waveform, nil
}
