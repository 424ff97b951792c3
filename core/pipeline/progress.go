package pipeline

import (
	"sync"
	"time"

	"soundrise/cache"
	"soundrise/logger"
	"soundrise/model"
)

const subscriberBuffer = 16

// Broadcaster 进度广播器
// 每个会话最多一个订阅者，发布永不阻塞流水线：
// 没有订阅者或通道已满时事件直接丢弃，最新快照始终落在 Redis
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]chan model.ProgressEvent
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]chan model.ProgressEvent)}
}

// Subscribe attaches the single subscriber for a session. A previous
// subscriber for the same session is closed and replaced.
func (b *Broadcaster) Subscribe(sessionID string) <-chan model.ProgressEvent {
	ch := make(chan model.ProgressEvent, subscriberBuffer)
	b.mu.Lock()
	if old, ok := b.subs[sessionID]; ok {
		close(old)
	}
	b.subs[sessionID] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe detaches the session's subscriber without closing the
// session itself. Safe to call after a terminal event already closed
// the channel.
func (b *Broadcaster) Unsubscribe(sessionID string, ch <-chan model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.subs[sessionID]; ok && cur == ch {
		close(cur)
		delete(b.subs, sessionID)
	}
}

// Publish delivers an event to the session's subscriber, if any, and
// mirrors it to the Redis snapshot for polling clients. A terminal
// event closes and removes the subscription.
func (b *Broadcaster) Publish(event model.ProgressEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	if err := cache.SetProgressSnapshot(&event); err != nil {
		logger.Warn("进度快照写入失败",
			logger.String("sessionId", event.SessionID),
			logger.ErrorField(err))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[event.SessionID]
	if !ok {
		return
	}

	select {
	case ch <- event:
	default:
		// 订阅者消费太慢，丢弃本条
		logger.Debug("进度事件丢弃",
			logger.String("sessionId", event.SessionID),
			logger.String("stage", event.Stage))
	}

	if event.Terminal {
		close(ch)
		delete(b.subs, event.SessionID)
	}
}
