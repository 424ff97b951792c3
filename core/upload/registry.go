package upload

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"soundrise/logger"

	"github.com/google/uuid"
)

// Session 是一次客户端上传尝试的服务端状态。
// 由 Registry 独占持有，位图和活跃时间只能通过带锁方法修改。
type Session struct {
	ID           string
	UserID       int64
	AlbumID      int64
	Filename     string
	DeclaredSize int64
	ChunkCount   int
	Checksum     string // 声明的整文件 sha256（hex）
	CreatedAt    time.Time

	mu              sync.Mutex
	lastActivity    time.Time
	received        []bool
	receivedCount   int
	state           State
	cancelRequested bool
	queued          bool
	claimed         bool
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to the given state. Transitions are
// one-directional; callers drive the ordering.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// ReceivedCount returns how many distinct chunk indices have been seen.
func (s *Session) ReceivedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receivedCount
}

// LastActivity returns the time of the last chunk write (or open).
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// MarkQueued 原子认领会话进入处理队列。
// 客户端重试 finalize 时第二次调用返回 ErrConflict，保证拼接只触发一次。
func (s *Session) MarkQueued() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued {
		return fmt.Errorf("%w: session already queued for processing", ErrConflict)
	}
	if s.state != StateAssembling {
		return fmt.Errorf("%w: state %s", ErrNotReceiving, s.state)
	}
	s.queued = true
	return nil
}

// UnmarkQueued releases the claim taken by MarkQueued, so a finalize that
// could not be queued can be retried.
func (s *Session) UnmarkQueued() {
	s.mu.Lock()
	s.queued = false
	s.mu.Unlock()
}

// BeginProcessing 由流水线 worker 认领执行权，只有第一次调用返回 true。
func (s *Session) BeginProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return false
	}
	s.claimed = true
	return true
}

// RequestCancel 记录客户端断开，管道会在下一个安全检查点停止。
// 进入 Persisting 之后的取消请求被忽略。
func (s *Session) RequestCancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelRequested = true
}

// CancelRequested reports whether a cancellation has been requested.
func (s *Session) CancelRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelRequested
}

// Registry 是进程级的活跃上传会话表。
// 同一 (album, filename) 最多允许一个活跃会话；过期会话被周期性清除。
type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byTarget  map[string]string // "albumID/filename" -> sessionID
	maxSize   int64
	maxChunks int
	ttl       time.Duration
	closed    bool
}

// NewRegistry creates a Registry with the given quota and expiry settings.
func NewRegistry(maxSize int64, maxChunks int, ttl time.Duration) *Registry {
	return &Registry{
		sessions:  make(map[string]*Session),
		byTarget:  make(map[string]string),
		maxSize:   maxSize,
		maxChunks: maxChunks,
		ttl:       ttl,
	}
}

func targetKey(albumID int64, filename string) string {
	return fmt.Sprintf("%d/%s", albumID, strings.ToLower(filename))
}

// Open registers a new upload session and returns it.
// Fails with ErrConflict when an active session exists for the same
// (album, filename), ErrQuotaExceeded when size exceeds the configured
// maximum, ErrValidation for malformed parameters.
func (r *Registry) Open(userID, albumID int64, filename string, size int64, chunkCount int, checksum string) (*Session, error) {
	if filename == "" || size <= 0 || chunkCount <= 0 || checksum == "" {
		return nil, ErrValidation
	}
	if size > r.maxSize {
		return nil, ErrQuotaExceeded
	}
	if chunkCount > r.maxChunks {
		return nil, fmt.Errorf("%w: chunk count %d above limit %d", ErrValidation, chunkCount, r.maxChunks)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrShuttingDown
	}

	key := targetKey(albumID, filename)
	if _, exists := r.byTarget[key]; exists {
		return nil, ErrConflict
	}

	now := time.Now()
	sess := &Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		AlbumID:      albumID,
		Filename:     filename,
		DeclaredSize: size,
		ChunkCount:   chunkCount,
		Checksum:     strings.ToLower(checksum),
		CreatedAt:    now,
		lastActivity: now,
		received:     make([]bool, chunkCount),
		state:        StateReceiving,
	}

	r.sessions[sess.ID] = sess
	r.byTarget[key] = sess.ID

	logger.Info("上传会话已创建",
		logger.String("sessionId", sess.ID),
		logger.Int64("albumId", albumID),
		logger.String("filename", filename),
		logger.Int64("size", size),
		logger.Int("chunkCount", chunkCount))

	return sess, nil
}

// Get returns the session for the given id.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// RecordChunk marks a chunk index as received. The returned complete flag is
// true on exactly the call that fills the bitmap; duplicate indices are
// idempotent. Safe under concurrent invocation for the same session.
func (r *Registry) RecordChunk(sessionID string, index int) (complete bool, err error) {
	sess, err := r.Get(sessionID)
	if err != nil {
		return false, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if time.Since(sess.lastActivity) > r.ttl {
		return false, ErrExpired
	}
	if sess.state != StateReceiving {
		return false, ErrNotReceiving
	}
	if index < 0 || index >= sess.ChunkCount {
		return false, fmt.Errorf("%w: index %d, chunk count %d", ErrOutOfRange, index, sess.ChunkCount)
	}

	sess.lastActivity = time.Now()

	if sess.received[index] {
		// 重传，最后一次写入生效，位图不变
		return false, nil
	}
	sess.received[index] = true
	sess.receivedCount++

	// 位图填满的那一次调用独占返回 complete，保证 assemble 只触发一次
	if sess.receivedCount == sess.ChunkCount {
		sess.state = StateAssembling
		return true, nil
	}
	return false, nil
}

// IsComplete reports whether every index in [0, chunkCount) has been received.
func (r *Registry) IsComplete(sessionID string) (bool, error) {
	sess, err := r.Get(sessionID)
	if err != nil {
		return false, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.receivedCount == sess.ChunkCount, nil
}

// ExpireStale discards sessions whose inactivity exceeds the TTL and returns
// them so the caller can clean their chunk storage. Sessions already handed to
// the processing pipeline are left alone.
func (r *Registry) ExpireStale(now time.Time) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*Session
	for id, sess := range r.sessions {
		sess.mu.Lock()
		stale := sess.state == StateReceiving && now.Sub(sess.lastActivity) > r.ttl
		if stale {
			sess.state = StateFailed
		}
		sess.mu.Unlock()

		if stale {
			delete(r.sessions, id)
			delete(r.byTarget, targetKey(sess.AlbumID, sess.Filename))
			expired = append(expired, sess)
			logger.Info("过期会话已清除",
				logger.String("sessionId", id),
				logger.Duration("idle", now.Sub(sess.LastActivity())))
		}
	}
	return expired
}

// Remove drops a session from the registry and releases its (album, filename)
// slot. Called when the session reaches a terminal state.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	delete(r.sessions, sessionID)
	delete(r.byTarget, targetKey(sess.AlbumID, sess.Filename))
}

// Close rejects further opens. In-flight sessions keep going; the pipeline
// drains them separately.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// ActiveCount returns the number of registered sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
