package upload

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(100*1024*1024, 256, 30*time.Minute)
}

func TestOpenValidation(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Open(1, 1, "", 100, 4, "abc")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Open(1, 1, "song.mp3", 0, 4, "abc")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Open(1, 1, "song.mp3", 100, 0, "abc")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Open(1, 1, "song.mp3", 100, 4, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Open(1, 1, "song.mp3", 200*1024*1024, 4, "abc")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	_, err = r.Open(1, 1, "song.mp3", 100, 10000, "abc")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOpenConflictOnSameTarget(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Open(1, 5, "Song.MP3", 100, 4, "abc")
	require.NoError(t, err)

	// 同专辑同文件名（大小写不敏感）拒绝并发会话
	_, err = r.Open(2, 5, "song.mp3", 100, 4, "abc")
	assert.ErrorIs(t, err, ErrConflict)

	// 其他专辑不受影响
	_, err = r.Open(1, 6, "song.mp3", 100, 4, "abc")
	assert.NoError(t, err)

	// 会话移除后槽位释放
	r.Remove(sess.ID)
	_, err = r.Open(1, 5, "song.mp3", 100, 4, "abc")
	assert.NoError(t, err)
}

func TestRecordChunkOutOfRange(t *testing.T) {
	r := newTestRegistry(t)
	sess, err := r.Open(1, 1, "song.mp3", 100, 4, "abc")
	require.NoError(t, err)

	_, err = r.RecordChunk(sess.ID, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = r.RecordChunk(sess.ID, 4)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = r.RecordChunk("no-such-session", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordChunkOutOfOrderAndDuplicates(t *testing.T) {
	r := newTestRegistry(t)
	sess, err := r.Open(1, 1, "song.mp3", 100, 4, "abc")
	require.NoError(t, err)

	// 乱序到达
	for _, idx := range []int{2, 0, 3} {
		complete, err := r.RecordChunk(sess.ID, idx)
		require.NoError(t, err)
		assert.False(t, complete)
	}
	assert.Equal(t, 3, sess.ReceivedCount())

	// 重传不改变计数，也不触发 complete
	complete, err := r.RecordChunk(sess.ID, 2)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Equal(t, 3, sess.ReceivedCount())

	// 补上最后一块的那次调用返回 complete
	complete, err = r.RecordChunk(sess.ID, 1)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, StateAssembling, sess.State())

	// 进入拼接后不再接收分片
	_, err = r.RecordChunk(sess.ID, 0)
	assert.ErrorIs(t, err, ErrNotReceiving)
}

func TestRecordChunkCompleteExactlyOnce(t *testing.T) {
	r := newTestRegistry(t)
	const chunkCount = 64
	sess, err := r.Open(1, 1, "song.mp3", 100, chunkCount, "abc")
	require.NoError(t, err)

	var completions int32
	var wg sync.WaitGroup
	// 每块由两个协程并发提交，模拟重传竞争
	for i := 0; i < chunkCount; i++ {
		for g := 0; g < 2; g++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				complete, err := r.RecordChunk(sess.ID, idx)
				if err == nil && complete {
					atomic.AddInt32(&completions, 1)
				}
			}(i)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&completions))
	assert.Equal(t, chunkCount, sess.ReceivedCount())

	done, err := r.IsComplete(sess.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestExpireStaleOnlyTouchesReceivingSessions(t *testing.T) {
	r := NewRegistry(100*1024*1024, 256, 10*time.Millisecond)

	stale, err := r.Open(1, 1, "stale.mp3", 100, 4, "abc")
	require.NoError(t, err)

	busy, err := r.Open(1, 2, "busy.mp3", 100, 1, "abc")
	require.NoError(t, err)
	_, err = r.RecordChunk(busy.ID, 0) // 推进到 assembling
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	expired := r.ExpireStale(time.Now())
	require.Len(t, expired, 1)
	assert.Equal(t, stale.ID, expired[0].ID)
	assert.Equal(t, StateFailed, expired[0].State())

	_, err = r.Get(stale.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// 已交给流水线的会话不动
	_, err = r.Get(busy.ID)
	assert.NoError(t, err)
}

func TestRecordChunkOnExpiredSession(t *testing.T) {
	r := NewRegistry(100*1024*1024, 256, 5*time.Millisecond)
	sess, err := r.Open(1, 1, "song.mp3", 100, 4, "abc")
	require.NoError(t, err)

	time.Sleep(15 * time.Millisecond)

	_, err = r.RecordChunk(sess.ID, 0)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCloseRejectsNewSessions(t *testing.T) {
	r := newTestRegistry(t)

	sess, err := r.Open(1, 1, "song.mp3", 100, 4, "abc")
	require.NoError(t, err)

	r.Close()

	_, err = r.Open(1, 2, "other.mp3", 100, 4, "abc")
	assert.ErrorIs(t, err, ErrShuttingDown)

	// 已有会话不受影响
	_, err = r.RecordChunk(sess.ID, 0)
	assert.NoError(t, err)
}

func TestChecksumNormalizedToLower(t *testing.T) {
	r := newTestRegistry(t)
	sess, err := r.Open(1, 1, "song.mp3", 100, 4, "ABCDEF")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", sess.Checksum)
}

func TestMarkQueuedClaimsSessionOnce(t *testing.T) {
	r := newTestRegistry(t)
	sess, err := r.Open(1, 1, "song.mp3", 100, 1, "abc")
	require.NoError(t, err)

	// 未收满分片前不可入队
	err = sess.MarkQueued()
	assert.ErrorIs(t, err, ErrNotReceiving)

	complete, err := r.RecordChunk(sess.ID, 0)
	require.NoError(t, err)
	require.True(t, complete)

	require.NoError(t, sess.MarkQueued())

	// 重试的 finalize 拿到冲突
	err = sess.MarkQueued()
	assert.ErrorIs(t, err, ErrConflict)

	// 回滚认领后可以再次入队
	sess.UnmarkQueued()
	assert.NoError(t, sess.MarkQueued())
}

func TestBeginProcessingGrantsSingleClaim(t *testing.T) {
	r := newTestRegistry(t)
	sess, err := r.Open(1, 1, "song.mp3", 100, 1, "abc")
	require.NoError(t, err)

	var claims int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sess.BeginProcessing() {
				atomic.AddInt32(&claims, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claims, "exactly one caller should win the claim")
	assert.False(t, sess.BeginProcessing())
}
