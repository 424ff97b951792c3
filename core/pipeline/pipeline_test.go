package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"testing"
	"time"

	"soundrise/core/upload"
	"soundrise/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	registry  *upload.Registry
	store     *upload.ChunkStore
	assembler *upload.Assembler
	pipe      *Pipeline
	events    *Broadcaster
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	base := t.TempDir()
	store, err := upload.NewChunkStore(base + "/chunks")
	require.NoError(t, err)
	asm, err := upload.NewAssembler(store, base+"/assembly")
	require.NoError(t, err)

	registry := upload.NewRegistry(100*1024*1024, 256, time.Minute)
	events := NewBroadcaster()
	pipe := NewPipeline(registry, store, asm, nil, nil, nil, nil, events, time.Minute)
	return &pipelineFixture{
		registry:  registry,
		store:     store,
		assembler: asm,
		pipe:      pipe,
		events:    events,
	}
}

func (f *pipelineFixture) openSession(t *testing.T, data []byte, checksum string) *upload.Session {
	t.Helper()
	return f.openNamedSession(t, "track.mp3", data, checksum)
}

func (f *pipelineFixture) openNamedSession(t *testing.T, filename string, data []byte, checksum string) *upload.Session {
	t.Helper()
	sess, err := f.registry.Open(1, 1, filename, int64(len(data)), 1, checksum)
	require.NoError(t, err)
	_, err = f.store.WriteChunk(sess.ID, 0, bytes.NewReader(data))
	require.NoError(t, err)
	_, err = f.registry.RecordChunk(sess.ID, 0)
	require.NoError(t, err)
	return sess
}

func drainEvents(t *testing.T, ch <-chan model.ProgressEvent) []model.ProgressEvent {
	t.Helper()
	var events []model.ProgressEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
			if ev.Terminal {
				return events
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for progress events")
		}
	}
}

func TestProcessFailsOnChecksumMismatch(t *testing.T) {
	f := newPipelineFixture(t)

	data := []byte("assembled audio payload")
	sess := f.openSession(t, data, checksumHex([]byte("wrong content")))

	ch := f.events.Subscribe(sess.ID)
	f.pipe.process(Job{Session: sess, Meta: TrackMeta{Title: "x", TrackNumber: 1, DiscNumber: 1}})

	events := drainEvents(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, string(upload.StateFailed), last.Stage)
	assert.NotEmpty(t, last.Error)

	assert.Equal(t, upload.StateFailed, sess.State())

	// 分片目录已清理，会话已从注册表移除
	_, err := os.Stat(f.store.SessionDir(sess.ID))
	assert.True(t, os.IsNotExist(err))
	_, err = f.registry.Get(sess.ID)
	assert.ErrorIs(t, err, upload.ErrNotFound)
}

func TestProcessHonorsCancelBeforeWork(t *testing.T) {
	f := newPipelineFixture(t)

	data := []byte("assembled audio payload")
	sess := f.openSession(t, data, checksumHex(data))
	sess.RequestCancel()

	ch := f.events.Subscribe(sess.ID)
	f.pipe.process(Job{Session: sess, Meta: TrackMeta{Title: "x", TrackNumber: 1, DiscNumber: 1}})

	events := drainEvents(t, ch)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Terminal)
	assert.Equal(t, string(upload.StateCancelled), last.Stage)
	assert.Zero(t, last.TrackID, "no track should exist for a cancelled session")

	assert.Equal(t, upload.StateCancelled, sess.State())
	_, err := f.registry.Get(sess.ID)
	assert.ErrorIs(t, err, upload.ErrNotFound)

	// 取消路径同样回收分片目录
	_, err = os.Stat(f.store.SessionDir(sess.ID))
	assert.True(t, os.IsNotExist(err), "chunk dir should be discarded on cancellation")
}

func TestProcessRunsSessionOnce(t *testing.T) {
	f := newPipelineFixture(t)

	data := []byte("assembled audio payload")
	sess := f.openSession(t, data, checksumHex([]byte("wrong content")))

	ch := f.events.Subscribe(sess.ID)
	job := Job{Session: sess, Meta: TrackMeta{Title: "x", TrackNumber: 1, DiscNumber: 1}}
	f.pipe.process(job)

	events := drainEvents(t, ch)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].Terminal)

	// 重复投递的任务直接丢弃，不再拼接、不再广播
	ch = f.events.Subscribe(sess.ID)
	f.pipe.process(job)

	select {
	case ev := <-ch:
		t.Fatalf("duplicate run published %q", ev.Stage)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEnqueueRejectsRepeatedFinalize(t *testing.T) {
	f := newPipelineFixture(t)

	data := []byte("assembled audio payload")
	sess := f.openSession(t, data, checksumHex(data))

	job := Job{Session: sess, Meta: TrackMeta{Title: "x", TrackNumber: 1, DiscNumber: 1}}
	require.NoError(t, f.pipe.Enqueue(job))

	err := f.pipe.Enqueue(job)
	assert.ErrorIs(t, err, upload.ErrConflict)
}

func TestEnqueueFailsWhenQueueFull(t *testing.T) {
	f := newPipelineFixture(t)

	data := []byte("payload")
	// 未启动 worker，填满队列缓冲
	for i := 0; i < cap(f.pipe.jobs); i++ {
		sess := f.openNamedSession(t, fmt.Sprintf("track-%03d.mp3", i), data, checksumHex(data))
		require.NoError(t, f.pipe.Enqueue(Job{Session: sess, Meta: TrackMeta{Title: "x", TrackNumber: 1, DiscNumber: 1}}))
	}

	sess := f.openNamedSession(t, "track-overflow.mp3", data, checksumHex(data))
	err := f.pipe.Enqueue(Job{Session: sess, Meta: TrackMeta{Title: "x", TrackNumber: 1, DiscNumber: 1}})
	assert.ErrorIs(t, err, ErrQueueFull)

	// 认领已回滚，队列有空位后可以重试
	require.NoError(t, sess.MarkQueued())
}

func TestEnqueueAfterShutdown(t *testing.T) {
	f := newPipelineFixture(t)
	f.pipe.Start(1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.pipe.Shutdown(ctx))

	err := f.pipe.Enqueue(Job{})
	assert.ErrorIs(t, err, upload.ErrShuttingDown)
}

func checksumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
