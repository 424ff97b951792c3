package pipeline

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSegment(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestTrySendSegmentMarksProcessedOnlyAfterSend(t *testing.T) {
	p := &HLSProcessor{}
	dir := t.TempDir()
	path := writeSegment(t, dir, "segment_000.ts", []byte("ts payload"))

	var processed sync.Map
	var count int32
	full := make(chan *segmentTask) // 无缓冲且无消费者，投递必然失败

	// 通道满时不得标记已处理，分片留待重试
	assert.False(t, p.trySendSegment(7, path, full, &processed, &count))
	_, marked := processed.Load("segment_000.ts")
	assert.False(t, marked, "a segment that was never sent must stay unprocessed")
	assert.Zero(t, count)

	open := make(chan *segmentTask, 1)
	assert.True(t, p.trySendSegment(7, path, open, &processed, &count))
	_, marked = processed.Load("segment_000.ts")
	assert.True(t, marked)
	assert.Equal(t, int32(1), count)

	task := <-open
	assert.Equal(t, int64(7), task.trackID)
	assert.Equal(t, "segment_000.ts", task.name)
	assert.False(t, task.isM3U8)

	// 已处理的分片直接从待处理队列移除，不重复投递
	assert.True(t, p.trySendSegment(7, path, open, &processed, &count))
	assert.Len(t, open, 0)
	assert.Equal(t, int32(1), count)
}

func TestTrySendSegmentSkipsIncompleteFile(t *testing.T) {
	p := &HLSProcessor{}
	dir := t.TempDir()
	path := writeSegment(t, dir, "segment_001.ts", nil) // 零字节，尚未写完

	var processed sync.Map
	var count int32
	ch := make(chan *segmentTask, 1)

	assert.False(t, p.trySendSegment(7, path, ch, &processed, &count))
	_, marked := processed.Load("segment_001.ts")
	assert.False(t, marked)
	assert.Len(t, ch, 0)
}
