package upload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssembler(t *testing.T) (*Registry, *ChunkStore, *Assembler) {
	t.Helper()
	base := t.TempDir()
	store, err := NewChunkStore(base + "/chunks")
	require.NoError(t, err)
	asm, err := NewAssembler(store, base+"/assembly")
	require.NoError(t, err)
	return NewRegistry(100*1024*1024, 256, time.Minute), store, asm
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestAssembleConcatenatesInIndexOrder(t *testing.T) {
	registry, store, asm := newTestAssembler(t)

	chunks := [][]byte{
		[]byte("first-"),
		[]byte("second-"),
		[]byte("third"),
	}
	full := bytes.Join(chunks, nil)

	sess, err := registry.Open(1, 1, "song.mp3", int64(len(full)), len(chunks), checksumOf(full))
	require.NoError(t, err)

	// 乱序写入，拼接仍按下标顺序
	for _, idx := range []int{2, 0, 1} {
		_, err := store.WriteChunk(sess.ID, idx, bytes.NewReader(chunks[idx]))
		require.NoError(t, err)
		_, err = registry.RecordChunk(sess.ID, idx)
		require.NoError(t, err)
	}

	artifact, err := asm.Assemble(sess)
	require.NoError(t, err)
	defer artifact.Discard()

	got, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, full, got)
	assert.Equal(t, int64(len(full)), artifact.Size)
	assert.Equal(t, checksumOf(full), artifact.Checksum)

	// 分片目录已清理
	_, err = os.Stat(store.SessionDir(sess.ID))
	assert.True(t, os.IsNotExist(err))
}

func TestAssembleChecksumMismatch(t *testing.T) {
	registry, store, asm := newTestAssembler(t)

	data := []byte("some audio bytes")
	sess, err := registry.Open(1, 1, "song.mp3", int64(len(data)), 1, checksumOf([]byte("different")))
	require.NoError(t, err)

	_, err = store.WriteChunk(sess.ID, 0, bytes.NewReader(data))
	require.NoError(t, err)
	_, err = registry.RecordChunk(sess.ID, 0)
	require.NoError(t, err)

	_, err = asm.Assemble(sess)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestAssembleSizeMismatch(t *testing.T) {
	registry, store, asm := newTestAssembler(t)

	data := []byte("short")
	sess, err := registry.Open(1, 1, "song.mp3", int64(len(data))+10, 1, checksumOf(data))
	require.NoError(t, err)

	_, err = store.WriteChunk(sess.ID, 0, bytes.NewReader(data))
	require.NoError(t, err)
	_, err = registry.RecordChunk(sess.ID, 0)
	require.NoError(t, err)

	_, err = asm.Assemble(sess)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestWriteChunkLastWriteWins(t *testing.T) {
	_, store, _ := newTestAssembler(t)

	const sessionID = "session-x"
	_, err := store.WriteChunk(sessionID, 0, bytes.NewReader([]byte("old payload")))
	require.NoError(t, err)
	n, err := store.WriteChunk(sessionID, 0, bytes.NewReader([]byte("new")))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	f, err := store.OpenChunk(sessionID, 0)
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 16)
	read, _ := f.Read(buf)
	assert.Equal(t, "new", string(buf[:read]))
}

func TestChunkPathNaming(t *testing.T) {
	_, store, _ := newTestAssembler(t)
	path := store.ChunkPath("abc", 7)
	assert.Contains(t, path, fmt.Sprintf("chunk_%05d", 7))
}
