package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChunkStore 在本地磁盘上为每个会话维护一个分片暂存目录。
// 分片按索引命名（chunk_00042），同一索引重复写入为幂等覆盖。
type ChunkStore struct {
	baseDir string
}

// NewChunkStore creates a ChunkStore rooted at baseDir.
func NewChunkStore(baseDir string) (*ChunkStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk dir %s: %w", baseDir, err)
	}
	return &ChunkStore{baseDir: baseDir}, nil
}

// SessionDir returns the scratch directory for one session.
func (cs *ChunkStore) SessionDir(sessionID string) string {
	return filepath.Join(cs.baseDir, sessionID)
}

// ChunkPath returns the path of one chunk file.
func (cs *ChunkStore) ChunkPath(sessionID string, index int) string {
	return filepath.Join(cs.SessionDir(sessionID), fmt.Sprintf("chunk_%05d", index))
}

// WriteChunk stores one chunk payload. Writes go to a temp file first and are
// renamed into place, so concurrent duplicate writes for the same index end
// with one intact payload (last write wins).
func (cs *ChunkStore) WriteChunk(sessionID string, index int, r io.Reader) (int64, error) {
	dir := cs.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, fmt.Sprintf("chunk_%05d.partial-", index))
	if err != nil {
		return 0, fmt.Errorf("failed to create chunk temp file: %w", err)
	}

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to write chunk %d: %w", index, err)
	}

	if err := os.Rename(tmp.Name(), cs.ChunkPath(sessionID, index)); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("failed to finalize chunk %d: %w", index, err)
	}
	return n, nil
}

// OpenChunk opens one stored chunk for reading.
func (cs *ChunkStore) OpenChunk(sessionID string, index int) (*os.File, error) {
	f, err := os.Open(cs.ChunkPath(sessionID, index))
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk %d: %w", index, err)
	}
	return f, nil
}

// Discard removes all chunk storage for a session.
func (cs *ChunkStore) Discard(sessionID string) error {
	return os.RemoveAll(cs.SessionDir(sessionID))
}
