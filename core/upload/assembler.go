package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"soundrise/logger"
)

// Artifact 是按序拼接完成的上传文件，在处理期间归会话所有。
type Artifact struct {
	Path     string
	Size     int64
	Checksum string // sha256 hex of the assembled bytes
}

// Discard removes the artifact from disk.
func (a *Artifact) Discard() {
	if a == nil || a.Path == "" {
		return
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		logger.Warn("删除临时产物失败",
			logger.String("path", a.Path),
			logger.ErrorField(err))
	}
}

// Assembler 将会话的分片按索引顺序拼接为单个文件，并校验大小与校验和。
type Assembler struct {
	store   *ChunkStore
	workDir string
}

// NewAssembler creates an Assembler writing assembled files under workDir.
func NewAssembler(store *ChunkStore, workDir string) (*Assembler, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create assembly dir %s: %w", workDir, err)
	}
	return &Assembler{store: store, workDir: workDir}, nil
}

// Assemble concatenates the session's chunks strictly in index order,
// verifying total byte length against the declared size and the whole-file
// sha256 against the declared checksum. Chunk storage is discarded on both
// success and failure to bound disk usage.
func (asm *Assembler) Assemble(sess *Session) (artifact *Artifact, err error) {
	defer func() {
		if derr := asm.store.Discard(sess.ID); derr != nil {
			logger.Warn("清理分片目录失败",
				logger.String("sessionId", sess.ID),
				logger.ErrorField(derr))
		}
	}()

	outPath := filepath.Join(asm.workDir, sess.ID+filepath.Ext(sess.Filename))
	out, err := os.Create(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create assembly output: %w", err)
	}

	hasher := sha256.New()
	writer := io.MultiWriter(out, hasher)

	var total int64
	for i := 0; i < sess.ChunkCount; i++ {
		chunk, cerr := asm.store.OpenChunk(sess.ID, i)
		if cerr != nil {
			out.Close()
			os.Remove(outPath)
			return nil, fmt.Errorf("chunk %d missing at assembly: %w", i, cerr)
		}
		n, cerr := io.Copy(writer, chunk)
		chunk.Close()
		if cerr != nil {
			out.Close()
			os.Remove(outPath)
			return nil, fmt.Errorf("failed to copy chunk %d: %w", i, cerr)
		}
		total += n
	}

	if err := out.Close(); err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("failed to close assembled file: %w", err)
	}

	if total != sess.DeclaredSize {
		os.Remove(outPath)
		return nil, fmt.Errorf("%w: got %d bytes, declared %d", ErrSizeMismatch, total, sess.DeclaredSize)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if sum != sess.Checksum {
		os.Remove(outPath)
		return nil, fmt.Errorf("%w: computed %s", ErrChecksumMismatch, sum)
	}

	logger.Info("分片拼接完成",
		logger.String("sessionId", sess.ID),
		logger.Int64("size", total),
		logger.String("checksum", sum))

	return &Artifact{Path: outPath, Size: total, Checksum: sum}, nil
}
