package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"soundrise/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBlobStore 前 failures 次 Put 失败，之后成功
type flakyBlobStore struct {
	failures int
	puts     int
	keys     []string
}

func (s *flakyBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	s.puts++
	if s.puts <= s.failures {
		return "", errors.New("connection reset")
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", err
	}
	s.keys = append(s.keys, key)
	return key, nil
}

func (s *flakyBlobStore) Delete(ctx context.Context, key string) error { return nil }

type memRenditionRepo struct {
	saved []*model.Rendition
}

func (m *memRenditionRepo) SaveRendition(r *model.Rendition) (*model.Rendition, error) {
	m.saved = append(m.saved, r)
	return r, nil
}

func (m *memRenditionRepo) GetRendition(trackID int64, format model.AudioFormat, quality model.AudioQuality) (*model.Rendition, error) {
	return nil, nil
}

func (m *memRenditionRepo) ListByTrackID(trackID int64) ([]*model.Rendition, error) {
	return m.saved, nil
}

func (m *memRenditionRepo) DeleteByTrackID(trackID int64) error { return nil }

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rendition.mp3")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func newTestPersister(store BlobStore, repo *memRenditionRepo, retries int) *RenditionPersister {
	return NewRenditionPersister(store, repo, nil, nil, "", "192k", "128k", retries, time.Millisecond)
}

func TestPersistFileRecordsChecksumAndSize(t *testing.T) {
	store := &flakyBlobStore{}
	repo := &memRenditionRepo{}
	p := newTestPersister(store, repo, 3)

	content := []byte("pretend this is mp3 audio")
	path := writeTempFile(t, content)

	err := p.persistFile(context.Background(), 7, path, model.FormatMP3, model.QualityLow, 128, 44100, 2)
	require.NoError(t, err)

	require.Len(t, repo.saved, 1)
	r := repo.saved[0]
	assert.Equal(t, int64(7), r.TrackID)
	assert.Equal(t, model.FormatMP3, r.Format)
	assert.Equal(t, model.QualityLow, r.Quality)
	assert.Equal(t, int64(len(content)), r.ByteSize)
	assert.True(t, r.Processed)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), r.Checksum)

	require.Len(t, store.keys, 1)
	assert.Equal(t, "tracks/7/mp3_low.mp3", store.keys[0])
}

func TestPersistFileRetriesTransientStorageFailures(t *testing.T) {
	store := &flakyBlobStore{failures: 2}
	repo := &memRenditionRepo{}
	p := newTestPersister(store, repo, 3)

	path := writeTempFile(t, []byte("audio"))

	err := p.persistFile(context.Background(), 1, path, model.FormatAAC, model.QualityHigh, 192, 44100, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, store.puts)
	require.Len(t, repo.saved, 1)
	assert.True(t, repo.saved[0].Processed)
}

func TestPersistFileFailsAfterRetriesExhausted(t *testing.T) {
	store := &flakyBlobStore{failures: 100}
	repo := &memRenditionRepo{}
	p := newTestPersister(store, repo, 3)

	path := writeTempFile(t, []byte("audio"))

	err := p.persistFile(context.Background(), 1, path, model.FormatMP3, model.QualityOriginal, 0, 44100, 2)
	require.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, 3, store.puts)

	// 留下未完成记录
	require.Len(t, repo.saved, 1)
	assert.False(t, repo.saved[0].Processed)
}

func TestPersistFileStopsOnCancelledContext(t *testing.T) {
	store := &flakyBlobStore{failures: 100}
	repo := &memRenditionRepo{}
	p := newTestPersister(store, repo, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := writeTempFile(t, []byte("audio"))
	err := p.persistFile(ctx, 1, path, model.FormatMP3, model.QualityOriginal, 0, 44100, 2)
	require.Error(t, err)
	assert.Less(t, store.puts, 5, "cancelled context should cut retries short")
}

func TestBitrateKbps(t *testing.T) {
	assert.Equal(t, 192, bitrateKbps("192k"))
	assert.Equal(t, 128, bitrateKbps("128k"))
	assert.Equal(t, 0, bitrateKbps("bogus"))
}
