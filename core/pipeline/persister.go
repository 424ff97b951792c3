package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"soundrise/core/audio"
	"soundrise/logger"
	"soundrise/model"
	"soundrise/repository"
)

// BlobStore 渲染版本的对象存储抽象
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// RenditionPersister 将装配好的音频转出多档渲染版本并落库。
// 存储写入失败按倍增退避重试，耗尽后整体失败。
type RenditionPersister struct {
	store      BlobStore
	renditions repository.RenditionRepository
	ff         *audio.FFmpegProcessor
	hls        *HLSProcessor

	workDir     string
	highBitrate string
	lowBitrate  string
	retries     int
	backoff     time.Duration
}

// NewRenditionPersister wires the persister with its transcode and
// storage collaborators. workDir holds intermediate transcodes and is
// cleaned per call.
func NewRenditionPersister(
	store BlobStore,
	renditions repository.RenditionRepository,
	ff *audio.FFmpegProcessor,
	hls *HLSProcessor,
	workDir, highBitrate, lowBitrate string,
	retries int,
	backoff time.Duration,
) *RenditionPersister {
	if retries < 1 {
		retries = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	return &RenditionPersister{
		store:       store,
		renditions:  renditions,
		ff:          ff,
		hls:         hls,
		workDir:     workDir,
		highBitrate: highBitrate,
		lowBitrate:  lowBitrate,
		retries:     retries,
		backoff:     backoff,
	}
}

var contentTypes = map[model.AudioFormat]string{
	model.FormatMP3:  "audio/mpeg",
	model.FormatWAV:  "audio/wav",
	model.FormatFLAC: "audio/flac",
	model.FormatAAC:  "audio/aac",
	model.FormatOGG:  "audio/ogg",
	model.FormatHLS:  "application/vnd.apple.mpegurl",
}

// PersistAll produces and stores every rendition of the track:
// the untouched original, a high-quality AAC, a low-quality MP3,
// the preview excerpt, and an HLS stream. On any terminal failure the
// offending rendition is recorded with Processed=false and the error
// is returned.
func (p *RenditionPersister) PersistAll(
	ctx context.Context,
	trackID int64,
	artifactPath string,
	previewPath string,
	meta *model.AudioMetadata,
) error {
	workDir := filepath.Join(p.workDir, fmt.Sprintf("renditions_%d", trackID))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return fmt.Errorf("创建转码目录失败: %w", err)
	}
	defer os.RemoveAll(workDir)

	// 原始文件直接透传
	originalFormat := model.AudioFormat(audio.FormatFromFilename(artifactPath))
	if err := p.persistFile(ctx, trackID, artifactPath, originalFormat, model.QualityOriginal, meta.Bitrate, meta.SampleRate, meta.Channels); err != nil {
		return err
	}

	// 高码率 AAC
	highPath := filepath.Join(workDir, "high.aac")
	if err := p.ff.Transcode(ctx, artifactPath, highPath, "aac", p.highBitrate); err != nil {
		p.recordFailure(trackID, model.FormatAAC, model.QualityHigh)
		return fmt.Errorf("高码率转码失败: %w", err)
	}
	if err := p.persistFile(ctx, trackID, highPath, model.FormatAAC, model.QualityHigh, bitrateKbps(p.highBitrate), meta.SampleRate, meta.Channels); err != nil {
		return err
	}

	// 低码率 MP3
	lowPath := filepath.Join(workDir, "low.mp3")
	if err := p.ff.Transcode(ctx, artifactPath, lowPath, "libmp3lame", p.lowBitrate); err != nil {
		p.recordFailure(trackID, model.FormatMP3, model.QualityLow)
		return fmt.Errorf("低码率转码失败: %w", err)
	}
	if err := p.persistFile(ctx, trackID, lowPath, model.FormatMP3, model.QualityLow, bitrateKbps(p.lowBitrate), meta.SampleRate, meta.Channels); err != nil {
		return err
	}

	// 预览片段（来源太短时上游不生成）
	if previewPath != "" {
		if err := p.persistFile(ctx, trackID, previewPath, model.FormatMP3, model.QualityPreview, 0, meta.SampleRate, meta.Channels); err != nil {
			return err
		}
	}

	// HLS 流：边转码边上传分片
	hlsResult, err := p.hls.Process(ctx, trackID, artifactPath, filepath.Join(workDir, "hls"))
	if err != nil {
		p.recordFailure(trackID, model.FormatHLS, model.QualityStream)
		return fmt.Errorf("HLS 处理失败: %w", err)
	}
	hlsRendition := &model.Rendition{
		TrackID:    trackID,
		Format:     model.FormatHLS,
		Quality:    model.QualityStream,
		StorageKey: hlsResult.ManifestKey,
		ByteSize:   hlsResult.TotalBytes,
		Bitrate:    bitrateKbps(p.highBitrate),
		SampleRate: meta.SampleRate,
		Channels:   meta.Channels,
		Processed:  true,
	}
	if _, err := p.renditions.SaveRendition(hlsRendition); err != nil {
		return fmt.Errorf("HLS 渲染记录保存失败: %w", err)
	}

	logger.Info("全部渲染版本已持久化",
		logger.Int64("trackId", trackID),
		logger.Int("hlsSegments", hlsResult.SegmentCount))

	return nil
}

// persistFile uploads one file with retry and records its rendition row.
func (p *RenditionPersister) persistFile(
	ctx context.Context,
	trackID int64,
	path string,
	format model.AudioFormat,
	quality model.AudioQuality,
	bitrate, sampleRate, channels int,
) error {
	checksum, size, err := fileChecksum(path)
	if err != nil {
		p.recordFailure(trackID, format, quality)
		return fmt.Errorf("读取渲染文件失败: %w", err)
	}

	key := storageKey(trackID, format, quality, filepath.Ext(path))
	if err := p.uploadWithRetry(ctx, key, path, size, contentTypes[format]); err != nil {
		p.recordFailure(trackID, format, quality)
		return err
	}

	rendition := &model.Rendition{
		TrackID:    trackID,
		Format:     format,
		Quality:    quality,
		StorageKey: key,
		ByteSize:   size,
		Checksum:   checksum,
		Bitrate:    bitrate,
		SampleRate: sampleRate,
		Channels:   channels,
		Processed:  true,
	}
	if _, err := p.renditions.SaveRendition(rendition); err != nil {
		return fmt.Errorf("渲染记录保存失败: %w", err)
	}

	logger.Debug("渲染版本已上传",
		logger.Int64("trackId", trackID),
		logger.String("format", string(format)),
		logger.String("quality", string(quality)),
		logger.Int64("bytes", size))

	return nil
}

// uploadWithRetry 存储写入，倍增退避
func (p *RenditionPersister) uploadWithRetry(ctx context.Context, key, path string, size int64, contentType string) error {
	backoff := p.backoff
	var lastErr error

	for attempt := 1; attempt <= p.retries; attempt++ {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("打开渲染文件失败: %w", err)
		}
		_, err = p.store.Put(ctx, key, f, size, contentType)
		f.Close()
		if err == nil {
			return nil
		}
		lastErr = err

		logger.Warn("存储写入失败，准备重试",
			logger.String("key", key),
			logger.Int("attempt", attempt),
			logger.ErrorField(err))

		if attempt < p.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return fmt.Errorf("%w: %s: %v", ErrStorage, key, lastErr)
}

// recordFailure 留下一条未完成记录，便于排查和重新处理
func (p *RenditionPersister) recordFailure(trackID int64, format model.AudioFormat, quality model.AudioQuality) {
	_, err := p.renditions.SaveRendition(&model.Rendition{
		TrackID:   trackID,
		Format:    format,
		Quality:   quality,
		Processed: false,
	})
	if err != nil {
		logger.Warn("失败记录写入失败",
			logger.Int64("trackId", trackID),
			logger.String("format", string(format)),
			logger.ErrorField(err))
	}
}

func storageKey(trackID int64, format model.AudioFormat, quality model.AudioQuality, ext string) string {
	return fmt.Sprintf("tracks/%d/%s_%s%s", trackID, format, quality, ext)
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// bitrateKbps parses "192k" style bitrate strings.
func bitrateKbps(s string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(s, "k"))
	if err != nil {
		return 0
	}
	return n
}
