package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"soundrise/logger"
)

// PreviewGenerator 截取曲目片段生成试听预览
type PreviewGenerator struct {
	ff      *FFmpegProcessor
	maxLen  float64
	minSrc  float64
	bitrate string
	outDir  string
}

// NewPreviewGenerator creates a generator writing previews under outDir.
// maxLen bounds the preview length and minSrc is the shortest source that
// still earns a preview, both in seconds.
func NewPreviewGenerator(ff *FFmpegProcessor, maxLen, minSrc float64, bitrate, outDir string) *PreviewGenerator {
	return &PreviewGenerator{ff: ff, maxLen: maxLen, minSrc: minSrc, bitrate: bitrate, outDir: outDir}
}

// MakePreview cuts an MP3 excerpt out of the artifact. When startOffset is
// nil the excerpt starts a quarter of the way in, pulled back so a full
// preview still fits. Returns ErrTooShort when the source is below the
// minimum length.
func (p *PreviewGenerator) MakePreview(ctx context.Context, artifactPath string, duration float64, startOffset *float64) (string, error) {
	if duration < p.minSrc {
		return "", fmt.Errorf("%w: %.2fs source, need at least %.2fs", ErrTooShort, duration, p.minSrc)
	}

	var start float64
	if startOffset != nil {
		start = *startOffset
	} else {
		start = duration * 0.25
		if start+p.maxLen > duration {
			start = duration - p.maxLen
		}
	}
	if start < 0 {
		start = 0
	}
	if start >= duration {
		return "", fmt.Errorf("%w: start offset %.2fs beyond %.2fs source", ErrTooShort, start, duration)
	}

	length := math.Min(p.maxLen, duration-start)
	fade := math.Min(0.5, length/10)

	if err := os.MkdirAll(p.outDir, 0755); err != nil {
		return "", fmt.Errorf("创建预览目录失败: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(artifactPath), filepath.Ext(artifactPath))
	outPath := filepath.Join(p.outDir, base+"_preview.mp3")

	if err := p.ff.CutExcerpt(ctx, artifactPath, outPath, start, length, fade, p.bitrate); err != nil {
		return "", fmt.Errorf("生成预览失败: %w", err)
	}

	logger.Debug("预览生成完成",
		logger.String("output", outPath),
		logger.Float64("start", start),
		logger.Float64("length", length))

	return outPath, nil
}
