package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"soundrise/logger"
	"soundrise/model"
)

// SupportedFormats 允许上传的容器格式
var SupportedFormats = map[string]bool{
	"mp3":  true,
	"wav":  true,
	"flac": true,
	"aac":  true,
	"ogg":  true,
}

// FormatFromFilename returns the lowercase extension without the dot.
func FormatFromFilename(filename string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
}

// Analyzer derives playback metadata from an assembled artifact.
type Analyzer struct {
	ff             *FFmpegProcessor
	waveformPoints int
}

// NewAnalyzer creates an Analyzer producing waveforms of the given length.
func NewAnalyzer(ff *FFmpegProcessor, waveformPoints int) *Analyzer {
	return &Analyzer{ff: ff, waveformPoints: waveformPoints}
}

// Analyze decodes the artifact once and extracts duration, sample rate,
// channel count, bitrate, a best-effort tempo and key estimate, and the
// fixed-length loudness waveform.
// Fails with ErrUnsupportedFormat for containers outside the supported set
// and ErrCorruptFile when the artifact cannot be decoded.
func (a *Analyzer) Analyze(ctx context.Context, artifactPath, declaredFilename string) (*model.AudioMetadata, error) {
	format := FormatFromFilename(declaredFilename)
	if !SupportedFormats[format] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	probe, err := a.ff.Probe(ctx, artifactPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}

	samples, sampleRate, err := a.ff.DecodePCM(ctx, artifactPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFile, err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: decoded stream is empty", ErrCorruptFile)
	}

	duration := probe.Duration
	if duration <= 0 {
		duration = float64(len(samples)) / float64(sampleRate)
	}

	meta := &model.AudioMetadata{
		Format:     format,
		Duration:   duration,
		SampleRate: probe.SampleRate,
		Channels:   probe.Channels,
		Bitrate:    probe.Bitrate,
		Tempo:      EstimateTempo(samples, sampleRate),
		Key:        EstimateKey(samples, sampleRate),
		Waveform:   ComputeWaveform(samples, a.waveformPoints),
	}

	logger.Info("音频分析完成",
		logger.String("artifact", artifactPath),
		logger.Float64("duration", meta.Duration),
		logger.Int("sampleRate", meta.SampleRate),
		logger.Int("channels", meta.Channels),
		logger.Bool("tempoFound", meta.Tempo != nil),
		logger.Bool("keyFound", meta.Key != nil))

	return meta, nil
}
