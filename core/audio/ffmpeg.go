package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"soundrise/logger"
)

// 分析用的统一解码参数：单声道、22.05kHz、16位小端 PCM
const (
	analysisSampleRate = 22050
	analysisChannels   = 1
)

// FFmpegProcessor wraps ffmpeg/ffprobe invocations.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// FFmpegPath returns the configured ffmpeg binary path.
func (p *FFmpegProcessor) FFmpegPath() string {
	return p.ffmpegPath
}

// ProbeResult holds the container/stream properties ffprobe reports.
type ProbeResult struct {
	FormatName string  // e.g. "mp3", "flac", "ogg"
	CodecName  string  // first audio stream codec
	Duration   float64 // seconds
	Bitrate    int     // bits per second, 0 when not reported
	SampleRate int
	Channels   int
}

// Probe 读取音频文件的容器与流信息
func (p *FFmpegProcessor) Probe(ctx context.Context, inputFile string) (*ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "format=format_name,duration,bit_rate:stream=codec_name,sample_rate,channels",
		"-of", "json",
		inputFile,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", inputFile, err, stderr.String())
	}

	var probeData struct {
		Format struct {
			FormatName string `json:"format_name"`
			Duration   string `json:"duration"`
			BitRate    string `json:"bit_rate"`
		} `json:"format"`
		Streams []struct {
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out.Bytes(), &probeData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ffprobe output for %s: %w", inputFile, err)
	}
	if len(probeData.Streams) == 0 {
		return nil, fmt.Errorf("no audio streams found in %s", inputFile)
	}

	result := &ProbeResult{
		FormatName: probeData.Format.FormatName,
		CodecName:  probeData.Streams[0].CodecName,
		Channels:   probeData.Streams[0].Channels,
	}
	if probeData.Format.Duration != "" {
		if d, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
			result.Duration = d
		}
	}
	if probeData.Format.BitRate != "" {
		if b, err := strconv.Atoi(probeData.Format.BitRate); err == nil {
			result.Bitrate = b
		}
	}
	if probeData.Streams[0].SampleRate != "" {
		if sr, err := strconv.Atoi(probeData.Streams[0].SampleRate); err == nil {
			result.SampleRate = sr
		}
	}
	return result, nil
}

// DecodePCM 将整个音频流解码一次，输出分析用的单声道 16 位 PCM 采样。
// 返回采样数据与采样率。
func (p *FFmpegProcessor) DecodePCM(ctx context.Context, inputFile string) ([]int16, int, error) {
	args := []string{
		"-v", "error",
		"-i", inputFile,
		"-f", "s16le",
		"-ac", strconv.Itoa(analysisChannels),
		"-ar", strconv.Itoa(analysisSampleRate),
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, 0, fmt.Errorf("ffmpeg decode failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}

	raw := out.Bytes()
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return samples, analysisSampleRate, nil
}

// Transcode 将音频转码为指定编码/比特率的单文件输出
func (p *FFmpegProcessor) Transcode(ctx context.Context, inputFile, outputFile, codec, bitrate string) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"-y",
		"-i", inputFile,
		"-vn",
		"-c:a", codec,
		"-b:a", bitrate,
		outputFile,
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg transcode failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}

	logger.Debug("转码完成",
		logger.String("input", inputFile),
		logger.String("output", outputFile),
		logger.String("codec", codec),
		logger.String("bitrate", bitrate))
	return nil
}

// CutExcerpt 截取一段音频并施加淡入淡出，输出 MP3
func (p *FFmpegProcessor) CutExcerpt(ctx context.Context, inputFile, outputFile string, startSec, lengthSec, fadeSec float64, bitrate string) error {
	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	fadeOutStart := lengthSec - fadeSec
	if fadeOutStart < 0 {
		fadeOutStart = 0
	}
	afade := fmt.Sprintf("afade=t=in:st=0:d=%.3f,afade=t=out:st=%.3f:d=%.3f", fadeSec, fadeOutStart, fadeSec)

	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", startSec),
		"-t", fmt.Sprintf("%.3f", lengthSec),
		"-i", inputFile,
		"-vn",
		"-af", afade,
		"-c:a", "libmp3lame",
		"-b:a", bitrate,
		outputFile,
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg excerpt failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}
	return nil
}

// ProcessToHLS 将音频转码为 HLS（m3u8 播放列表 + TS 分片）
func (p *FFmpegProcessor) ProcessToHLS(ctx context.Context, inputFile, outputM3U8, segmentPattern, bitrate, segmentTime string) error {
	if err := os.MkdirAll(filepath.Dir(outputM3U8), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	args := []string{
		"-y",
		"-i", inputFile,
		"-vn",
		"-c:a", "aac",
		"-b:a", bitrate,
		"-hls_time", segmentTime,
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_segment_filename", segmentPattern,
		"-f", "hls",
		outputM3U8,
	}

	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg HLS transcode failed for %s: %w\nFFmpeg Error: %s", inputFile, err, stderr.String())
	}
	return nil
}
