package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"soundrise/cache"
	"soundrise/core/audio"
	"soundrise/logger"

	"github.com/fsnotify/fsnotify"
)

// HLSProcessor 边转码边上传的 HLS 处理器
// FFmpeg 输出分片 → fsnotify 监听 → WorkerPool 并行上传 → Redis/MinIO
type HLSProcessor struct {
	ff          *audio.FFmpegProcessor
	store       BlobStore
	bitrate     string
	segmentTime string
	workerCount int
}

// HLSResult HLS 处理结果
type HLSResult struct {
	ManifestKey  string
	SegmentCount int
	TotalBytes   int64
	TotalTime    time.Duration
}

type segmentTask struct {
	trackID int64
	path    string
	name    string
	isM3U8  bool
}

// NewHLSProcessor creates an HLS processor with the given upload
// concurrency. workers <= 0 picks a CPU-bound default.
func NewHLSProcessor(ff *audio.FFmpegProcessor, store BlobStore, bitrate, segmentTime string, workers int) *HLSProcessor {
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers > 8 {
			workers = 8
		}
	}
	return &HLSProcessor{
		ff:          ff,
		store:       store,
		bitrate:     bitrate,
		segmentTime: segmentTime,
		workerCount: workers,
	}
}

// Process transcodes the artifact to HLS and uploads segments as FFmpeg
// produces them instead of waiting for the full transcode.
func (p *HLSProcessor) Process(ctx context.Context, trackID int64, inputPath, tempDir string) (*HLSResult, error) {
	startTime := time.Now()

	if _, err := os.Stat(inputPath); err != nil {
		return nil, fmt.Errorf("输入文件不存在: %w", err)
	}
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}

	taskChan := make(chan *segmentTask, 100)
	var wg sync.WaitGroup
	var segmentCount int32
	var totalBytes int64

	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, taskChan, &totalBytes)
		}(i)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		close(taskChan)
		return nil, fmt.Errorf("创建文件监听器失败: %w", err)
	}
	if err := watcher.Add(tempDir); err != nil {
		watcher.Close()
		close(taskChan)
		return nil, fmt.Errorf("监听目录失败: %w", err)
	}

	processedSegments := &sync.Map{}

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		p.watchSegments(ctx, watcher, trackID, taskChan, processedSegments, &segmentCount)
	}()

	// FFmpeg 异步执行
	ffmpegDone := make(chan error, 1)
	outputM3U8 := filepath.Join(tempDir, "playlist.m3u8")
	go func() {
		segmentPattern := filepath.Join(tempDir, "segment_%03d.ts")
		ffmpegDone <- p.ff.ProcessToHLS(ctx, inputPath, outputM3U8, segmentPattern, p.bitrate, p.segmentTime)
	}()

	ffmpegErr := <-ffmpegDone

	// 给监听器一点时间处理最后的文件事件
	time.Sleep(200 * time.Millisecond)

	watcher.Close()
	<-watcherDone

	// FFmpeg 完成后的最终扫描，补上遗漏的分片
	p.processRemainingSegments(trackID, tempDir, taskChan, processedSegments, &segmentCount)

	close(taskChan)
	wg.Wait()

	if ffmpegErr != nil {
		return nil, fmt.Errorf("FFmpeg 处理失败: %w", ffmpegErr)
	}

	result := &HLSResult{
		ManifestKey:  segmentKey(trackID, "playlist.m3u8"),
		SegmentCount: int(atomic.LoadInt32(&segmentCount)),
		TotalBytes:   atomic.LoadInt64(&totalBytes),
		TotalTime:    time.Since(startTime),
	}

	logger.Info("HLS 处理完成",
		logger.Int64("trackId", trackID),
		logger.Int("segmentCount", result.SegmentCount),
		logger.Duration("totalTime", result.TotalTime))

	return result, nil
}

// watchSegments 监听新分片文件
func (p *HLSProcessor) watchSegments(
	ctx context.Context,
	watcher *fsnotify.Watcher,
	trackID int64,
	taskChan chan<- *segmentTask,
	processedSegments *sync.Map,
	segmentCount *int32,
) {
	// 文件稳定性检查的延迟队列
	pendingFiles := make(map[string]time.Time)
	checkTicker := time.NewTicker(50 * time.Millisecond)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				ext := filepath.Ext(event.Name)
				if ext == ".ts" || ext == ".m3u8" {
					pendingFiles[event.Name] = time.Now()
				}
			}

		case <-checkTicker.C:
			// 100ms 无变化视为稳定
			now := time.Now()
			for filePath, lastModTime := range pendingFiles {
				if now.Sub(lastModTime) < 100*time.Millisecond {
					continue
				}
				if p.trySendSegment(trackID, filePath, taskChan, processedSegments, segmentCount) {
					delete(pendingFiles, filePath)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("文件监听错误", logger.ErrorField(err))
		}
	}
}

// trySendSegment 投递一个稳定分片的上传任务。
// 只有投递成功才标记已处理；文件未写完或通道满时分片留在
// 待处理队列，由下一次 tick 或最终扫描补上。
func (p *HLSProcessor) trySendSegment(
	trackID int64,
	filePath string,
	taskChan chan<- *segmentTask,
	processedSegments *sync.Map,
	segmentCount *int32,
) bool {
	segmentName := filepath.Base(filePath)
	if _, done := processedSegments.Load(segmentName); done {
		return true
	}
	if !isFileComplete(filePath) {
		return false
	}

	task := &segmentTask{
		trackID: trackID,
		path:    filePath,
		name:    segmentName,
		isM3U8:  strings.HasSuffix(segmentName, ".m3u8"),
	}

	select {
	case taskChan <- task:
		processedSegments.Store(segmentName, true)
		atomic.AddInt32(segmentCount, 1)
		logger.Debug("检测到新分片",
			logger.Int64("trackId", trackID),
			logger.String("segment", segmentName))
		return true
	default:
		// 通道满了，稍后重试
		return false
	}
}

// worker 上传分片任务
func (p *HLSProcessor) worker(ctx context.Context, workerID int, taskChan <-chan *segmentTask, totalBytes *int64) {
	for task := range taskChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := os.ReadFile(task.path)
		if err != nil {
			logger.Warn("读取分片失败",
				logger.Int("worker", workerID),
				logger.String("segment", task.name),
				logger.ErrorField(err))
			continue
		}

		// Redis 和 MinIO 并行写入
		var uploadWg sync.WaitGroup
		uploadWg.Add(2)

		go func() {
			defer uploadWg.Done()
			if err := cache.SetSegmentCache(task.trackID, task.name, data); err != nil {
				logger.Warn("分片写入Redis失败",
					logger.String("segment", task.name),
					logger.ErrorField(err))
			}
		}()

		go func() {
			defer uploadWg.Done()
			p.uploadSegment(task, data)
		}()

		uploadWg.Wait()
		atomic.AddInt64(totalBytes, int64(len(data)))

		logger.Debug("分片处理完成",
			logger.Int("worker", workerID),
			logger.String("segment", task.name),
			logger.Int("size", len(data)))
	}
}

func (p *HLSProcessor) uploadSegment(task *segmentTask, data []byte) {
	contentType := "video/MP2T"
	if task.isM3U8 {
		contentType = "application/vnd.apple.mpegurl"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := segmentKey(task.trackID, task.name)
	if _, err := p.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		logger.Warn("分片上传MinIO失败",
			logger.String("segment", task.name),
			logger.ErrorField(err))
	}
}

// processRemainingSegments 处理可能遗漏的分片
func (p *HLSProcessor) processRemainingSegments(
	trackID int64,
	tempDir string,
	taskChan chan<- *segmentTask,
	processedSegments *sync.Map,
	segmentCount *int32,
) {
	files, err := filepath.Glob(filepath.Join(tempDir, "*.ts"))
	if err != nil {
		return
	}
	m3u8Files, _ := filepath.Glob(filepath.Join(tempDir, "*.m3u8"))
	files = append(files, m3u8Files...)

	for _, filePath := range files {
		segmentName := filepath.Base(filePath)
		if _, loaded := processedSegments.LoadOrStore(segmentName, true); loaded {
			continue
		}

		task := &segmentTask{
			trackID: trackID,
			path:    filePath,
			name:    segmentName,
			isM3U8:  strings.HasSuffix(segmentName, ".m3u8"),
		}

		// taskChan 尚未关闭，worker 仍在消费，阻塞投递不会丢分片
		taskChan <- task
		atomic.AddInt32(segmentCount, 1)
	}
}

// isFileComplete 检查文件是否写入完成
func isFileComplete(path string) bool {
	info1, err := os.Stat(path)
	if err != nil || info1.Size() == 0 {
		return false
	}

	time.Sleep(30 * time.Millisecond)

	info2, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info1.Size() == info2.Size()
}

func segmentKey(trackID int64, name string) string {
	return fmt.Sprintf("tracks/%d/hls/%s", trackID, name)
}
