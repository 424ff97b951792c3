package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"soundrise/cache"
	"soundrise/core/audio"
	"soundrise/core/upload"
	"soundrise/logger"
	"soundrise/model"
	"soundrise/repository"
)

// TrackMeta 上传完成请求中携带的曲目元数据
type TrackMeta struct {
	Title          string
	TrackNumber    int
	DiscNumber     int
	IsExplicit     bool
	IsInstrumental bool
}

// Job 一次完整上传的处理任务
type Job struct {
	Session *upload.Session
	Meta    TrackMeta
}

// Pipeline 上传后处理流水线：拼接 → 校验 → 分析 → 预览 → 持久化。
// 固定 worker 池消费任务，每个阶段开始时广播一次进度，
// 持久化开始前的每个阶段边界都检查取消请求。
type Pipeline struct {
	registry    *upload.Registry
	chunks      *upload.ChunkStore
	assembler   *upload.Assembler
	analyzer    *audio.Analyzer
	previews    *audio.PreviewGenerator
	persister   *RenditionPersister
	tracks      repository.TrackRepository
	broadcaster *Broadcaster

	stageTimeout time.Duration

	jobs    chan Job
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	started bool
}

// NewPipeline wires the pipeline. Call Start before Enqueue.
func NewPipeline(
	registry *upload.Registry,
	chunks *upload.ChunkStore,
	assembler *upload.Assembler,
	analyzer *audio.Analyzer,
	previews *audio.PreviewGenerator,
	persister *RenditionPersister,
	tracks repository.TrackRepository,
	broadcaster *Broadcaster,
	stageTimeout time.Duration,
) *Pipeline {
	if stageTimeout <= 0 {
		stageTimeout = 5 * time.Minute
	}
	return &Pipeline{
		registry:     registry,
		chunks:       chunks,
		assembler:    assembler,
		analyzer:     analyzer,
		previews:     previews,
		persister:    persister,
		tracks:       tracks,
		broadcaster:  broadcaster,
		stageTimeout: stageTimeout,
		jobs:         make(chan Job, 64),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 4
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.process(job)
			}
			logger.Debug("流水线 worker 退出", logger.Int("worker", id))
		}(i)
	}
	logger.Info("处理流水线已启动", logger.Int("workers", workers))
}

// Enqueue claims the session and submits a job. A session is accepted at most
// once: a retried finalize gets ErrConflict. Fails with ErrShuttingDown after
// Shutdown began and ErrQueueFull when the queue has no room.
func (p *Pipeline) Enqueue(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return upload.ErrShuttingDown
	}
	if err := job.Session.MarkQueued(); err != nil {
		return err
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		job.Session.UnmarkQueued()
		return ErrQueueFull
	}
}

// Shutdown stops intake and waits for in-flight jobs to drain, up to
// the context deadline.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("处理流水线已排空")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("流水线排空超时: %w", ctx.Err())
	}
}

// stage progress checkpoints, broadcast at stage entry
var stageProgress = map[upload.State]float64{
	upload.StateAssembling:        10,
	upload.StateValidating:        25,
	upload.StateAnalyzing:         40,
	upload.StatePreviewGenerating: 65,
	upload.StatePersisting:        80,
}

func (p *Pipeline) process(job Job) {
	sess := job.Session

	// 执行权只发放一次，重复投递的任务直接丢弃
	if !sess.BeginProcessing() {
		logger.Warn("会话已在处理中，忽略重复任务", logger.String("sessionId", sess.ID))
		return
	}

	var (
		artifact *upload.Artifact
		trackID  int64
	)

	defer func() {
		artifact.Discard()
		if err := p.chunks.Discard(sess.ID); err != nil {
			logger.Warn("清理会话分片失败",
				logger.String("sessionId", sess.ID),
				logger.ErrorField(err))
		}
		p.registry.Remove(sess.ID)
	}()

	fail := func(stage upload.State, err error) {
		logger.Warn("上传处理失败",
			logger.String("sessionId", sess.ID),
			logger.String("stage", string(stage)),
			logger.ErrorField(err))
		if trackID != 0 {
			if uerr := p.tracks.UpdateTrackStatus(trackID, model.TrackStatusFailed); uerr != nil {
				logger.Warn("标记曲目失败状态出错", logger.ErrorField(uerr))
			}
		}
		sess.SetState(upload.StateFailed)
		p.broadcaster.Publish(model.ProgressEvent{
			SessionID: sess.ID,
			Stage:     string(upload.StateFailed),
			Progress:  stageProgress[stage],
			Error:     err.Error(),
			Terminal:  true,
			TrackID:   trackID,
		})
	}

	// 取消检查点：持久化开始前有效
	cancelled := func() bool {
		if !sess.CancelRequested() {
			return false
		}
		logger.Info("上传处理取消", logger.String("sessionId", sess.ID))
		if trackID != 0 {
			if derr := p.tracks.DeleteTrack(trackID); derr != nil {
				logger.Warn("取消后删除曲目失败", logger.ErrorField(derr))
			}
		}
		sess.SetState(upload.StateCancelled)
		p.broadcaster.Publish(model.ProgressEvent{
			SessionID: sess.ID,
			Stage:     string(upload.StateCancelled),
			Terminal:  true,
		})
		return true
	}

	enter := func(stage upload.State, message string) {
		sess.SetState(stage)
		p.broadcaster.Publish(model.ProgressEvent{
			SessionID: sess.ID,
			Stage:     string(stage),
			Progress:  stageProgress[stage],
			Message:   message,
		})
	}

	// 拼接
	if cancelled() {
		return
	}
	enter(upload.StateAssembling, "正在拼接分片")
	artifact, err := p.assembler.Assemble(sess)
	if err != nil {
		fail(upload.StateAssembling, err)
		return
	}

	// 校验
	if cancelled() {
		return
	}
	enter(upload.StateValidating, "正在校验文件")
	format := audio.FormatFromFilename(sess.Filename)
	if !audio.SupportedFormats[format] {
		fail(upload.StateValidating, fmt.Errorf("%w: %q", audio.ErrUnsupportedFormat, format))
		return
	}

	// 分析
	if cancelled() {
		return
	}
	enter(upload.StateAnalyzing, "正在分析音频")
	ctx, cancel := context.WithTimeout(context.Background(), p.stageTimeout)
	meta, err := p.analyzer.Analyze(ctx, artifact.Path, sess.Filename)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: analyzing", ErrStageTimeout)
		}
		fail(upload.StateAnalyzing, err)
		return
	}

	waveformJSON, err := json.Marshal(meta.Waveform)
	if err != nil {
		fail(upload.StateAnalyzing, fmt.Errorf("波形序列化失败: %w", err))
		return
	}

	track := &model.Track{
		AlbumID:        sess.AlbumID,
		UserID:         sess.UserID,
		Title:          job.Meta.Title,
		TrackNumber:    job.Meta.TrackNumber,
		DiscNumber:     job.Meta.DiscNumber,
		IsExplicit:     job.Meta.IsExplicit,
		IsInstrumental: job.Meta.IsInstrumental,
		Status:         model.TrackStatusProcessing,
	}
	trackID, err = p.tracks.CreateTrack(track)
	if err != nil {
		fail(upload.StateAnalyzing, fmt.Errorf("创建曲目失败: %w", err))
		return
	}
	if err := p.tracks.UpdateTrackAnalysis(trackID, meta, string(waveformJSON)); err != nil {
		fail(upload.StateAnalyzing, fmt.Errorf("保存分析结果失败: %w", err))
		return
	}
	if err := cache.SetWaveformCache(trackID, meta.Waveform); err != nil {
		logger.Warn("波形缓存失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
	}

	// 预览
	if cancelled() {
		return
	}
	enter(upload.StatePreviewGenerating, "正在生成预览")
	var previewPath string
	ctx, cancel = context.WithTimeout(context.Background(), p.stageTimeout)
	previewPath, err = p.previews.MakePreview(ctx, artifact.Path, meta.Duration, nil)
	cancel()
	if err != nil {
		if errors.Is(err, audio.ErrTooShort) {
			// 源太短，跳过预览
			logger.Debug("跳过预览生成",
				logger.String("sessionId", sess.ID),
				logger.Float64("duration", meta.Duration))
			previewPath = ""
		} else {
			fail(upload.StatePreviewGenerating, err)
			return
		}
	}

	// 持久化：此后不再响应取消
	if cancelled() {
		return
	}
	enter(upload.StatePersisting, "正在持久化渲染版本")
	ctx, cancel = context.WithTimeout(context.Background(), p.stageTimeout)
	err = p.persister.PersistAll(ctx, trackID, artifact.Path, previewPath, meta)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: persisting", ErrStageTimeout)
		}
		fail(upload.StatePersisting, err)
		return
	}

	if err := p.tracks.UpdateTrackStatus(trackID, model.TrackStatusCompleted); err != nil {
		fail(upload.StatePersisting, fmt.Errorf("标记曲目完成失败: %w", err))
		return
	}

	sess.SetState(upload.StateCompleted)
	p.broadcaster.Publish(model.ProgressEvent{
		SessionID: sess.ID,
		Stage:     string(upload.StateCompleted),
		Progress:  100,
		Message:   "处理完成",
		Terminal:  true,
		TrackID:   trackID,
	})

	logger.Info("上传处理完成",
		logger.String("sessionId", sess.ID),
		logger.Int64("trackId", trackID))
}

// SweepExpired expires stale receiving sessions, discarding their chunks
// and broadcasting a terminal failure. Meant to run on a ticker.
func (p *Pipeline) SweepExpired() {
	for _, sess := range p.registry.ExpireStale(time.Now()) {
		if err := p.chunks.Discard(sess.ID); err != nil {
			logger.Warn("清理过期会话分片失败",
				logger.String("sessionId", sess.ID),
				logger.ErrorField(err))
		}
		p.broadcaster.Publish(model.ProgressEvent{
			SessionID: sess.ID,
			Stage:     string(upload.StateFailed),
			Error:     upload.ErrExpired.Error(),
			Terminal:  true,
		})
		logger.Info("过期会话已回收", logger.String("sessionId", sess.ID))
	}
}
