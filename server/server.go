package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"soundrise/cache"
	"soundrise/config"
	"soundrise/core/audio"
	"soundrise/core/auth"
	"soundrise/core/pipeline"
	"soundrise/core/upload"
	"soundrise/db"
	"soundrise/logger"
	"soundrise/model"
	"soundrise/repository"
	"soundrise/storage"

	"github.com/gorilla/mux"
)

// Start initializes dependencies and runs the HTTP server until interrupted.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: "logs/soundrise.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	})
	defer logger.Sync()

	auth.SetSecret(cfg.JWTSecret)

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("MinIO初始化失败", logger.ErrorField(err))
	}
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("数据库连接失败", logger.ErrorField(err))
	}
	defer db.DB.Close()
	if err := db.InitDB(); err != nil {
		logger.Fatal("数据库初始化失败", logger.ErrorField(err))
	}
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("GORM连接失败", logger.ErrorField(err))
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.Rendition{}); err != nil {
		logger.Fatal("渲染表迁移失败", logger.ErrorField(err))
	}
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Fatal("Redis连接失败", logger.ErrorField(err))
	}
	defer db.CloseRedis()

	ensureDirExists(cfg.ChunkUploadDir)
	assemblyDir := filepath.Join(filepath.Dir(cfg.ChunkUploadDir), "assembly")
	previewDir := filepath.Join(filepath.Dir(cfg.ChunkUploadDir), "previews")
	ensureDirExists(assemblyDir)
	ensureDirExists(previewDir)

	trackRepo := repository.NewMySQLTrackRepository()
	albumRepo := repository.NewMySQLAlbumRepository()
	renditionRepo := repository.NewGormRenditionRepository(db.GormDB)

	blobStore := storage.NewMinioStore(storage.GetMinioClient(), cfg.MinioBucket)
	ffmpeg := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	analyzer := audio.NewAnalyzer(ffmpeg, cfg.WaveformPoints)
	previews := audio.NewPreviewGenerator(ffmpeg,
		cfg.PreviewMaxLen.Seconds(), cfg.PreviewMinSrc.Seconds(), cfg.PreviewBitrate, previewDir)

	registry := upload.NewRegistry(cfg.MaxFileSize, cfg.MaxChunkCount, cfg.SessionTTL)
	chunkStore, err := upload.NewChunkStore(cfg.ChunkUploadDir)
	if err != nil {
		logger.Fatal("分片存储初始化失败", logger.ErrorField(err))
	}
	assembler, err := upload.NewAssembler(chunkStore, assemblyDir)
	if err != nil {
		logger.Fatal("拼接器初始化失败", logger.ErrorField(err))
	}

	broadcaster := pipeline.NewBroadcaster()
	hlsProcessor := pipeline.NewHLSProcessor(ffmpeg, blobStore, cfg.HighBitrate, cfg.HLSSegmentTime, 0)
	persister := pipeline.NewRenditionPersister(blobStore, renditionRepo, ffmpeg, hlsProcessor,
		assemblyDir, cfg.HighBitrate, cfg.LowBitrate, cfg.PersistRetries, cfg.PersistBackoff)

	pipe := pipeline.NewPipeline(registry, chunkStore, assembler, analyzer, previews, persister,
		trackRepo, broadcaster, cfg.StageTimeout)
	pipe.Start(cfg.PipelineWorkers)

	// 过期会话清扫
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.ExpiryInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pipe.SweepExpired()
			case <-sweepStop:
				return
			}
		}
	}()

	apiHandler := NewAPIHandler(registry, chunkStore, pipe, broadcaster,
		trackRepo, albumRepo, renditionRepo, blobStore, cfg)

	router := mux.NewRouter()

	// CORS
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// 分片上传
	router.HandleFunc("/api/upload/init", apiHandler.AuthMiddleware(apiHandler.InitUploadHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/upload/chunk", apiHandler.AuthMiddleware(apiHandler.UploadChunkHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/upload/complete", apiHandler.AuthMiddleware(apiHandler.CompleteUploadHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/upload/cancel", apiHandler.AuthMiddleware(apiHandler.CancelUploadHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/upload/status/{session_id}", apiHandler.AuthMiddleware(apiHandler.UploadStatusHandler)).Methods(http.MethodGet)
	router.HandleFunc("/ws/upload/progress/{session_id}", apiHandler.ProgressWebSocketHandler).Methods(http.MethodGet)

	// 专辑
	router.HandleFunc("/api/albums", apiHandler.AuthMiddleware(apiHandler.CreateAlbumHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/albums", apiHandler.AuthMiddleware(apiHandler.GetUserAlbumsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/albums/{id}", apiHandler.AuthMiddleware(apiHandler.GetAlbumHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/albums/{id}/publish", apiHandler.AuthMiddleware(apiHandler.PublishAlbumHandler)).Methods(http.MethodPost)

	// 曲目
	router.HandleFunc("/api/tracks", apiHandler.AuthMiddleware(apiHandler.GetUserTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}/status", apiHandler.AuthMiddleware(apiHandler.TrackStatusHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}/waveform", apiHandler.TrackWaveformHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}", apiHandler.AuthMiddleware(apiHandler.DeleteTrackHandler)).Methods(http.MethodDelete)

	// MinIO 对象直出（渲染版本与 HLS 分片）
	router.PathPrefix("/media/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		objectKey := strings.TrimPrefix(r.URL.Path, "/media/")

		// HLS 分片先查 Redis 热缓存
		if trackID, segment, ok := parseSegmentKey(objectKey); ok {
			if data, err := cache.GetSegmentCache(trackID, segment); err == nil && data != nil {
				w.Header().Set("Content-Type", segmentContentType(segment))
				w.Header().Set("Cache-Control", "public, max-age=31536000")
				w.Write(data)
				return
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		object, err := blobStore.Get(ctx, objectKey)
		if err != nil {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		defer object.Close()

		var contentType string
		switch {
		case strings.HasSuffix(objectKey, ".m3u8"):
			contentType = "application/vnd.apple.mpegurl"
		case strings.HasSuffix(objectKey, ".ts"):
			contentType = "video/MP2T"
		case strings.HasSuffix(objectKey, ".mp3"):
			contentType = "audio/mpeg"
		case strings.HasSuffix(objectKey, ".aac"):
			contentType = "audio/aac"
		default:
			contentType = "application/octet-stream"
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=31536000")

		if _, err := io.Copy(w, object); err != nil {
			logger.Warn("对象传输中断", logger.String("key", objectKey), logger.ErrorField(err))
		}
	})

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("服务启动", logger.String("addr", cfg.ServerAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务启动失败", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("收到退出信号，开始优雅关闭")

	// 先拒绝新会话，再排空流水线，最后关 HTTP
	registry.Close()
	close(sweepStop)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 60*time.Second)
	if err := pipe.Shutdown(drainCtx); err != nil {
		logger.Warn("流水线排空未完成", logger.ErrorField(err))
	}
	drainCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Fatal("服务强制关闭", logger.ErrorField(err))
	}

	logger.Info("服务已停止")
}

func ensureDirExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			logger.Fatal("创建目录失败", logger.String("path", path), logger.ErrorField(err))
		}
	} else if err != nil {
		logger.Fatal("检查目录失败", logger.String("path", path), logger.ErrorField(err))
	}
}

// parseSegmentKey 匹配 tracks/{id}/hls/{segment} 形式的对象键。
func parseSegmentKey(objectKey string) (int64, string, bool) {
	parts := strings.Split(objectKey, "/")
	if len(parts) != 4 || parts[0] != "tracks" || parts[2] != "hls" {
		return 0, "", false
	}
	trackID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || parts[3] == "" {
		return 0, "", false
	}
	return trackID, parts[3], true
}

func segmentContentType(name string) string {
	if strings.HasSuffix(name, ".m3u8") {
		return "application/vnd.apple.mpegurl"
	}
	return "video/MP2T"
}
