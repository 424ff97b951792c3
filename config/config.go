package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Values come from environment variables (optionally via a .env file) with
// simple defaults suitable for local development.
type Config struct {
	ServerAddr string

	FFmpegPath  string
	FFprobePath string

	// 上传限制
	ChunkUploadDir  string // scratch directory holding per-session chunk dirs
	MaxFileSize     int64  // bytes, declared size above this is rejected
	MaxChunkCount   int
	SessionTTL      time.Duration // inactivity timeout for receiving sessions
	ExpiryInterval  time.Duration // how often stale sessions are swept
	PipelineWorkers int           // concurrent processing pipelines

	// 音频处理参数
	WaveformPoints int           // fixed length of the loudness waveform
	PreviewMaxLen  time.Duration // preview excerpt cap
	PreviewMinSrc  time.Duration // sources shorter than this get no preview
	PreviewBitrate string        // e.g. "128k"
	HighBitrate    string        // AAC high-tier bitrate, e.g. "192k"
	LowBitrate     string        // MP3 low-tier bitrate
	HLSSegmentTime string
	StageTimeout   time.Duration // soft timeout for analysis/persistence stages
	PersistRetries int           // bounded retries on storage failure
	PersistBackoff time.Duration // initial backoff, doubled per attempt

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	JWTSecret string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvInt64 gets an environment variable as int64 or returns a default value.
func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvSeconds gets an environment variable as a duration expressed in seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	uploadBase := getEnv("UPLOAD_DIR", "uploads")

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		FFmpegPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath: getEnv("FFPROBE_PATH", "ffprobe"),

		ChunkUploadDir:  filepath.Join(uploadBase, "chunks"),
		MaxFileSize:     getEnvInt64("MAX_FILE_SIZE", 500*1024*1024),
		MaxChunkCount:   getEnvInt("MAX_CHUNK_COUNT", 4096),
		SessionTTL:      getEnvSeconds("SESSION_TTL", 30*time.Minute),
		ExpiryInterval:  getEnvSeconds("EXPIRY_INTERVAL", time.Minute),
		PipelineWorkers: getEnvInt("PIPELINE_WORKERS", 4),

		WaveformPoints: getEnvInt("WAVEFORM_POINTS", 1000),
		PreviewMaxLen:  getEnvSeconds("PREVIEW_MAX_SECONDS", 30*time.Second),
		PreviewMinSrc:  getEnvSeconds("PREVIEW_MIN_SOURCE_SECONDS", 10*time.Second),
		PreviewBitrate: getEnv("PREVIEW_BITRATE", "128k"),
		HighBitrate:    getEnv("HIGH_BITRATE", "192k"),
		LowBitrate:     getEnv("LOW_BITRATE", "128k"),
		HLSSegmentTime: getEnv("HLS_SEGMENT_TIME", "4"),
		StageTimeout:   getEnvSeconds("STAGE_TIMEOUT", 5*time.Minute),
		PersistRetries: getEnvInt("PERSIST_RETRIES", 3),
		PersistBackoff: getEnvSeconds("PERSIST_BACKOFF", time.Second),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:     getEnv("DB_NAME", "soundrise"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "soundrise"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-do-not-use-in-prod"),
	}
}
