package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"soundrise/config"
	"soundrise/core/auth"
	"soundrise/core/pipeline"
	"soundrise/core/upload"
	"soundrise/logger"
	"soundrise/repository"
)

// APIHandler 处理所有API请求
type APIHandler struct {
	registry      *upload.Registry
	chunks        *upload.ChunkStore
	pipe          *pipeline.Pipeline
	broadcaster   *pipeline.Broadcaster
	trackRepo     repository.TrackRepository
	albumRepo     repository.AlbumRepository
	renditionRepo repository.RenditionRepository
	blobs         pipeline.BlobStore
	cfg           *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(
	registry *upload.Registry,
	chunks *upload.ChunkStore,
	pipe *pipeline.Pipeline,
	broadcaster *pipeline.Broadcaster,
	trackRepo repository.TrackRepository,
	albumRepo repository.AlbumRepository,
	renditionRepo repository.RenditionRepository,
	blobs pipeline.BlobStore,
	cfg *config.Config,
) *APIHandler {
	return &APIHandler{
		registry:      registry,
		chunks:        chunks,
		pipe:          pipe,
		broadcaster:   broadcaster,
		trackRepo:     trackRepo,
		albumRepo:     albumRepo,
		renditionRepo: renditionRepo,
		blobs:         blobs,
		cfg:           cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("响应编码失败", logger.ErrorField(err))
	}
}

// uploadErrorStatus maps upload session errors to HTTP status codes.
func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, upload.ErrValidation), errors.Is(err, upload.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrConflict), errors.Is(err, upload.ErrNotReceiving):
		return http.StatusConflict
	case errors.Is(err, upload.ErrExpired):
		return http.StatusGone
	case errors.Is(err, upload.ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrShuttingDown), errors.Is(err, pipeline.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ParseToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		ctx = context.WithValue(ctx, usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

type contextKey string

const (
	userIDKey   contextKey = "userID"
	usernameKey contextKey = "username"
)

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(userIDKey).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}
