package server

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"soundrise/logger"
	"soundrise/model"

	"github.com/gorilla/mux"
)

// CreateAlbumRequest 创建专辑的请求体
type CreateAlbumRequest struct {
	Title       string `json:"title"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
	ReleaseDate string `json:"releaseDate"` // YYYY-MM-DD, optional
}

// CreateAlbumHandler creates an empty unpublished album for the caller.
func (h *APIHandler) CreateAlbumHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateAlbumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "Album title is required", http.StatusBadRequest)
		return
	}

	releaseDate := time.Now()
	if req.ReleaseDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ReleaseDate)
		if err != nil {
			http.Error(w, "Invalid release date, expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		releaseDate = parsed
	}

	album := &model.Album{
		UserID:      userID,
		Title:       req.Title,
		Genre:       req.Genre,
		Description: sql.NullString{String: req.Description, Valid: req.Description != ""},
		ReleaseDate: releaseDate,
	}

	albumID, err := h.albumRepo.CreateAlbum(album)
	if err != nil {
		logger.Error("创建专辑失败", logger.ErrorField(err))
		http.Error(w, "Failed to create album", http.StatusInternalServerError)
		return
	}
	album.ID = albumID

	writeJSON(w, http.StatusCreated, album)
}

// GetUserAlbumsHandler lists the caller's albums.
func (h *APIHandler) GetUserAlbumsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	albums, err := h.albumRepo.GetAlbumsByUserID(userID)
	if err != nil {
		logger.Error("查询用户专辑失败", logger.Int64("userId", userID), logger.ErrorField(err))
		http.Error(w, "Failed to list albums", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"albums": albums})
}

// GetAlbumHandler returns one album with its tracks.
func (h *APIHandler) GetAlbumHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	albumID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid album ID", http.StatusBadRequest)
		return
	}

	album, err := h.albumRepo.GetAlbumByID(albumID)
	if err != nil {
		logger.Error("查询专辑失败", logger.Int64("albumId", albumID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if album == nil {
		http.Error(w, "Album not found", http.StatusNotFound)
		return
	}
	if album.UserID != userID && !album.IsPublished {
		http.Error(w, "Album belongs to another user", http.StatusForbidden)
		return
	}

	tracks, err := h.trackRepo.GetTracksByAlbumID(albumID)
	if err != nil {
		logger.Error("查询专辑曲目失败", logger.Int64("albumId", albumID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, model.AlbumWithTracks{Album: *album, Tracks: tracks})
}

// PublishAlbumHandler marks an album published. An album needs at least
// one completed track before it can go public.
func (h *APIHandler) PublishAlbumHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	albumID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid album ID", http.StatusBadRequest)
		return
	}

	owned, err := h.albumRepo.IsAlbumOwnedBy(albumID, userID)
	if err != nil {
		logger.Error("校验专辑归属失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !owned {
		http.Error(w, "Album not found or belongs to another user", http.StatusForbidden)
		return
	}

	count, err := h.trackRepo.CountTracksByAlbumID(albumID)
	if err != nil {
		logger.Error("统计专辑曲目失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if count == 0 {
		http.Error(w, "Cannot publish an empty album", http.StatusConflict)
		return
	}

	if err := h.albumRepo.PublishAlbum(albumID); err != nil {
		logger.Error("发布专辑失败", logger.Int64("albumId", albumID), logger.ErrorField(err))
		http.Error(w, "Failed to publish album", http.StatusInternalServerError)
		return
	}

	logger.Info("专辑已发布", logger.Int64("albumId", albumID), logger.Int("trackCount", count))
	writeJSON(w, http.StatusOK, map[string]interface{}{"albumId": albumID, "published": true})
}
