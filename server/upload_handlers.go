package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"soundrise/core/pipeline"
	"soundrise/core/upload"
	"soundrise/logger"
	"soundrise/model"
)

// InitUploadRequest 开启分片上传会话的请求体
type InitUploadRequest struct {
	AlbumID    int64  `json:"albumId"`
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	ChunkCount int    `json:"chunkCount"`
	Checksum   string `json:"checksum"` // 整文件 sha256（hex）
}

// InitUploadHandler opens a chunked upload session against an album the
// caller owns.
func (h *APIHandler) InitUploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req InitUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	album, err := h.albumRepo.GetAlbumByID(req.AlbumID)
	if err != nil {
		logger.Error("查询专辑失败", logger.Int64("albumId", req.AlbumID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if album == nil {
		http.Error(w, "Album not found", http.StatusNotFound)
		return
	}
	if album.UserID != userID {
		http.Error(w, "Album belongs to another user", http.StatusForbidden)
		return
	}

	sess, err := h.registry.Open(userID, req.AlbumID, req.Filename, req.Size, req.ChunkCount, req.Checksum)
	if err != nil {
		http.Error(w, err.Error(), uploadErrorStatus(err))
		return
	}

	logger.Info("上传会话已创建",
		logger.String("sessionId", sess.ID),
		logger.Int64("albumId", req.AlbumID),
		logger.String("filename", req.Filename),
		logger.Int("chunkCount", req.ChunkCount))

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"sessionId":  sess.ID,
		"chunkCount": sess.ChunkCount,
		"state":      sess.State(),
	})
}

// UploadChunkHandler accepts one chunk of an open session.
// Multipart form fields: sessionId, index, chunk.
func (h *APIHandler) UploadChunkHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse multipart form: %v", err), http.StatusBadRequest)
		return
	}

	sessionID := r.FormValue("sessionId")
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		http.Error(w, "Invalid chunk index", http.StatusBadRequest)
		return
	}

	sess, err := h.registry.Get(sessionID)
	if err != nil {
		http.Error(w, err.Error(), uploadErrorStatus(err))
		return
	}
	if sess.UserID != userID {
		http.Error(w, "Session belongs to another user", http.StatusForbidden)
		return
	}
	if index < 0 || index >= sess.ChunkCount {
		http.Error(w, fmt.Sprintf("Chunk index %d out of range [0, %d)", index, sess.ChunkCount), http.StatusBadRequest)
		return
	}

	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		http.Error(w, "Missing 'chunk' in form", http.StatusBadRequest)
		return
	}
	defer chunk.Close()

	// 先落盘再登记，重复分片覆盖为最后一次写入
	if _, err := h.chunks.WriteChunk(sessionID, index, chunk); err != nil {
		logger.Error("分片写入失败",
			logger.String("sessionId", sessionID),
			logger.Int("index", index),
			logger.ErrorField(err))
		http.Error(w, "Failed to store chunk", http.StatusInternalServerError)
		return
	}

	complete, err := h.registry.RecordChunk(sessionID, index)
	if err != nil {
		http.Error(w, err.Error(), uploadErrorStatus(err))
		return
	}

	received := sess.ReceivedCount()
	h.broadcaster.Publish(model.ProgressEvent{
		SessionID: sessionID,
		Stage:     string(upload.StateReceiving),
		Progress:  float64(received) / float64(sess.ChunkCount) * 10,
		Message:   fmt.Sprintf("已接收 %d/%d 个分片", received, sess.ChunkCount),
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"received": received,
		"total":    sess.ChunkCount,
		"complete": complete,
	})
}

// CompleteUploadRequest 完成上传并提交曲目元数据
type CompleteUploadRequest struct {
	SessionID      string `json:"sessionId"`
	Title          string `json:"title"`
	TrackNumber    int    `json:"trackNumber"`
	DiscNumber     int    `json:"discNumber"`
	IsExplicit     bool   `json:"isExplicit"`
	IsInstrumental bool   `json:"isInstrumental"`
}

// CompleteUploadHandler hands a fully received session to the processing
// pipeline together with the track metadata.
func (h *APIHandler) CompleteUploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CompleteUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		http.Error(w, "Missing track title", http.StatusBadRequest)
		return
	}
	if req.TrackNumber <= 0 {
		http.Error(w, "Track number must be positive", http.StatusBadRequest)
		return
	}
	if req.DiscNumber <= 0 {
		req.DiscNumber = 1
	}

	sess, err := h.registry.Get(req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), uploadErrorStatus(err))
		return
	}
	if sess.UserID != userID {
		http.Error(w, "Session belongs to another user", http.StatusForbidden)
		return
	}

	complete, err := h.registry.IsComplete(req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), uploadErrorStatus(err))
		return
	}
	if !complete {
		http.Error(w, fmt.Sprintf("Upload incomplete: %d/%d chunks received",
			sess.ReceivedCount(), sess.ChunkCount), http.StatusConflict)
		return
	}

	// 同专辑同 (disc, track) 位置不允许重复
	existing, err := h.trackRepo.GetTrackByAlbumAndNumber(sess.AlbumID, req.DiscNumber, req.TrackNumber)
	if err != nil {
		logger.Error("查询曲目位置失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, fmt.Sprintf("Disc %d track %d already exists in this album",
			req.DiscNumber, req.TrackNumber), http.StatusConflict)
		return
	}

	job := pipeline.Job{
		Session: sess,
		Meta: pipeline.TrackMeta{
			Title:          req.Title,
			TrackNumber:    req.TrackNumber,
			DiscNumber:     req.DiscNumber,
			IsExplicit:     req.IsExplicit,
			IsInstrumental: req.IsInstrumental,
		},
	}
	if err := h.pipe.Enqueue(job); err != nil {
		http.Error(w, err.Error(), uploadErrorStatus(err))
		return
	}

	logger.Info("上传会话进入处理流水线",
		logger.String("sessionId", sess.ID),
		logger.String("title", req.Title))

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"sessionId": sess.ID,
		"state":     sess.State(),
	})
}

// CancelUploadHandler requests cancellation of an in-flight session.
// Takes effect at the next stage boundary before persistence begins.
func (h *APIHandler) CancelUploadHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sess, err := h.registry.Get(req.SessionID)
	if err != nil {
		http.Error(w, err.Error(), uploadErrorStatus(err))
		return
	}
	if sess.UserID != userID {
		http.Error(w, "Session belongs to another user", http.StatusForbidden)
		return
	}

	sess.RequestCancel()

	// 还在接收阶段的会话直接回收
	if sess.State() == upload.StateReceiving {
		sess.SetState(upload.StateCancelled)
		h.registry.Remove(sess.ID)
		if err := h.chunks.Discard(sess.ID); err != nil {
			logger.Warn("清理取消会话分片失败",
				logger.String("sessionId", sess.ID),
				logger.ErrorField(err))
		}
		h.broadcaster.Publish(model.ProgressEvent{
			SessionID: sess.ID,
			Stage:     string(upload.StateCancelled),
			Terminal:  true,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sess.ID,
		"state":     sess.State(),
	})
}
