package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"soundrise/cache"
	"soundrise/logger"

	"github.com/gorilla/mux"
)

// GetUserTracksHandler lists every track owned by the caller.
func (h *APIHandler) GetUserTracksHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	tracks, err := h.trackRepo.GetAllTracksByUserID(userID)
	if err != nil {
		logger.Error("查询用户曲目失败", logger.Int64("userId", userID), logger.ErrorField(err))
		http.Error(w, "Failed to list tracks", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
}

// TrackStatusHandler reports a track's processing status and its
// persisted renditions.
func (h *APIHandler) TrackStatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	trackID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	track, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		logger.Error("查询曲目失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}
	if track.UserID != userID {
		http.Error(w, "Track belongs to another user", http.StatusForbidden)
		return
	}

	renditions, err := h.renditionRepo.ListByTrackID(trackID)
	if err != nil {
		logger.Error("查询渲染版本失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"track":      track,
		"status":     track.Status,
		"renditions": renditions,
	})
}

// TrackWaveformHandler returns the fixed-length loudness waveform,
// served from Redis when warm and from the analysis row otherwise.
func (h *APIHandler) TrackWaveformHandler(w http.ResponseWriter, r *http.Request) {
	trackID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	if waveform, err := cache.GetWaveformCache(trackID); err == nil && waveform != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"trackId": trackID, "waveform": waveform})
		return
	}

	track, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		logger.Error("查询曲目失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}
	if track.WaveformJSON == "" {
		http.Error(w, "Waveform not available yet", http.StatusNotFound)
		return
	}

	var waveform []float64
	if err := json.Unmarshal([]byte(track.WaveformJSON), &waveform); err != nil {
		logger.Error("波形反序列化失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if err := cache.SetWaveformCache(trackID, waveform); err != nil {
		logger.Warn("波形回填缓存失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"trackId": trackID, "waveform": waveform})
}

// DeleteTrackHandler removes a track, its renditions rows and its stored
// objects.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	trackID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	track, err := h.trackRepo.GetTrackByID(trackID)
	if err != nil {
		logger.Error("查询曲目失败", logger.Int64("trackId", trackID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}
	if track.UserID != userID {
		http.Error(w, "Track belongs to another user", http.StatusForbidden)
		return
	}

	renditions, err := h.renditionRepo.ListByTrackID(trackID)
	if err != nil {
		logger.Error("查询渲染版本失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	for _, rendition := range renditions {
		if rendition.StorageKey == "" {
			continue
		}
		if err := h.blobs.Delete(r.Context(), rendition.StorageKey); err != nil {
			logger.Warn("删除存储对象失败",
				logger.String("key", rendition.StorageKey),
				logger.ErrorField(err))
		}
	}

	if err := h.renditionRepo.DeleteByTrackID(trackID); err != nil {
		logger.Error("删除渲染记录失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if err := h.trackRepo.DeleteTrack(trackID); err != nil {
		logger.Error("删除曲目失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("曲目已删除", logger.Int64("trackId", trackID), logger.Int("renditions", len(renditions)))
	writeJSON(w, http.StatusOK, map[string]interface{}{"trackId": trackID, "deleted": true})
}
