package server

import (
	"net/http"
	"time"

	"soundrise/cache"
	"soundrise/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// ProgressWebSocketHandler streams the session's progress events until a
// terminal event arrives. Client disconnect before persistence counts as
// a cancellation request.
func (h *APIHandler) ProgressWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["session_id"]

	sess, err := h.registry.Get(sessionID)
	if err != nil {
		http.Error(w, err.Error(), uploadErrorStatus(err))
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	events := h.broadcaster.Subscribe(sessionID)
	defer h.broadcaster.Unsubscribe(sessionID, events)

	// 读协程只为感知断连
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// 先补发最近一次快照，客户端重连时不至于从零开始
	if snapshot, err := cache.GetProgressSnapshot(sessionID); err == nil && snapshot != nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(snapshot); err != nil {
			return
		}
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				// 终态事件已发出，正常收尾
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("进度推送失败",
					logger.String("sessionId", sessionID),
					logger.ErrorField(err))
				sess.RequestCancel()
				return
			}

		case <-disconnected:
			logger.Info("进度订阅者断开",
				logger.String("sessionId", sessionID))
			sess.RequestCancel()
			return
		}
	}
}

// UploadStatusHandler is the polling fallback for clients without a
// websocket: it returns the latest progress snapshot from Redis.
func (h *APIHandler) UploadStatusHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["session_id"]

	snapshot, err := cache.GetProgressSnapshot(sessionID)
	if err != nil {
		logger.Error("读取进度快照失败",
			logger.String("sessionId", sessionID),
			logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if snapshot == nil {
		// 快照还没写入时退回会话注册表
		sess, err := h.registry.Get(sessionID)
		if err != nil {
			http.Error(w, err.Error(), uploadErrorStatus(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"sessionId": sess.ID,
			"stage":     sess.State(),
			"received":  sess.ReceivedCount(),
			"total":     sess.ChunkCount,
		})
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
