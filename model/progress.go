package model

// ProgressEvent is one stage/percentage notification pushed to the client
// observing an upload session.
type ProgressEvent struct {
	SessionID string  `json:"sessionId"`
	Stage     string  `json:"stage"`
	Progress  float64 `json:"progress"` // 0-100 completion estimate
	Message   string  `json:"message"`
	Error     string  `json:"error,omitempty"`
	Terminal  bool    `json:"terminal"` // no further events follow
	TrackID   int64   `json:"trackId,omitempty"`
	Timestamp int64   `json:"timestamp"` // unix millis
}
