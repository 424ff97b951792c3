package model

import (
	"database/sql"
	"time"
)

// Track processing status values.
const (
	TrackStatusProcessing = "processing"
	TrackStatusCompleted  = "completed"
	TrackStatusFailed     = "failed"
)

// Track represents one song inside an album.
type Track struct {
	ID             int64           `json:"id"`
	AlbumID        int64           `json:"albumId"`
	UserID         int64           `json:"userId"`
	Title          string          `json:"title"`
	TrackNumber    int             `json:"trackNumber"`
	DiscNumber     int             `json:"discNumber"`
	Duration       float64         `json:"duration"` // seconds
	Tempo          sql.NullFloat64 `json:"tempo"`    // BPM estimate, absent when confidence is low
	MusicalKey     sql.NullString  `json:"key"`      // dominant pitch class, absent when confidence is low
	WaveformJSON   string          `json:"-"`        // fixed-length loudness envelope, JSON array
	IsExplicit     bool            `json:"isExplicit"`
	IsInstrumental bool            `json:"isInstrumental"`
	Status         string          `json:"status"` // processing, completed, failed
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// AudioMetadata holds the properties derived from decoding an uploaded
// artifact once. Immutable after analysis.
type AudioMetadata struct {
	Format     string    `json:"format"` // container/codec short name, e.g. "mp3"
	Duration   float64   `json:"duration"`
	SampleRate int       `json:"sampleRate"`
	Channels   int       `json:"channels"`
	Bitrate    int       `json:"bitrate"` // bits per second, 0 when the container does not report it
	Tempo      *float64  `json:"tempo,omitempty"`
	Key        *string   `json:"key,omitempty"`
	Waveform   []float64 `json:"waveform"` // normalized magnitudes in [0,1]
}
