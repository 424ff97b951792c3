package model

import "time"

// AudioFormat 音频封装/编码格式
type AudioFormat string

const (
	FormatMP3  AudioFormat = "mp3"
	FormatWAV  AudioFormat = "wav"
	FormatFLAC AudioFormat = "flac"
	FormatAAC  AudioFormat = "aac"
	FormatOGG  AudioFormat = "ogg"
	FormatHLS  AudioFormat = "hls"
)

// AudioQuality 质量档位
type AudioQuality string

const (
	QualityOriginal AudioQuality = "original"
	QualityHigh     AudioQuality = "high"
	QualityLow      AudioQuality = "low"
	QualityPreview  AudioQuality = "preview"
	QualityStream   AudioQuality = "stream"
)

// Rendition is one persisted (format, quality) encoding of a track's audio.
// Unique per (track, format, quality); immutable once Processed is set.
type Rendition struct {
	ID         int64        `gorm:"primaryKey" json:"id"`
	TrackID    int64        `gorm:"uniqueIndex:uidx_track_format_quality;not null" json:"trackId"`
	Format     AudioFormat  `gorm:"uniqueIndex:uidx_track_format_quality;size:16;not null" json:"format"`
	Quality    AudioQuality `gorm:"uniqueIndex:uidx_track_format_quality;size:16;not null" json:"quality"`
	StorageKey string       `gorm:"size:512;not null" json:"storageKey"`
	ByteSize   int64        `json:"byteSize"`
	Checksum   string       `gorm:"size:64" json:"checksum"` // sha256 hex
	Bitrate    int          `json:"bitrate"`
	SampleRate int          `json:"sampleRate"`
	Channels   int          `json:"channels"`
	Processed  bool         `json:"processed"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// TableName 指定表名
func (Rendition) TableName() string {
	return "renditions"
}
