package repository

import (
	"database/sql"
	"fmt"
	"time"

	"soundrise/db"
	"soundrise/model"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	CreateTrack(track *model.Track) (int64, error)
	GetTrackByID(id int64) (*model.Track, error)
	GetTracksByAlbumID(albumID int64) ([]*model.Track, error)
	GetAllTracksByUserID(userID int64) ([]*model.Track, error)
	GetTrackByAlbumAndNumber(albumID int64, discNumber, trackNumber int) (*model.Track, error)
	UpdateTrackAnalysis(trackID int64, meta *model.AudioMetadata, waveformJSON string) error
	UpdateTrackStatus(trackID int64, status string) error
	CountTracksByAlbumID(albumID int64) (int, error)
	DeleteTrack(trackID int64) error
}

// mysqlTrackRepository implements TrackRepository for MySQL.
type mysqlTrackRepository struct {
	DB *sql.DB
}

// NewMySQLTrackRepository creates a new instance of mysqlTrackRepository.
func NewMySQLTrackRepository() TrackRepository {
	return &mysqlTrackRepository{DB: db.DB}
}

const trackColumns = `id, album_id, user_id, title, track_number, disc_number, duration, tempo, musical_key, waveform_json, is_explicit, is_instrumental, status, created_at, updated_at`

func scanTrack(row interface{ Scan(...interface{}) error }) (*model.Track, error) {
	track := &model.Track{}
	var waveform sql.NullString
	err := row.Scan(&track.ID, &track.AlbumID, &track.UserID, &track.Title,
		&track.TrackNumber, &track.DiscNumber, &track.Duration, &track.Tempo,
		&track.MusicalKey, &waveform, &track.IsExplicit, &track.IsInstrumental,
		&track.Status, &track.CreatedAt, &track.UpdatedAt)
	if err != nil {
		return nil, err
	}
	track.WaveformJSON = waveform.String
	return track, nil
}

// CreateTrack adds a new track to the database.
func (r *mysqlTrackRepository) CreateTrack(track *model.Track) (int64, error) {
	query := `INSERT INTO tracks (album_id, user_id, title, track_number, disc_number, duration, tempo, musical_key, waveform_json, is_explicit, is_instrumental, status, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateTrack: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(track.AlbumID, track.UserID, track.Title,
		track.TrackNumber, track.DiscNumber, track.Duration, track.Tempo,
		track.MusicalKey, track.WaveformJSON, track.IsExplicit,
		track.IsInstrumental, track.Status, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateTrack: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateTrack: %w", err)
	}
	return id, nil
}

// GetTrackByID retrieves a track by its ID.
func (r *mysqlTrackRepository) GetTrackByID(id int64) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE id = ?`
	track, err := scanTrack(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Track not found
		}
		return nil, fmt.Errorf("failed to scan track by ID %d: %w", id, err)
	}
	return track, nil
}

// GetTracksByAlbumID retrieves all tracks in an album ordered by disc/track number.
func (r *mysqlTrackRepository) GetTracksByAlbumID(albumID int64) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE album_id = ? ORDER BY disc_number, track_number`
	return r.queryTracks(query, albumID)
}

// GetAllTracksByUserID retrieves all tracks owned by a user.
func (r *mysqlTrackRepository) GetAllTracksByUserID(userID int64) ([]*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE user_id = ? ORDER BY created_at DESC`
	return r.queryTracks(query, userID)
}

func (r *mysqlTrackRepository) queryTracks(query string, args ...interface{}) ([]*model.Track, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracks: %w", err)
	}
	defer rows.Close()

	tracks := make([]*model.Track, 0)
	for rows.Next() {
		track, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan track row: %w", err)
		}
		tracks = append(tracks, track)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}

	return tracks, nil
}

// GetTrackByAlbumAndNumber checks whether a (disc, track) slot is already taken.
func (r *mysqlTrackRepository) GetTrackByAlbumAndNumber(albumID int64, discNumber, trackNumber int) (*model.Track, error) {
	query := `SELECT ` + trackColumns + ` FROM tracks WHERE album_id = ? AND disc_number = ? AND track_number = ?`
	track, err := scanTrack(r.DB.QueryRow(query, albumID, discNumber, trackNumber))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan track by album %d number %d.%d: %w", albumID, discNumber, trackNumber, err)
	}
	return track, nil
}

// UpdateTrackAnalysis writes the derived audio metadata onto the track row.
func (r *mysqlTrackRepository) UpdateTrackAnalysis(trackID int64, meta *model.AudioMetadata, waveformJSON string) error {
	query := `UPDATE tracks SET duration = ?, tempo = ?, musical_key = ?, waveform_json = ?, updated_at = ? WHERE id = ?`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement for UpdateTrackAnalysis: %w", err)
	}
	defer stmt.Close()

	var tempo sql.NullFloat64
	if meta.Tempo != nil {
		tempo = sql.NullFloat64{Float64: *meta.Tempo, Valid: true}
	}
	var key sql.NullString
	if meta.Key != nil {
		key = sql.NullString{String: *meta.Key, Valid: true}
	}

	if _, err = stmt.Exec(meta.Duration, tempo, key, waveformJSON, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute UpdateTrackAnalysis for track ID %d: %w", trackID, err)
	}
	return nil
}

// UpdateTrackStatus updates the processing status of a track.
func (r *mysqlTrackRepository) UpdateTrackStatus(trackID int64, status string) error {
	query := `UPDATE tracks SET status = ?, updated_at = ? WHERE id = ?`
	if _, err := r.DB.Exec(query, status, time.Now(), trackID); err != nil {
		return fmt.Errorf("failed to execute UpdateTrackStatus for track ID %d: %w", trackID, err)
	}
	return nil
}

// CountTracksByAlbumID returns the number of tracks in an album.
func (r *mysqlTrackRepository) CountTracksByAlbumID(albumID int64) (int, error) {
	var count int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM tracks WHERE album_id = ?`, albumID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tracks for album %d: %w", albumID, err)
	}
	return count, nil
}

// DeleteTrack removes a track row.
func (r *mysqlTrackRepository) DeleteTrack(trackID int64) error {
	if _, err := r.DB.Exec(`DELETE FROM tracks WHERE id = ?`, trackID); err != nil {
		return fmt.Errorf("failed to delete track %d: %w", trackID, err)
	}
	return nil
}
