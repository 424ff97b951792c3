package repository

import (
	"database/sql"
	"fmt"
	"time"

	"soundrise/db"
	"soundrise/model"
)

// AlbumRepository defines the interface for album data operations.
// IsAlbumOwnedBy is the authorization collaborator answer consulted before an
// upload session may be opened against an album.
type AlbumRepository interface {
	CreateAlbum(album *model.Album) (int64, error)
	GetAlbumByID(id int64) (*model.Album, error)
	GetAlbumsByUserID(userID int64) ([]*model.Album, error)
	IsAlbumOwnedBy(albumID, userID int64) (bool, error)
	PublishAlbum(albumID int64) error
}

type mysqlAlbumRepository struct {
	DB *sql.DB
}

// NewMySQLAlbumRepository creates a new instance of mysqlAlbumRepository.
func NewMySQLAlbumRepository() AlbumRepository {
	return &mysqlAlbumRepository{DB: db.DB}
}

// CreateAlbum adds a new album to the database.
func (r *mysqlAlbumRepository) CreateAlbum(album *model.Album) (int64, error) {
	query := `INSERT INTO albums (user_id, title, genre, description, release_date, is_published, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateAlbum: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(album.UserID, album.Title, album.Genre, album.Description, album.ReleaseDate, album.IsPublished, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateAlbum: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateAlbum: %w", err)
	}
	return id, nil
}

// GetAlbumByID retrieves an album by its ID.
func (r *mysqlAlbumRepository) GetAlbumByID(id int64) (*model.Album, error) {
	query := `SELECT id, user_id, title, genre, description, release_date, is_published, created_at, updated_at
	           FROM albums WHERE id = ?`
	row := r.DB.QueryRow(query, id)

	album := &model.Album{}
	err := row.Scan(&album.ID, &album.UserID, &album.Title, &album.Genre,
		&album.Description, &album.ReleaseDate, &album.IsPublished,
		&album.CreatedAt, &album.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Album not found
		}
		return nil, fmt.Errorf("failed to scan album by ID %d: %w", id, err)
	}
	return album, nil
}

// GetAlbumsByUserID retrieves all albums owned by a user.
func (r *mysqlAlbumRepository) GetAlbumsByUserID(userID int64) ([]*model.Album, error) {
	query := `SELECT id, user_id, title, genre, description, release_date, is_published, created_at, updated_at
	           FROM albums WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.DB.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query albums for user ID %d: %w", userID, err)
	}
	defer rows.Close()

	albums := make([]*model.Album, 0)
	for rows.Next() {
		album := &model.Album{}
		err := rows.Scan(&album.ID, &album.UserID, &album.Title, &album.Genre,
			&album.Description, &album.ReleaseDate, &album.IsPublished,
			&album.CreatedAt, &album.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan album in GetAlbumsByUserID: %w", err)
		}
		albums = append(albums, album)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetAlbumsByUserID: %w", err)
	}

	return albums, nil
}

// IsAlbumOwnedBy reports whether the album exists and belongs to the user.
func (r *mysqlAlbumRepository) IsAlbumOwnedBy(albumID, userID int64) (bool, error) {
	var count int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM albums WHERE id = ? AND user_id = ?`, albumID, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check album ownership %d/%d: %w", albumID, userID, err)
	}
	return count > 0, nil
}

// PublishAlbum marks an album as published.
func (r *mysqlAlbumRepository) PublishAlbum(albumID int64) error {
	query := `UPDATE albums SET is_published = TRUE, updated_at = ? WHERE id = ?`
	if _, err := r.DB.Exec(query, time.Now(), albumID); err != nil {
		return fmt.Errorf("failed to publish album %d: %w", albumID, err)
	}
	return nil
}
