package repository

import (
	"errors"
	"fmt"

	"soundrise/model"

	"gorm.io/gorm"
)

// RenditionRepository 管理曲目的各个 (format, quality) 渲染版本。
// 使用 GORM，与 tracks/albums 的手写 SQL 层并存。
type RenditionRepository interface {
	// SaveRendition 持久化一个渲染版本。同一 (track, format, quality) 幂等：
	// 已有 processed 记录时直接返回旧记录，不覆盖；未完成的记录允许覆盖。
	SaveRendition(r *model.Rendition) (*model.Rendition, error)
	GetRendition(trackID int64, format model.AudioFormat, quality model.AudioQuality) (*model.Rendition, error)
	ListByTrackID(trackID int64) ([]*model.Rendition, error)
	DeleteByTrackID(trackID int64) error
}

type gormRenditionRepository struct {
	db *gorm.DB
}

// NewGormRenditionRepository 创建 RenditionRepository 实例
func NewGormRenditionRepository(db *gorm.DB) RenditionRepository {
	return &gormRenditionRepository{db: db}
}

func (r *gormRenditionRepository) SaveRendition(rendition *model.Rendition) (*model.Rendition, error) {
	var existing model.Rendition
	err := r.db.Where("track_id = ? AND format = ? AND quality = ?",
		rendition.TrackID, rendition.Format, rendition.Quality).First(&existing).Error

	switch {
	case err == nil:
		if existing.Processed {
			// 已处理的记录不可变
			return &existing, nil
		}
		rendition.ID = existing.ID
		rendition.CreatedAt = existing.CreatedAt
		if err := r.db.Save(rendition).Error; err != nil {
			return nil, fmt.Errorf("failed to overwrite rendition %d/%s/%s: %w",
				rendition.TrackID, rendition.Format, rendition.Quality, err)
		}
		return rendition, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := r.db.Create(rendition).Error; err != nil {
			return nil, fmt.Errorf("failed to create rendition %d/%s/%s: %w",
				rendition.TrackID, rendition.Format, rendition.Quality, err)
		}
		return rendition, nil

	default:
		return nil, fmt.Errorf("failed to look up rendition %d/%s/%s: %w",
			rendition.TrackID, rendition.Format, rendition.Quality, err)
	}
}

func (r *gormRenditionRepository) GetRendition(trackID int64, format model.AudioFormat, quality model.AudioQuality) (*model.Rendition, error) {
	var rendition model.Rendition
	err := r.db.Where("track_id = ? AND format = ? AND quality = ?", trackID, format, quality).First(&rendition).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get rendition %d/%s/%s: %w", trackID, format, quality, err)
	}
	return &rendition, nil
}

func (r *gormRenditionRepository) ListByTrackID(trackID int64) ([]*model.Rendition, error) {
	var renditions []*model.Rendition
	if err := r.db.Where("track_id = ?", trackID).Order("quality").Find(&renditions).Error; err != nil {
		return nil, fmt.Errorf("failed to list renditions for track %d: %w", trackID, err)
	}
	return renditions, nil
}

func (r *gormRenditionRepository) DeleteByTrackID(trackID int64) error {
	if err := r.db.Where("track_id = ?", trackID).Delete(&model.Rendition{}).Error; err != nil {
		return fmt.Errorf("failed to delete renditions for track %d: %w", trackID, err)
	}
	return nil
}
