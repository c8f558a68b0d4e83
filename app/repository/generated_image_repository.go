package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/pixelgen/pixelgen/app/models"
)

// generatedImageRepository implements GeneratedImageRepository using GORM
type generatedImageRepository struct {
	db *gorm.DB
}

// NewGeneratedImageRepository creates a new generated image repository instance
func NewGeneratedImageRepository(db *gorm.DB) GeneratedImageRepository {
	return &generatedImageRepository{db: db}
}

func (r *generatedImageRepository) Create(image *models.GeneratedImage) error {
	return r.db.Create(image).Error
}

func (r *generatedImageRepository) GetByID(id uint) (*models.GeneratedImage, error) {
	var image models.GeneratedImage
	err := r.db.First(&image, id).Error
	if err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *generatedImageRepository) GetByUUID(uuid string) (*models.GeneratedImage, error) {
	var image models.GeneratedImage
	err := r.db.Where("uuid = ?", uuid).First(&image).Error
	if err != nil {
		return nil, err
	}
	return &image, nil
}

func (r *generatedImageRepository) GetByRequestID(requestID string) ([]models.GeneratedImage, error) {
	var images []models.GeneratedImage
	err := r.db.Where("request_id = ?", requestID).Order("id ASC").Find(&images).Error
	return images, err
}

func (r *generatedImageRepository) GetByUserID(userID uint, offset, limit int) ([]models.GeneratedImage, error) {
	var images []models.GeneratedImage
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&images).Error
	return images, err
}

// ListExpired returns images whose retention horizon has passed, oldest first
func (r *generatedImageRepository) ListExpired(before time.Time, limit int) ([]models.GeneratedImage, error) {
	var images []models.GeneratedImage
	q := r.db.Where("expires_at < ?", before).Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&images).Error
	return images, err
}

func (r *generatedImageRepository) Delete(id uint) error {
	return r.db.Delete(&models.GeneratedImage{}, id).Error
}

func (r *generatedImageRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&models.GeneratedImage{}).Count(&count).Error
	return count, err
}
