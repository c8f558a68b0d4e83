package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GeneratedImageTTL is how long a generated image is kept before the
// cleanup sweep removes blob and metadata.
const GeneratedImageTTL = time.Hour

// GeneratedImage holds metadata for one AI-generated image variation.
// The bytes themselves live in the object store under StoragePath.
type GeneratedImage struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UUID        string    `gorm:"type:char(36) CHARACTER SET utf8 COLLATE utf8_bin;uniqueIndex;not null" json:"uuid"`
	UserID      uint      `gorm:"index" json:"user_id"`
	User        User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	RequestID   string    `gorm:"type:char(36);index" json:"request_id"`
	StoragePath string    `gorm:"type:varchar(255);not null" json:"storage_path"`
	ContentType string    `gorm:"type:varchar(50)" json:"content_type"`
	FileSize    int64     `gorm:"type:bigint" json:"file_size"`
	Prompt      string    `gorm:"type:text" json:"prompt"`
	Style       string    `gorm:"type:varchar(100)" json:"style"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt   time.Time `gorm:"index;not null" json:"expires_at"`
}

// BeforeCreate fills in defaults before the row is inserted
func (g *GeneratedImage) BeforeCreate(tx *gorm.DB) error {
	if g.UUID == "" {
		g.UUID = uuid.New().String()
	}
	if g.ExpiresAt.IsZero() {
		g.ExpiresAt = time.Now().Add(GeneratedImageTTL)
	}
	return nil
}

// IsExpired reports whether the image has passed its retention horizon
func (g *GeneratedImage) IsExpired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// FindGeneratedImageByUUID finds a generated image by its UUID
func FindGeneratedImageByUUID(db *gorm.DB, uuid string) (*GeneratedImage, error) {
	var image GeneratedImage
	result := db.Where("uuid = ?", uuid).First(&image)
	return &image, result.Error
}
