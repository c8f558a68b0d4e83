package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/pixelgen/pixelgen/app/models"
)

// UserRepository defines the interface for user-related database operations.
// The credit mutations are atomic server-side statements; see the credits
// package for the retry policy layered on top.
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	Delete(id uint) error

	DeductCredits(userID uint, amount uint) (creditsLeft uint, err error)
	RefundCredits(userID uint, amount uint) (creditsLeft uint, err error)
	GetCredits(userID uint) (creditsLeft uint, totalUsed uint, err error)
}

// GeneratedImageRepository defines the interface for generated-image metadata
type GeneratedImageRepository interface {
	Create(image *models.GeneratedImage) error
	GetByID(id uint) (*models.GeneratedImage, error)
	GetByUUID(uuid string) (*models.GeneratedImage, error)
	GetByRequestID(requestID string) ([]models.GeneratedImage, error)
	GetByUserID(userID uint, offset, limit int) ([]models.GeneratedImage, error)
	ListExpired(before time.Time, limit int) ([]models.GeneratedImage, error)
	Delete(id uint) error
	Count() (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User           UserRepository
	GeneratedImage GeneratedImageRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:           NewUserRepository(db),
		GeneratedImage: NewGeneratedImageRepository(db),
	}
}
