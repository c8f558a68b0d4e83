package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/pixelgen/pixelgen/app/models"
	"github.com/pixelgen/pixelgen/internal/pkg/credits"
)

// userRepository implements UserRepository using GORM
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(user *models.User) error {
	return r.db.Create(user).Error
}

func (r *userRepository) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, id).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByEmail(email string) (*models.User, error) {
	var user models.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) GetByAPIKeyHash(hash string) (*models.User, error) {
	var user models.User
	err := r.db.Where("api_key_hash = ? AND api_key_hash <> '' AND api_key_revoked_at IS NULL", hash).
		First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Update(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *userRepository) Delete(id uint) error {
	return r.db.Delete(&models.User{}, id).Error
}

// DeductCredits removes amount credits in a single conditional UPDATE so
// concurrent deductions for the same user serialize on the row and the
// balance can never go negative.
func (r *userRepository) DeductCredits(userID uint, amount uint) (uint, error) {
	res := r.db.Model(&models.User{}).
		Where("id = ? AND credits_left >= ?", userID, amount).
		UpdateColumns(map[string]interface{}{
			"credits_left":       gorm.Expr("credits_left - ?", amount),
			"total_credits_used": gorm.Expr("total_credits_used + ?", amount),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish a missing user from an insufficient balance
		var user models.User
		if err := r.db.Select("id").First(&user, userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, gorm.ErrRecordNotFound
			}
			return 0, err
		}
		return 0, credits.ErrInsufficientCredits
	}
	creditsLeft, _, err := r.GetCredits(userID)
	return creditsLeft, err
}

// RefundCredits restores amount credits. TotalCreditsUsed is monotonic and
// is not decremented.
func (r *userRepository) RefundCredits(userID uint, amount uint) (uint, error) {
	res := r.db.Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("credits_left", gorm.Expr("credits_left + ?", amount))
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, gorm.ErrRecordNotFound
	}
	creditsLeft, _, err := r.GetCredits(userID)
	return creditsLeft, err
}

func (r *userRepository) GetCredits(userID uint) (uint, uint, error) {
	var user models.User
	err := r.db.Select("credits_left", "total_credits_used").First(&user, userID).Error
	if err != nil {
		return 0, 0, err
	}
	return user.CreditsLeft, user.TotalCreditsUsed, nil
}
