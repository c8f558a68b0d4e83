package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/pixelgen/pixelgen/app/models"
	"github.com/pixelgen/pixelgen/app/repository"
	"github.com/pixelgen/pixelgen/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register handles POST /api/v1/auth/register. New accounts start with the
// default credit grant and an issued API key; the raw key is shown exactly
// once in the response.
func Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Request body is not valid JSON")
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Name), strings.TrimSpace(strings.ToLower(req.Email)), req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "name, email and password (min 6 chars) are required")
	}

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		log.Errorf("[User] API key generation failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not create the account")
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	if _, err := repo.GetByEmail(user.Email); err == nil {
		return jsonError(c, fiber.StatusConflict, "email_taken", "An account with this email already exists")
	}
	if err := repo.Create(user); err != nil {
		log.Errorf("[User] Account creation failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not create the account")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"user_id":      user.ID,
		"credits_left": user.CreditsLeft,
		"api_key":      rawKey,
	})
}

// Profile handles GET /api/v1/user
func Profile(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("[User] Profile lookup for %d failed: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load the account")
	}

	return c.JSON(fiber.Map{
		"user_id":            user.ID,
		"name":               user.Name,
		"email":              user.Email,
		"credits_left":       user.CreditsLeft,
		"total_credits_used": user.TotalCreditsUsed,
		"api_key_prefix":     user.APIKeyPrefix,
	})
}

// Credits handles GET /api/v1/user/credits
func Credits(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	repo := repository.GetGlobalFactory().GetUserRepository()
	creditsLeft, totalUsed, err := repo.GetCredits(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Account not found")
		}
		log.Errorf("[User] Credits lookup for %d failed: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load the balance")
	}

	return c.JSON(fiber.Map{
		"credits_left":       creditsLeft,
		"total_credits_used": totalUsed,
	})
}

// RotateAPIKey handles POST /api/v1/user/api-key. It replaces the current
// key; the old one stops working immediately.
func RotateAPIKey(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userID)
	if err != nil {
		log.Errorf("[User] API key rotation lookup for %d failed: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not rotate the API key")
	}

	rawKey, err := user.IssueAPIKey()
	if err != nil {
		log.Errorf("[User] API key generation failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not rotate the API key")
	}
	if err := repo.Update(user); err != nil {
		log.Errorf("[User] API key persistence for %d failed: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not rotate the API key")
	}

	return c.JSON(fiber.Map{
		"api_key":        rawKey,
		"api_key_prefix": user.APIKeyPrefix,
	})
}

// RevokeAPIKey handles DELETE /api/v1/user/api-key
func RevokeAPIKey(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	repo := repository.GetGlobalFactory().GetUserRepository()
	user, err := repo.GetByID(userID)
	if err != nil {
		log.Errorf("[User] API key revocation lookup for %d failed: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not revoke the API key")
	}

	user.RevokeAPIKey()
	if err := repo.Update(user); err != nil {
		log.Errorf("[User] API key revocation for %d failed: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not revoke the API key")
	}

	return c.JSON(fiber.Map{"status": "revoked"})
}
