package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/pixelgen/pixelgen/internal/pkg/env"
)

// OperatorAuthMiddleware guards operator endpoints (admin cache controls,
// manual cleanup, the progress webhook) with a shared secret. Endpoints are
// disabled entirely when OPERATOR_API_KEY is not configured.
func OperatorAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := env.GetEnv("OPERATOR_API_KEY", "")
		if expected == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "unavailable", "message": "Operator endpoints are not configured"})
		}

		provided := strings.TrimSpace(c.Get("X-Operator-Key"))
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid operator key"})
		}

		return c.Next()
	}
}
