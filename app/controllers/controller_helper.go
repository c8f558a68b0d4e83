package controllers

import (
	"github.com/gofiber/fiber/v2"
)

// jsonError writes a uniform error body: {"error": code, "message": msg}
func jsonError(c *fiber.Ctx, status int, code string, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": msg,
	})
}
