package ratelimit

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/pixelgen/pixelgen/internal/pkg/usercontext"
)

// Middleware returns a fiber handler enforcing every given limiter against
// the caller identity. A request passes only if all limiters allow it; the
// response headers reflect the limiter that blocked, or the stricter of
// the passing limiters on success.
func Middleware(limiters ...*Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identifier := callerIdentifier(c)

		var stricter Result
		for i, l := range limiters {
			res := l.Check(c.Context(), identifier)
			if i == 0 {
				stricter = res
			} else {
				stricter = Stricter(stricter, res)
			}
			if !res.Allowed {
				setHeaders(c, res)
				c.Set("Retry-After", strconv.Itoa(res.RetryAfter))
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":       "rate_limited",
					"message":     "Too many requests, slow down",
					"retry_after": res.RetryAfter,
				})
			}
		}

		setHeaders(c, stricter)
		return c.Next()
	}
}

func setHeaders(c *fiber.Ctx, res Result) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	c.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// callerIdentifier prefers the authenticated user id and falls back to the
// client IP so unauthenticated surfaces still get limited.
func callerIdentifier(c *fiber.Ctx) string {
	if userID := usercontext.GetUserID(c); userID != 0 {
		return fmt.Sprintf("user:%d", userID)
	}
	return "ip:" + c.IP()
}
