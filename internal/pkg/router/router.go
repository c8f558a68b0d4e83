package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/pixelgen/pixelgen/app/controllers"
	"github.com/pixelgen/pixelgen/internal/pkg/constants"
	"github.com/pixelgen/pixelgen/internal/pkg/env"
	"github.com/pixelgen/pixelgen/internal/pkg/middleware"
	"github.com/pixelgen/pixelgen/internal/pkg/ratelimit"
)

// Default generation rate limits, overridable via environment
const (
	defaultHourlyLimit = 5
	defaultDailyLimit  = 20
)

// InstallRouter registers all application routes
func InstallRouter(app *fiber.App) {
	installPublicRoutes(app)
	installAPIRoutes(app)
	installOperatorRoutes(app)
}

func installPublicRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get(constants.ProxyImagePath, controllers.GetProxyController().Image)

	app.Post(constants.APIv1Prefix+constants.RegisterPath, controllers.Register)
}

func installAPIRoutes(app *fiber.App) {
	v1 := app.Group(constants.APIv1Prefix, middleware.APIKeyAuthMiddleware())

	hourly := ratelimit.NewLimiter("generate_hourly", limitFromEnv("RATE_LIMIT_HOURLY", defaultHourlyLimit), time.Hour)
	daily := ratelimit.NewLimiter("generate_daily", limitFromEnv("RATE_LIMIT_DAILY", defaultDailyLimit), 24*time.Hour)

	gen := controllers.GetGenerateController()
	v1.Post(constants.GeneratePath, ratelimit.Middleware(hourly, daily), gen.Submit)
	v1.Get(constants.GenerateStatusPath, gen.Status)
	v1.Get(constants.GenerateImagesPath, gen.Images)

	v1.Get(constants.UserProfilePath, controllers.Profile)
	v1.Get(constants.UserCreditsPath, controllers.Credits)
	v1.Post(constants.APIKeyPath, controllers.RotateAPIKey)
	v1.Delete(constants.APIKeyPath, controllers.RevokeAPIKey)
}

func installOperatorRoutes(app *fiber.App) {
	operator := middleware.OperatorAuthMiddleware()

	admin := controllers.GetAdminController()
	app.Get(constants.APIv1Prefix+constants.AdminCachePath, operator, admin.CacheStats)
	app.Delete(constants.APIv1Prefix+constants.AdminCachePath, operator, admin.CacheClear)
	app.Post(constants.APIv1Prefix+constants.AdminCleanupPath, operator, admin.CleanupTrigger)

	app.Post(constants.ProgressWebhookPath, operator, controllers.GetProgressController().Update)
}

func limitFromEnv(key string, fallback int) int {
	if v, err := strconv.Atoi(env.GetEnv(key, "")); err == nil && v > 0 {
		return v
	}
	return fallback
}
