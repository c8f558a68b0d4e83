package controllers

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/pixelgen/pixelgen/internal/pkg/jobqueue"
	"github.com/pixelgen/pixelgen/internal/pkg/proxycache"
)

// AdminController serves the operator surface: cache inspection and the
// manual cleanup trigger.
type AdminController struct {
	cache *proxycache.Cache
}

var (
	adminController     *AdminController
	adminControllerOnce sync.Once
)

// GetAdminController returns the shared controller
func GetAdminController() *AdminController {
	adminControllerOnce.Do(func() {
		adminController = NewAdminController(proxycache.NewCache())
	})
	return adminController
}

// NewAdminController creates a controller with an explicit cache
func NewAdminController(cache *proxycache.Cache) *AdminController {
	return &AdminController{cache: cache}
}

// CacheStats handles GET /api/v1/admin/cache
func (ac *AdminController) CacheStats(c *fiber.Ctx) error {
	stats, err := ac.cache.Stats(c.Context())
	if err != nil {
		log.Errorf("[Admin] Cache stats failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not read cache stats")
	}
	return c.JSON(fiber.Map{
		"total_images":     stats.TotalImages,
		"total_size":       stats.TotalSize,
		"oldest_cache_age": stats.OldestEntryAge.String(),
		"newest_cache_age": stats.NewestEntryAge.String(),
	})
}

// CacheClear handles DELETE /api/v1/admin/cache. With ?url= it clears a
// single entry, without it clears everything.
func (ac *AdminController) CacheClear(c *fiber.Ctx) error {
	if url := c.Query("url"); url != "" {
		removed, err := ac.cache.ClearOne(c.Context(), url)
		if err != nil {
			log.Errorf("[Admin] Cache clear for %s failed: %v", url, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not clear cache entry")
		}
		if !removed {
			return jsonError(c, fiber.StatusNotFound, "not_found", "No cache entry for this URL")
		}
		return c.JSON(fiber.Map{"cleared": 1})
	}

	dataDeleted, metaDeleted, err := ac.cache.ClearAll(c.Context())
	if err != nil {
		log.Errorf("[Admin] Cache clear-all failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not clear cache")
	}
	return c.JSON(fiber.Map{
		"deleted_data_entries":     dataDeleted,
		"deleted_metadata_entries": metaDeleted,
	})
}

// CleanupTrigger handles POST /api/v1/admin/cleanup
func (ac *AdminController) CleanupTrigger(c *fiber.Ctx) error {
	stats, err := jobqueue.GetManager().RunCleanupSweepOnce()
	if err != nil {
		log.Errorf("[Admin] Manual cleanup sweep failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Cleanup sweep failed")
	}
	return c.JSON(stats)
}
