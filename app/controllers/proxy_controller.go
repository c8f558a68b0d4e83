package controllers

import (
	"net/url"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/pixelgen/pixelgen/internal/pkg/proxycache"
)

// ProxyController serves external images through the read-through cache
type ProxyController struct {
	fetcher *proxycache.Fetcher
}

var (
	proxyController     *ProxyController
	proxyControllerOnce sync.Once
)

// GetProxyController returns the shared controller
func GetProxyController() *ProxyController {
	proxyControllerOnce.Do(func() {
		proxyController = NewProxyController(proxycache.NewFetcher(proxycache.NewCache()))
	})
	return proxyController
}

// NewProxyController creates a controller with an explicit fetcher
func NewProxyController(fetcher *proxycache.Fetcher) *ProxyController {
	return &ProxyController{fetcher: fetcher}
}

// Image handles GET /proxy/image?url=
func (pc *ProxyController) Image(c *fiber.Ctx) error {
	rawURL := c.Query("url")
	if rawURL == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "url query parameter is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "url must be an absolute http(s) URL")
	}

	data, contentType, cached, err := pc.fetcher.FetchThrough(c.Context(), rawURL)
	if err != nil {
		log.Warnf("[Proxy] Fetch for %s failed: %v", rawURL, err)
		return jsonError(c, fiber.StatusBadGateway, "upstream_error", "Could not fetch the image")
	}

	c.Set("Content-Type", contentType)
	if cached {
		c.Set("X-Cache", "HIT")
	} else {
		c.Set("X-Cache", "MISS")
	}
	return c.Send(data)
}
