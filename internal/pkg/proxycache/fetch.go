package proxycache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const (
	// fetchTimeout bounds one upstream fetch
	fetchTimeout = 10 * time.Second
	// maxFetchSize is a hard ceiling on proxied bodies, past which the
	// fetch is aborted rather than buffered further.
	maxFetchSize = 50 * 1024 * 1024
)

// Fetcher serves images through the cache, fetching from the upstream URL
// on a miss or for metadata-only entries.
type Fetcher struct {
	cache      *Cache
	httpClient *http.Client
}

// NewFetcher creates a read-through fetcher on top of the cache
func NewFetcher(c *Cache) *Fetcher {
	return &Fetcher{
		cache:      c,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

// FetchThrough returns the image at url, serving from cache when possible.
// The bool result reports whether the response came from cache.
func (f *Fetcher) FetchThrough(ctx context.Context, url string) ([]byte, string, bool, error) {
	data, meta, err := f.cache.Get(ctx, url)
	if err == nil && data != nil {
		return data, meta.ContentType, true, nil
	}
	if err != nil && err != ErrMiss {
		// Cache trouble never blocks serving; fall through to upstream
		log.Warnf("[ProxyCache] Cache read for %s failed: %v", url, err)
	}

	body, contentType, err := f.fetch(ctx, url)
	if err != nil {
		return nil, "", false, err
	}

	f.cache.Put(ctx, url, body, contentType)
	return body, contentType, false, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build upstream request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("upstream fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxFetchSize {
		return nil, "", fmt.Errorf("upstream body too large: %d bytes", resp.ContentLength)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("upstream returned non-image content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upstream body: %w", err)
	}
	if len(body) > maxFetchSize {
		return nil, "", fmt.Errorf("upstream body too large")
	}
	return body, contentType, nil
}
