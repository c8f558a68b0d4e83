package proxycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/pixelgen/pixelgen/internal/pkg/cache"
)

const (
	dataKeyPrefix = "proxycache:data:"
	metaKeyPrefix = "proxycache:meta:"

	// MaxCacheableSize is the byte ceiling for cached image bodies. Larger
	// images keep a metadata entry only and are re-fetched on every hit.
	MaxCacheableSize = 5 * 1024 * 1024
	// EntryTTL bounds how long a cached image stays resident
	EntryTTL = 24 * time.Hour
)

// ErrMiss is returned when neither data nor metadata exists for a URL
var ErrMiss = errors.New("proxy cache miss")

// ShouldCache reports whether a body of the given size gets a data entry
func ShouldCache(size int64) bool {
	return size <= MaxCacheableSize
}

// Meta describes one cached entry. Oversized images have Meta without data.
type Meta struct {
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Cached      bool      `json:"cached"` // false when only metadata is stored
	CachedAt    time.Time `json:"cached_at"`
}

// Stats summarizes cache residency for the admin endpoint
type Stats struct {
	TotalImages    int           `json:"total_images"`
	TotalSize      int64         `json:"total_size"`
	OldestEntryAge time.Duration `json:"oldest_entry_age"`
	NewestEntryAge time.Duration `json:"newest_entry_age"`
}

// Cache is a Redis-backed read-through cache for proxied images. Writes
// are best-effort: a failed store never fails the request being served.
type Cache struct {
	client *redis.Client // nil means use the shared cache client
}

// NewCache creates a cache using the shared Redis client
func NewCache() *Cache {
	return &Cache{}
}

// NewCacheWithClient creates a cache bound to an explicit client (tests)
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) redisClient() *redis.Client {
	if c.client != nil {
		return c.client
	}
	return cache.GetClient()
}

func urlHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached body and metadata for url. A metadata-only entry
// yields (nil, meta, nil); a full miss yields ErrMiss.
func (c *Cache) Get(ctx context.Context, url string) ([]byte, *Meta, error) {
	hash := urlHash(url)

	metaData, err := c.redisClient().Get(ctx, metaKeyPrefix+hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, ErrMiss
		}
		return nil, nil, err
	}
	var meta Meta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, nil, err
	}
	if !meta.Cached {
		return nil, &meta, nil
	}

	data, err := c.redisClient().Get(ctx, dataKeyPrefix+hash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Data expired ahead of its metadata; treat as a full miss
			return nil, nil, ErrMiss
		}
		return nil, nil, err
	}
	return data, &meta, nil
}

// Put stores a fetched image. Bodies above MaxCacheableSize get a
// metadata-only entry. Store failures are logged and swallowed; serving
// the image matters more than caching it.
func (c *Cache) Put(ctx context.Context, url string, data []byte, contentType string) *Meta {
	hash := urlHash(url)
	meta := Meta{
		URL:         url,
		ContentType: contentType,
		Size:        int64(len(data)),
		Cached:      ShouldCache(int64(len(data))),
		CachedAt:    time.Now(),
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		log.Warnf("[ProxyCache] Failed to marshal metadata for %s: %v", url, err)
		return &meta
	}

	pipe := c.redisClient().TxPipeline()
	pipe.Set(ctx, metaKeyPrefix+hash, metaData, EntryTTL)
	if meta.Cached {
		pipe.Set(ctx, dataKeyPrefix+hash, data, EntryTTL)
	} else {
		log.Infof("[ProxyCache] Image %s is %d bytes, storing metadata only", url, meta.Size)
		pipe.Del(ctx, dataKeyPrefix+hash)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[ProxyCache] Failed to cache %s: %v", url, err)
	}
	return &meta
}

// ClearOne removes the entry for a single URL, reporting whether one existed
func (c *Cache) ClearOne(ctx context.Context, url string) (bool, error) {
	hash := urlHash(url)
	n, err := c.redisClient().Del(ctx, metaKeyPrefix+hash, dataKeyPrefix+hash).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearAll removes every cached entry, returning how many data and
// metadata entries were deleted
func (c *Cache) ClearAll(ctx context.Context) (dataDeleted int, metaDeleted int, err error) {
	metaKeys, err := c.scanKeys(ctx, metaKeyPrefix+"*")
	if err != nil {
		return 0, 0, err
	}
	dataKeys, err := c.scanKeys(ctx, dataKeyPrefix+"*")
	if err != nil {
		return 0, 0, err
	}
	keys := append(metaKeys, dataKeys...)
	if len(keys) == 0 {
		return 0, 0, nil
	}
	if err := c.redisClient().Del(ctx, keys...).Err(); err != nil {
		return 0, 0, err
	}
	return len(dataKeys), len(metaKeys), nil
}

// Stats aggregates residency numbers across all entries
func (c *Cache) Stats(ctx context.Context) (*Stats, error) {
	metaKeys, err := c.scanKeys(ctx, metaKeyPrefix+"*")
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	now := time.Now()
	for _, key := range metaKeys {
		data, err := c.redisClient().Get(ctx, key).Bytes()
		if err != nil {
			continue // expired between scan and read
		}
		var meta Meta
		if err := json.Unmarshal(data, &meta); err != nil {
			continue
		}
		stats.TotalImages++
		if meta.Cached {
			stats.TotalSize += meta.Size
		}
		age := now.Sub(meta.CachedAt)
		if age > stats.OldestEntryAge {
			stats.OldestEntryAge = age
		}
		if stats.NewestEntryAge == 0 || age < stats.NewestEntryAge {
			stats.NewestEntryAge = age
		}
	}
	return stats, nil
}

func (c *Cache) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.redisClient().Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
