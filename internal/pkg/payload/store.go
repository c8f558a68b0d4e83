package payload

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/pixelgen/pixelgen/internal/pkg/cache"
)

// Ephemeral payloads bridge the large request body from the synchronous
// handler to the asynchronous worker. They never travel over the job
// queue, whose records stay small.
const (
	KeyPrefix       = "payload:"
	ResultKeySuffix = "_result"
	StagingSuffix   = "_gen"

	InputTTL   = 15 * time.Minute
	ResultTTL  = 10 * time.Minute
	StagingTTL = 15 * time.Minute
)

// ErrNotFound is returned when a payload is absent (expired or consumed)
var ErrNotFound = errors.New("payload not found")

// Store is a short-lived key -> blob store on Redis with native TTLs
type Store struct {
	client *redis.Client // nil means use the shared cache client
}

// NewStore creates a store using the shared cache client
func NewStore() *Store {
	return &Store{}
}

// NewStoreWithClient creates a store bound to an explicit Redis client (tests)
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) redisClient() *redis.Client {
	if s.client != nil {
		return s.client
	}
	return cache.GetClient()
}

// Set stores the input payload for a request
func (s *Store) Set(ctx context.Context, requestID string, data []byte) error {
	return s.redisClient().Set(ctx, KeyPrefix+requestID, data, InputTTL).Err()
}

// Get reads the input payload without consuming it
func (s *Store) Get(ctx context.Context, requestID string) ([]byte, error) {
	return s.read(ctx, KeyPrefix+requestID)
}

// Delete removes the input payload
func (s *Store) Delete(ctx context.Context, requestID string) error {
	return s.redisClient().Del(ctx, KeyPrefix+requestID).Err()
}

// SetResult stores the final payload handed back to the polling endpoint
func (s *Store) SetResult(ctx context.Context, requestID string, data []byte) error {
	return s.redisClient().Set(ctx, KeyPrefix+requestID+ResultKeySuffix, data, ResultTTL).Err()
}

// ConsumeResult reads and deletes the result payload. The result slot is
// single-consumption: a second call returns ErrNotFound.
func (s *Store) ConsumeResult(ctx context.Context, requestID string) ([]byte, error) {
	key := KeyPrefix + requestID + ResultKeySuffix
	data, err := s.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := s.redisClient().Del(ctx, key).Err(); err != nil {
		log.Warnf("[Payload] Failed to delete consumed result %s: %v", requestID, err)
	}
	return data, nil
}

// SetStaging stores intermediate step output so a job retry does not redo
// finished work
func (s *Store) SetStaging(ctx context.Context, requestID string, data []byte) error {
	return s.redisClient().Set(ctx, KeyPrefix+requestID+StagingSuffix, data, StagingTTL).Err()
}

// GetStaging reads intermediate step output
func (s *Store) GetStaging(ctx context.Context, requestID string) ([]byte, error) {
	return s.read(ctx, KeyPrefix+requestID+StagingSuffix)
}

// DeleteStaging removes intermediate step output
func (s *Store) DeleteStaging(ctx context.Context, requestID string) error {
	return s.redisClient().Del(ctx, KeyPrefix+requestID+StagingSuffix).Err()
}

// DeleteAllFor removes every slot belonging to a request
func (s *Store) DeleteAllFor(ctx context.Context, requestID string) error {
	return s.redisClient().Del(ctx,
		KeyPrefix+requestID,
		KeyPrefix+requestID+ResultKeySuffix,
		KeyPrefix+requestID+StagingSuffix,
	).Err()
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	data, err := s.redisClient().Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Count returns the number of resident payload entries
func (s *Store) Count(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// SweepIfAbove clears every payload entry when residency exceeds max.
// Native TTLs keep steady-state residency near zero, so this is a safety
// valve against leaks rather than the primary eviction path; when it does
// fire it evicts in-flight payloads too, which is why it logs loudly.
func (s *Store) SweepIfAbove(ctx context.Context, max int) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) <= max {
		return 0, nil
	}
	log.Warnf("[Payload] Capacity sweep: %d resident entries exceed limit %d, clearing all", len(keys), max)
	if err := s.redisClient().Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *Store) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.redisClient().Scan(ctx, 0, KeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
