package progress

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgen/pixelgen/internal/pkg/env"
)

const progressTestRedisDB = 10

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	addrs := []string{
		fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		"127.0.0.1:6379",
	}

	var lastErr error
	for _, addr := range addrs {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       progressTestRedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := client.Ping(ctx).Result()
		cancel()
		if err == nil {
			require.NoError(t, client.FlushDB(context.Background()).Err())
			t.Cleanup(func() {
				_ = client.FlushDB(context.Background()).Err()
				_ = client.Close()
			})
			return client
		}
		_ = client.Close()
		lastErr = err
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestUpsertCreatesAndMerges(t *testing.T) {
	tr := NewTrackerWithClient(newTestRedisClient(t))
	ctx := context.Background()

	require.NoError(t, tr.Upsert(ctx, "req-1", Update{
		UserID:   ptr(uint(7)),
		Progress: ptr(10),
		Step:     ptr("validating_credits"),
		Message:  ptr("Checking your credit balance"),
	}))

	// Partial update: only progress and step change, the rest persists
	require.NoError(t, tr.Upsert(ctx, "req-1", Update{
		Progress: ptr(40),
		Step:     ptr("generating"),
	}))

	rec, err := tr.Get(ctx, "req-1", 7)
	require.NoError(t, err)
	assert.Equal(t, 40, rec.Progress)
	assert.Equal(t, "generating", rec.Step)
	assert.Equal(t, "Checking your credit balance", rec.Message)
	assert.Equal(t, StatusProcessing, rec.Status)
	assert.Equal(t, uint(7), rec.UserID)
}

func TestGetDistinguishesForbiddenFromNotFound(t *testing.T) {
	tr := NewTrackerWithClient(newTestRedisClient(t))
	ctx := context.Background()

	require.NoError(t, tr.Upsert(ctx, "req-1", Update{UserID: ptr(uint(7))}))

	_, err := tr.Get(ctx, "req-1", 8)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = tr.Get(ctx, "req-unknown", 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompletedRecordCarriesResult(t *testing.T) {
	tr := NewTrackerWithClient(newTestRedisClient(t))
	ctx := context.Background()

	require.NoError(t, tr.Upsert(ctx, "req-1", Update{UserID: ptr(uint(7))}))
	require.NoError(t, tr.Upsert(ctx, "req-1", Update{
		Progress: ptr(100),
		Status:   ptr(StatusCompleted),
		Result: &Result{
			ImageCount:  3,
			ImageUUIDs:  []string{"a", "b", "c"},
			CreditsLeft: 4,
		},
	}))

	rec, err := tr.Get(ctx, "req-1", 7)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	require.NotNil(t, rec.Result)
	assert.Equal(t, 3, rec.Result.ImageCount)
	assert.Equal(t, uint(4), rec.Result.CreditsLeft)
}

func TestDeleteRemovesRecord(t *testing.T) {
	tr := NewTrackerWithClient(newTestRedisClient(t))
	ctx := context.Background()

	require.NoError(t, tr.Upsert(ctx, "req-1", Update{UserID: ptr(uint(7))}))
	require.NoError(t, tr.Delete(ctx, "req-1"))

	_, err := tr.Get(ctx, "req-1", 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepRemovesOnlyAgedRecords(t *testing.T) {
	client := newTestRedisClient(t)
	tr := NewTrackerWithClient(client)
	ctx := context.Background()

	require.NoError(t, tr.Upsert(ctx, "req-old", Update{UserID: ptr(uint(7))}))
	require.NoError(t, tr.Upsert(ctx, "req-new", Update{UserID: ptr(uint(7))}))

	// Age the first record past the horizon by rewriting its index score
	aged := time.Now().Add(-RetentionHorizon - time.Minute)
	require.NoError(t, client.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(aged.UnixMilli()),
		Member: "req-old",
	}).Err())

	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = tr.Get(ctx, "req-old", 7)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = tr.Get(ctx, "req-new", 7)
	assert.NoError(t, err)
}

func TestSweepIsIdempotent(t *testing.T) {
	tr := NewTrackerWithClient(newTestRedisClient(t))
	ctx := context.Background()

	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
