package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/pixelgen/pixelgen/internal/pkg/cache"
)

const (
	keyFormat = "progress:%s"
	indexKey  = "progress:index"

	// RetentionHorizon bounds how long a progress record is kept,
	// regardless of terminal state.
	RetentionHorizon = time.Hour
)

// Job status values exposed to polling clients
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

var (
	// ErrNotFound is returned when no record exists for the request id
	ErrNotFound = errors.New("job progress not found")
	// ErrForbidden is returned when the caller does not own the job. It is
	// distinct from ErrNotFound so neither case leaks the other.
	ErrForbidden = errors.New("job progress access denied")
)

// Result carries completion metadata back to the polling client. It never
// contains the image bytes; those are fetched through the payload store.
type Result struct {
	ImageCount  int      `json:"image_count"`
	ImageUUIDs  []string `json:"image_uuids,omitempty"`
	CreditsLeft uint     `json:"credits_left"`
}

// Record is the polling projection of one in-flight job
type Record struct {
	RequestID string    `json:"request_id"`
	UserID    uint      `json:"user_id"`
	Progress  int       `json:"progress"` // 0-100
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Status    string    `json:"status"` // processing | completed | failed
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Update is a partial record; nil fields are left unchanged on merge
type Update struct {
	UserID   *uint
	Progress *int
	Step     *string
	Message  *string
	Status   *string
	Result   *Result
	Error    *string
}

// Tracker is a keyed job-progress store on Redis, one record per request
// id, swept once the retention horizon passes.
type Tracker struct {
	client *redis.Client // nil means use the shared cache client
}

// NewTracker creates a tracker using the shared cache client
func NewTracker() *Tracker {
	return &Tracker{}
}

// NewTrackerWithClient creates a tracker bound to an explicit client (tests)
func NewTrackerWithClient(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

func (t *Tracker) redisClient() *redis.Client {
	if t.client != nil {
		return t.client
	}
	return cache.GetClient()
}

// Get returns the record for requestID if callerUserID owns it.
// A missing record yields ErrNotFound; a record owned by someone else
// yields ErrForbidden.
func (t *Tracker) Get(ctx context.Context, requestID string, callerUserID uint) (*Record, error) {
	rec, err := t.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != callerUserID {
		return nil, ErrForbidden
	}
	return rec, nil
}

// Upsert merges the update into the stored record, creating it if absent.
// Only one workflow instance owns a request id, so last-writer-wins is
// acceptable for the progress value.
func (t *Tracker) Upsert(ctx context.Context, requestID string, update Update) error {
	rec, err := t.load(ctx, requestID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec = &Record{
			RequestID: requestID,
			Status:    StatusProcessing,
			CreatedAt: time.Now(),
		}
	}

	if update.UserID != nil {
		rec.UserID = *update.UserID
	}
	if update.Progress != nil {
		rec.Progress = *update.Progress
	}
	if update.Step != nil {
		rec.Step = *update.Step
	}
	if update.Message != nil {
		rec.Message = *update.Message
	}
	if update.Status != nil {
		rec.Status = *update.Status
	}
	if update.Result != nil {
		rec.Result = update.Result
	}
	if update.Error != nil {
		rec.Error = *update.Error
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal progress record %s: %w", requestID, err)
	}

	pipe := t.redisClient().TxPipeline()
	pipe.Set(ctx, fmt.Sprintf(keyFormat, requestID), data, RetentionHorizon)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(rec.CreatedAt.UnixMilli()), Member: requestID})
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes a record and its index entry
func (t *Tracker) Delete(ctx context.Context, requestID string) error {
	pipe := t.redisClient().TxPipeline()
	pipe.Del(ctx, fmt.Sprintf(keyFormat, requestID))
	pipe.ZRem(ctx, indexKey, requestID)
	_, err := pipe.Exec(ctx)
	return err
}

// Sweep removes records older than the retention horizon and prunes the
// index. Redis TTLs already expire the records themselves; the sweep keeps
// the index bounded and enforces the horizon even when a late upsert
// refreshed a TTL.
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-RetentionHorizon)
	ids, err := t.redisClient().ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "0",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := t.redisClient().TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, fmt.Sprintf(keyFormat, id))
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe.ZRem(ctx, indexKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	log.Debugf("[Progress] Swept %d expired progress records", len(ids))
	return len(ids), nil
}

func (t *Tracker) load(ctx context.Context, requestID string) (*Record, error) {
	data, err := t.redisClient().Get(ctx, fmt.Sprintf(keyFormat, requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal progress record %s: %w", requestID, err)
	}
	return &rec, nil
}
