package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueAndDequeueJob(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(client, 1)
	ctx := context.Background()

	payload := GenerationJobPayload{
		RequestID: "req-queue-1",
		UserID:    7,
		Prompt:    "neon city at night",
	}

	job, err := q.EnqueueJob(JobTypeGeneration, payload.ToMap())
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, DefaultMaxRetries, job.MaxRetries)

	size, err := q.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	dequeued, err := q.dequeueJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	assert.Equal(t, job.ID, dequeued.ID)

	got, err := GenerationJobPayloadFromMap(dequeued.Payload)
	require.NoError(t, err)
	assert.Equal(t, payload.RequestID, got.RequestID)
	assert.Equal(t, payload.UserID, got.UserID)

	// Dequeue moved the job to the processing list
	processing, err := q.GetProcessingSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)
}

func TestJobStateSurvivesUpdate(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(client, 1)
	ctx := context.Background()

	payload := GenerationJobPayload{RequestID: "req-queue-2", UserID: 3, Prompt: "p"}
	job, err := q.EnqueueJob(JobTypeGeneration, payload.ToMap())
	require.NoError(t, err)

	// Simulate a partial run: two steps done, then persisted
	payload.StepsDone = []string{"validating_credits", "fetching_payload"}
	job.Payload = payload.ToMap()
	q.updateJob(ctx, job)

	reloaded, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	got, err := GenerationJobPayloadFromMap(reloaded.Payload)
	require.NoError(t, err)
	assert.Equal(t, payload.StepsDone, got.StepsDone)
}

func TestGetJobStats(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(client, 1)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.EnqueueJob(JobTypeGeneration, GenerationJobPayload{
			RequestID: "req-stats",
			UserID:    1,
			Prompt:    "p",
		}.ToMap())
		require.NoError(t, err)
	}

	stats, err := q.GetJobStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats[JobStatusPending])
}

func TestRemoveCompletedJobDeletesRecord(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(client, 1)
	ctx := context.Background()

	job, err := q.EnqueueJob(JobTypeGeneration, GenerationJobPayload{
		RequestID: "req-done", UserID: 1, Prompt: "p",
	}.ToMap())
	require.NoError(t, err)

	q.removeCompletedJob(ctx, job.ID)

	_, err = q.GetJob(ctx, job.ID)
	assert.Error(t, err)
}

func TestQueueRestartsAfterStop(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(client, 1)

	q.Start()
	q.Stop()

	// A second Start must hand the workers a live stop channel; the one
	// from the previous cycle is already closed.
	q.Start()
	defer q.Stop()

	assert.True(t, q.running)
	select {
	case <-q.stopCh:
		t.Fatal("stop channel already closed after restart")
	default:
	}
}

func TestJobRecordHasTTL(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	q := NewQueueWithClient(client, 1)
	ctx := context.Background()

	job, err := q.EnqueueJob(JobTypeGeneration, GenerationJobPayload{
		RequestID: "req-ttl", UserID: 1, Prompt: "p",
	}.ToMap())
	require.NoError(t, err)

	ttl, err := client.TTL(ctx, JobKeyPrefix+job.ID).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 23*time.Hour)
	assert.LessOrEqual(t, ttl, JobTTL)
}
