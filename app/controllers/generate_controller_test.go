package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgen/pixelgen/internal/pkg/credits"
	"github.com/pixelgen/pixelgen/internal/pkg/genai"
	"github.com/pixelgen/pixelgen/internal/pkg/jobqueue"
	"github.com/pixelgen/pixelgen/internal/pkg/payload"
	"github.com/pixelgen/pixelgen/internal/pkg/progress"
	"github.com/pixelgen/pixelgen/internal/pkg/usercontext"
)

type fakeLedger struct {
	creditsLeft uint
}

func (f *fakeLedger) Balance(ctx context.Context, userID uint) (*credits.Balance, error) {
	return &credits.Balance{CreditsLeft: f.creditsLeft}, nil
}

type fakePayloads struct {
	inputs  map[string][]byte
	results map[string][]byte
}

func newFakePayloads() *fakePayloads {
	return &fakePayloads{inputs: map[string][]byte{}, results: map[string][]byte{}}
}

func (f *fakePayloads) Set(ctx context.Context, requestID string, data []byte) error {
	f.inputs[requestID] = data
	return nil
}

func (f *fakePayloads) ConsumeResult(ctx context.Context, requestID string) ([]byte, error) {
	data, ok := f.results[requestID]
	if !ok {
		return nil, payload.ErrNotFound
	}
	delete(f.results, requestID)
	return data, nil
}

type fakeTracker struct {
	records map[string]*progress.Record
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{records: map[string]*progress.Record{}}
}

func (f *fakeTracker) Upsert(ctx context.Context, requestID string, update progress.Update) error {
	rec, ok := f.records[requestID]
	if !ok {
		rec = &progress.Record{RequestID: requestID, Status: progress.StatusProcessing}
		f.records[requestID] = rec
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
	return nil
}

func (f *fakeTracker) Get(ctx context.Context, requestID string, callerUserID uint) (*progress.Record, error) {
	rec, ok := f.records[requestID]
	if !ok {
		return nil, progress.ErrNotFound
	}
	if rec.UserID != callerUserID {
		return nil, progress.ErrForbidden
	}
	return rec, nil
}

type fakeQueue struct {
	enqueued []map[string]interface{}
}

func (f *fakeQueue) EnqueueJob(jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error) {
	f.enqueued = append(f.enqueued, payload)
	return &jobqueue.Job{ID: "job-1", Type: jobType, Payload: payload}, nil
}

func newTestApp(gc *GenerateController, userID uint) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		if userID != 0 {
			c.Locals("USER_CONTEXT", usercontext.UserContext{UserID: userID, IsLoggedIn: true})
		}
		return c.Next()
	})
	app.Post("/api/v1/generate", gc.Submit)
	app.Get("/api/v1/generate/:request_id", gc.Status)
	app.Get("/api/v1/generate/:request_id/images", gc.Images)
	return app
}

func submitBody(t *testing.T) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(map[string]string{
		"prompt": "studio portrait",
		"image":  genai.EncodeDataURI("image/png", []byte("photo-bytes")),
	})
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func TestSubmitAcceptsValidRequest(t *testing.T) {
	payloads := newFakePayloads()
	tracker := newFakeTracker()
	queue := &fakeQueue{}
	gc := NewGenerateController(&fakeLedger{creditsLeft: 5}, payloads, tracker, queue)
	app := newTestApp(gc, 7)

	req := httptest.NewRequest("POST", "/api/v1/generate", submitBody(t))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	requestID := out["request_id"]
	assert.NotEmpty(t, requestID)
	assert.Equal(t, "processing", out["status"])

	// Payload stored, progress seeded, job enqueued under the same id
	assert.Contains(t, payloads.inputs, requestID)
	require.Contains(t, tracker.records, requestID)
	assert.Equal(t, uint(7), tracker.records[requestID].UserID)
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, requestID, queue.enqueued[0]["request_id"])
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	gc := NewGenerateController(&fakeLedger{creditsLeft: 5}, newFakePayloads(), newFakeTracker(), &fakeQueue{})
	app := newTestApp(gc, 7)

	body := bytes.NewBufferString(`{"prompt":"x"}`)
	req := httptest.NewRequest("POST", "/api/v1/generate", body)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRejectsNonImagePayload(t *testing.T) {
	gc := NewGenerateController(&fakeLedger{creditsLeft: 5}, newFakePayloads(), newFakeTracker(), &fakeQueue{})
	app := newTestApp(gc, 7)

	body, _ := json.Marshal(map[string]string{
		"prompt": "x",
		"image":  genai.EncodeDataURI("text/plain", []byte("hello")),
	})
	req := httptest.NewRequest("POST", "/api/v1/generate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestSubmitRejectsEmptyBalance(t *testing.T) {
	queue := &fakeQueue{}
	gc := NewGenerateController(&fakeLedger{creditsLeft: 0}, newFakePayloads(), newFakeTracker(), queue)
	app := newTestApp(gc, 7)

	req := httptest.NewRequest("POST", "/api/v1/generate", submitBody(t))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	assert.Empty(t, queue.enqueued)
}

func TestStatusOwnershipAndNotFound(t *testing.T) {
	tracker := newFakeTracker()
	gc := NewGenerateController(&fakeLedger{creditsLeft: 5}, newFakePayloads(), tracker, &fakeQueue{})

	uid := uint(7)
	step := "generating"
	p := 40
	require.NoError(t, tracker.Upsert(context.Background(), "req-1", progress.Update{UserID: &uid, Step: &step, Progress: &p}))

	// Owner sees the record
	app := newTestApp(gc, 7)
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/generate/req-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	// Another user is told forbidden, not not-found
	other := newTestApp(gc, 8)
	resp, err = other.Test(httptest.NewRequest("GET", "/api/v1/generate/req-1", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// Unknown id is not-found
	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/generate/req-unknown", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestImagesSingleConsumption(t *testing.T) {
	payloads := newFakePayloads()
	tracker := newFakeTracker()
	gc := NewGenerateController(&fakeLedger{creditsLeft: 5}, payloads, tracker, &fakeQueue{})
	app := newTestApp(gc, 7)

	uid := uint(7)
	status := progress.StatusCompleted
	require.NoError(t, tracker.Upsert(context.Background(), "req-1", progress.Update{UserID: &uid, Status: &status}))
	payloads.results["req-1"] = []byte(`{"images":[{"data_uri":"data:image/png;base64,AAAA"}]}`)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/generate/req-1/images", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "data_uri")

	// Second fetch: the slot is gone
	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/generate/req-1/images", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusGone, resp.StatusCode)
}

func TestImagesNotReady(t *testing.T) {
	tracker := newFakeTracker()
	gc := NewGenerateController(&fakeLedger{creditsLeft: 5}, newFakePayloads(), tracker, &fakeQueue{})
	app := newTestApp(gc, 7)

	uid := uint(7)
	require.NoError(t, tracker.Upsert(context.Background(), "req-1", progress.Update{UserID: &uid}))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/generate/req-1/images", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
}
