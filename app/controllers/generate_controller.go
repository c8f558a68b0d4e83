package controllers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/pixelgen/pixelgen/app/repository"
	"github.com/pixelgen/pixelgen/internal/pkg/credits"
	"github.com/pixelgen/pixelgen/internal/pkg/genai"
	"github.com/pixelgen/pixelgen/internal/pkg/jobqueue"
	"github.com/pixelgen/pixelgen/internal/pkg/payload"
	"github.com/pixelgen/pixelgen/internal/pkg/progress"
	"github.com/pixelgen/pixelgen/internal/pkg/usercontext"
)

// maxInputImageBytes caps the decoded source image accepted on submit
const maxInputImageBytes = 10 * 1024 * 1024

// generateRequest is the submit body
type generateRequest struct {
	Prompt string `json:"prompt" validate:"required,max=1000"`
	Image  string `json:"image" validate:"required"` // data URI
	Style  string `json:"style" validate:"omitempty,max=100"`
}

// creditReader is the slice of the ledger the submit path needs
type creditReader interface {
	Balance(ctx context.Context, userID uint) (*credits.Balance, error)
}

// payloadWriter stores and serves request payloads
type payloadWriter interface {
	Set(ctx context.Context, requestID string, data []byte) error
	ConsumeResult(ctx context.Context, requestID string) ([]byte, error)
}

// progressStore is the tracker surface used by the polling endpoints
type progressStore interface {
	Upsert(ctx context.Context, requestID string, update progress.Update) error
	Get(ctx context.Context, requestID string, callerUserID uint) (*progress.Record, error)
}

// jobEnqueuer submits background jobs
type jobEnqueuer interface {
	EnqueueJob(jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
}

// GenerateController handles image generation submission and polling
type GenerateController struct {
	ledger   creditReader
	payloads payloadWriter
	tracker  progressStore
	queue    jobEnqueuer
	validate *validator.Validate
}

var (
	generateController     *GenerateController
	generateControllerOnce sync.Once
)

// GetGenerateController returns the shared controller wired to the global
// services
func GetGenerateController() *GenerateController {
	generateControllerOnce.Do(func() {
		generateController = NewGenerateController(
			credits.NewService(repository.GetGlobalRepositories().User),
			payload.NewStore(),
			progress.NewTracker(),
			jobqueue.GetManager().GetQueue(),
		)
	})
	return generateController
}

// NewGenerateController creates a controller with explicit collaborators
func NewGenerateController(ledger creditReader, payloads payloadWriter, tracker progressStore, queue jobEnqueuer) *GenerateController {
	return &GenerateController{
		ledger:   ledger,
		payloads: payloads,
		tracker:  tracker,
		queue:    queue,
		validate: validator.New(),
	}
}

// Submit handles POST /api/v1/generate
func (gc *GenerateController) Submit(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Authentication required")
	}

	var req generateRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Request body is not valid JSON")
	}
	if err := gc.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "prompt is required (max 1000 chars) and image must be provided")
	}

	mime, raw, err := genai.ParseDataURI(req.Image)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_image", "image must be a base64 data URI")
	}
	if len(raw) == 0 || len(raw) > maxInputImageBytes {
		return jsonError(c, fiber.StatusBadRequest, "invalid_image", "image is empty or exceeds the size limit")
	}
	if !strings.HasPrefix(mime, "image/") {
		return jsonError(c, fiber.StatusBadRequest, "invalid_image", "data URI must carry an image mime type")
	}

	// Fail fast on an empty balance; the workflow re-checks before charging
	bal, err := gc.ledger.Balance(c.Context(), userID)
	if err != nil {
		log.Errorf("[Generate] Balance check for user %d failed: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not verify credit balance")
	}
	if bal.CreditsLeft == 0 {
		return jsonError(c, fiber.StatusPaymentRequired, "insufficient_credits", "You don't have enough credits for this generation")
	}

	requestID := uuid.New().String()

	if err := gc.payloads.Set(c.Context(), requestID, []byte(req.Image)); err != nil {
		log.Errorf("[Generate] Failed to store payload for %s: %v", requestID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not store the uploaded image")
	}

	// Seed the progress record before the job exists so the first poll
	// never sees not-found.
	zero := 0
	step := "queued"
	msg := "Waiting for a worker"
	status := progress.StatusProcessing
	if err := gc.tracker.Upsert(c.Context(), requestID, progress.Update{
		UserID:   &userID,
		Progress: &zero,
		Step:     &step,
		Message:  &msg,
		Status:   &status,
	}); err != nil {
		log.Warnf("[Generate] Failed to seed progress for %s: %v", requestID, err)
	}

	jobPayload := jobqueue.GenerationJobPayload{
		RequestID: requestID,
		UserID:    userID,
		Prompt:    req.Prompt,
		Style:     req.Style,
	}
	if _, err := gc.queue.EnqueueJob(jobqueue.JobTypeGeneration, jobPayload.ToMap()); err != nil {
		log.Errorf("[Generate] Failed to enqueue job for %s: %v", requestID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not queue the generation job")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"request_id": requestID,
		"status":     "processing",
	})
}

// Status handles GET /api/v1/generate/:request_id
func (gc *GenerateController) Status(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	requestID := c.Params("request_id")
	if requestID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "request_id is required")
	}

	rec, err := gc.tracker.Get(c.Context(), requestID, userID)
	if err != nil {
		switch {
		case errors.Is(err, progress.ErrNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "No job found for this request id")
		case errors.Is(err, progress.ErrForbidden):
			return jsonError(c, fiber.StatusForbidden, "forbidden", "This job belongs to another account")
		default:
			log.Errorf("[Generate] Progress lookup for %s failed: %v", requestID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not read job progress")
		}
	}

	resp := fiber.Map{
		"request_id": rec.RequestID,
		"status":     rec.Status,
		"progress":   rec.Progress,
		"step":       rec.Step,
		"message":    rec.Message,
	}
	if rec.Status == progress.StatusCompleted && rec.Result != nil {
		resp["result"] = rec.Result
	}
	if rec.Status == progress.StatusFailed && rec.Error != "" {
		resp["error"] = rec.Error
	}
	return c.JSON(resp)
}

// Images handles GET /api/v1/generate/:request_id/images. The result slot
// is single-consumption: the payload is deleted as it is served.
func (gc *GenerateController) Images(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	requestID := c.Params("request_id")
	if requestID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "request_id is required")
	}

	// Ownership check rides on the progress record
	rec, err := gc.tracker.Get(c.Context(), requestID, userID)
	if err != nil {
		switch {
		case errors.Is(err, progress.ErrNotFound):
			return jsonError(c, fiber.StatusNotFound, "not_found", "No job found for this request id")
		case errors.Is(err, progress.ErrForbidden):
			return jsonError(c, fiber.StatusForbidden, "forbidden", "This job belongs to another account")
		default:
			log.Errorf("[Generate] Progress lookup for %s failed: %v", requestID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not read job progress")
		}
	}
	if rec.Status != progress.StatusCompleted {
		return jsonError(c, fiber.StatusConflict, "not_ready", "The job has not completed yet")
	}

	data, err := gc.payloads.ConsumeResult(c.Context(), requestID)
	if err != nil {
		if errors.Is(err, payload.ErrNotFound) {
			return jsonError(c, fiber.StatusGone, "result_unavailable", "The result was already fetched or has expired")
		}
		log.Errorf("[Generate] Result fetch for %s failed: %v", requestID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not read the result payload")
	}

	c.Set("Content-Type", fiber.MIMEApplicationJSON)
	return c.Send(data)
}
