package controllers

import (
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/pixelgen/pixelgen/internal/pkg/progress"
)

// progressUpdateRequest is the webhook body. Pointer fields distinguish
// "absent" from zero values so partial updates merge instead of clobber.
type progressUpdateRequest struct {
	RequestID string  `json:"request_id" validate:"required"`
	UserID    *uint   `json:"user_id"`
	Progress  *int    `json:"progress" validate:"omitempty,min=0,max=100"`
	Step      *string `json:"step"`
	Message   *string `json:"message"`
	Status    *string `json:"status" validate:"omitempty,oneof=processing completed failed"`
	Error     *string `json:"error"`
}

// ProgressController ingests progress updates from out-of-process workers.
// The in-process engine writes to the tracker directly.
type ProgressController struct {
	tracker  progressStore
	validate *validator.Validate
}

var (
	progressController     *ProgressController
	progressControllerOnce sync.Once
)

// GetProgressController returns the shared controller
func GetProgressController() *ProgressController {
	progressControllerOnce.Do(func() {
		progressController = NewProgressController(progress.NewTracker())
	})
	return progressController
}

// NewProgressController creates a controller with an explicit tracker
func NewProgressController(tracker progressStore) *ProgressController {
	return &ProgressController{tracker: tracker, validate: validator.New()}
}

// Update handles POST /internal/progress
func (pc *ProgressController) Update(c *fiber.Ctx) error {
	var req progressUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Request body is not valid JSON")
	}
	if err := pc.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "request_id is required; progress must be 0-100; status must be processing, completed or failed")
	}

	err := pc.tracker.Upsert(c.Context(), req.RequestID, progress.Update{
		UserID:   req.UserID,
		Progress: req.Progress,
		Step:     req.Step,
		Message:  req.Message,
		Status:   req.Status,
		Error:    req.Error,
	})
	if err != nil {
		log.Errorf("[Progress] Webhook upsert for %s failed: %v", req.RequestID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not store progress update")
	}

	return c.JSON(fiber.Map{"status": "ok"})
}
