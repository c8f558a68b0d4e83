package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/pixelgen/pixelgen/app/models"
	"github.com/pixelgen/pixelgen/internal/pkg/credits"
	"github.com/pixelgen/pixelgen/internal/pkg/env"
	"github.com/pixelgen/pixelgen/internal/pkg/genai"
	"github.com/pixelgen/pixelgen/internal/pkg/payload"
	"github.com/pixelgen/pixelgen/internal/pkg/progress"
)

const (
	// DefaultMaxAttempts bounds model calls per job; one call collects at
	// most one variation.
	DefaultMaxAttempts = 3
	// DefaultConcurrency caps jobs inside the generate step across the
	// whole deployment, respecting the provider's own rate limits.
	DefaultConcurrency = 5

	baseAttemptDelay = 1500 * time.Millisecond
	maxAttemptDelay  = 5 * time.Second
)

// Ledger is the slice of the credit ledger the engine needs
type Ledger interface {
	Deduct(ctx context.Context, userID uint, amount uint) (uint, error)
	Refund(ctx context.Context, userID uint, amount uint) (uint, error)
	Balance(ctx context.Context, userID uint) (*credits.Balance, error)
}

// PayloadStore hands large blobs between request handler, engine and
// polling endpoint without touching the job queue
type PayloadStore interface {
	Get(ctx context.Context, requestID string) ([]byte, error)
	Delete(ctx context.Context, requestID string) error
	SetResult(ctx context.Context, requestID string, data []byte) error
	SetStaging(ctx context.Context, requestID string, data []byte) error
	GetStaging(ctx context.Context, requestID string) ([]byte, error)
	DeleteStaging(ctx context.Context, requestID string) error
	DeleteAllFor(ctx context.Context, requestID string) error
}

// ProgressSink receives state-change notifications after each step
type ProgressSink interface {
	Upsert(ctx context.Context, requestID string, update progress.Update) error
}

// BlobStore persists generated image bytes
type BlobStore interface {
	Upload(ctx context.Context, objectKey string, data []byte, contentType string) error
}

// ImageRecorder persists generated image metadata rows
type ImageRecorder interface {
	Create(image *models.GeneratedImage) error
}

// Output is the result payload placed in the payload store for the client
// to fetch once, separate from the small progress projection.
type Output struct {
	Images      []OutputImage `json:"images"`
	ImageUUIDs  []string      `json:"image_uuids"`
	CreditsLeft uint          `json:"credits_left"`
}

// OutputImage is one variation encoded for transport
type OutputImage struct {
	DataURI  string `json:"data_uri"`
	MimeType string `json:"mime_type"`
}

// SaveFunc persists the job's completed-step set between steps
type SaveFunc func(stepsDone []string) error

// Engine executes the generation workflow step by step. Steps already
// recorded in the job are not re-executed; only the failed step and the
// ones after it rerun on a job retry.
type Engine struct {
	ledger      Ledger
	payloads    PayloadStore
	progress    ProgressSink
	provider    genai.Provider
	blobs       BlobStore
	records     ImageRecorder
	sem         *semaphore.Weighted
	maxAttempts int

	// attemptSleep is swapped out in tests to avoid real delays
	attemptSleep func(ctx context.Context, d time.Duration) error
}

// NewEngine wires a workflow engine from its collaborators
func NewEngine(ledger Ledger, payloads PayloadStore, progressSink ProgressSink, provider genai.Provider, blobs BlobStore, records ImageRecorder) *Engine {
	maxAttempts := DefaultMaxAttempts
	if v, err := strconv.Atoi(env.GetEnv("GEN_MAX_ATTEMPTS", "")); err == nil && v > 0 {
		maxAttempts = v
	}
	concurrency := DefaultConcurrency
	if v, err := strconv.Atoi(env.GetEnv("GEN_CONCURRENCY", "")); err == nil && v > 0 {
		concurrency = v
	}
	return &Engine{
		ledger:       ledger,
		payloads:     payloads,
		progress:     progressSink,
		provider:     provider,
		blobs:        blobs,
		records:      records,
		sem:          semaphore.NewWeighted(int64(concurrency)),
		maxAttempts:  maxAttempts,
		attemptSleep: sleepCtx,
	}
}

// runState carries in-memory step outputs within one Run invocation.
// Outputs that must survive a job retry live in the payload store's
// staging slot instead.
type runState struct {
	inputMime   string
	inputData   []byte
	variations  []genai.Image
	creditsLeft uint
}

// Run executes all pending steps of the job in order. It returns nil when
// the job completed, or the failing step's error; callers decide between
// retry and terminal failure using IsPermanent.
func (e *Engine) Run(ctx context.Context, job *Job, save SaveFunc) error {
	st := &runState{}

	for _, step := range StepSequence {
		if job.Done(step) {
			if err := e.restore(ctx, step, job, st); err != nil {
				return err
			}
			continue
		}

		e.reportStep(ctx, job, step)

		if err := e.runStep(ctx, step, job, st); err != nil {
			return fmt.Errorf("step %s: %w", step, err)
		}

		job.MarkDone(step)
		if save != nil {
			if err := save(job.StepsDone); err != nil {
				log.Errorf("[Generation] Failed to persist step state for %s: %v", job.RequestID, err)
			}
		}
	}

	return nil
}

// Fail finalizes a job that will not run again: the input payload is
// cleaned up, a deduction without a delivered result is refunded, and the
// progress tracker gets a terminal failed record with a user-facing
// message.
func (e *Engine) Fail(ctx context.Context, job *Job, cause error) {
	if err := e.payloads.DeleteAllFor(ctx, job.RequestID); err != nil {
		log.Errorf("[Generation] Cleanup of payloads for failed job %s: %v", job.RequestID, err)
	}

	// Every deduction must pair with a delivered result. If the charge went
	// through but persist never did, give the credit back; a refund failure
	// is logged for reconciliation, same as a deduct failure.
	if job.Done(StepDeductCredits) && !job.Done(StepPersist) {
		if left, err := e.ledger.Refund(ctx, job.UserID, 1); err != nil {
			log.Errorf("[Generation] %s: refund after terminal failure failed, needs reconciliation (user %d): %v",
				job.RequestID, job.UserID, err)
		} else {
			log.Infof("[Generation] %s: refunded 1 credit to user %d after terminal failure (balance %d)",
				job.RequestID, job.UserID, left)
		}
	}

	status := progress.StatusFailed
	msg := userFacingMessage(cause)
	if err := e.progress.Upsert(ctx, job.RequestID, progress.Update{
		UserID: &job.UserID,
		Status: &status,
		Error:  &msg,
	}); err != nil {
		log.Errorf("[Generation] Failed to record terminal failure for %s: %v", job.RequestID, err)
	}
}

func (e *Engine) runStep(ctx context.Context, step Step, job *Job, st *runState) error {
	switch step {
	case StepValidateCredits:
		return e.validateCredits(ctx, job)
	case StepFetchPayload:
		return e.fetchPayload(ctx, job, st)
	case StepGenerate:
		return e.generate(ctx, job, st)
	case StepDeductCredits:
		return e.deductCredits(ctx, job, st)
	case StepPersist:
		return e.persistAndNotify(ctx, job, st)
	default:
		return fmt.Errorf("unknown step: %s", step)
	}
}

// restore rehydrates in-memory outputs of an already-completed step when a
// later step still needs them on a retried job.
func (e *Engine) restore(ctx context.Context, step Step, job *Job, st *runState) error {
	switch step {
	case StepFetchPayload:
		// Only needed while generate is still pending; afterwards the
		// input has been consumed and deleted.
		if job.Done(StepGenerate) {
			return nil
		}
		return e.fetchPayload(ctx, job, st)
	case StepGenerate:
		data, err := e.payloads.GetStaging(ctx, job.RequestID)
		if err != nil {
			if errors.Is(err, payload.ErrNotFound) {
				return Permanent(fmt.Errorf("generated variations expired before persisting: %w", ErrPayloadMissing))
			}
			return err
		}
		return json.Unmarshal(data, &st.variations)
	case StepDeductCredits:
		if bal, err := e.ledger.Balance(ctx, job.UserID); err == nil {
			st.creditsLeft = bal.CreditsLeft
		}
		return nil
	default:
		return nil
	}
}

func (e *Engine) validateCredits(ctx context.Context, job *Job) error {
	bal, err := e.ledger.Balance(ctx, job.UserID)
	if err != nil {
		return err
	}
	if bal.CreditsLeft == 0 {
		return Permanent(credits.ErrInsufficientCredits)
	}
	return nil
}

func (e *Engine) fetchPayload(ctx context.Context, job *Job, st *runState) error {
	data, err := e.payloads.Get(ctx, job.RequestID)
	if err != nil {
		if errors.Is(err, payload.ErrNotFound) {
			return Permanent(ErrPayloadMissing)
		}
		return err
	}
	mime, raw, err := genai.ParseDataURI(string(data))
	if err != nil {
		return Permanent(fmt.Errorf("invalid input payload: %w", err))
	}
	st.inputMime = mime
	st.inputData = raw
	return nil
}

// generate collects image variations across up to maxAttempts model calls.
// Individual call failures are swallowed and logged; the step fails only
// when every attempt came back empty or broken. The input payload is
// consumed (deleted) once the step succeeds.
func (e *Engine) generate(ctx context.Context, job *Job, st *runState) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	prompt := job.EffectivePrompt()
	delay := baseAttemptDelay

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		img, err := e.provider.Generate(ctx, genai.Request{
			Prompt:    genai.PerturbPrompt(prompt, attempt),
			ImageData: st.inputData,
			MimeType:  st.inputMime,
		})
		if err != nil {
			log.Warnf("[Generation] %s: model attempt %d/%d failed: %v", job.RequestID, attempt+1, e.maxAttempts, err)
		} else {
			st.variations = append(st.variations, *img)
			delay = baseAttemptDelay
		}

		// Pause before every follow-up call, success or not: together with
		// prompt perturbation it keeps back-to-back calls from producing
		// near-duplicate variations.
		if attempt < e.maxAttempts-1 {
			if serr := e.attemptSleep(ctx, delay); serr != nil {
				break
			}
		}
		if err != nil {
			delay *= 2
			if delay > maxAttemptDelay {
				delay = maxAttemptDelay
			}
		}
	}

	if len(st.variations) == 0 {
		return Permanent(ErrGenerationFailed)
	}

	staged, err := json.Marshal(st.variations)
	if err != nil {
		return fmt.Errorf("stage variations: %w", err)
	}
	if err := e.payloads.SetStaging(ctx, job.RequestID, staged); err != nil {
		return err
	}

	// Input consumed; from here on a retry restores from staging.
	if err := e.payloads.Delete(ctx, job.RequestID); err != nil {
		log.Warnf("[Generation] %s: failed to delete consumed input payload: %v", job.RequestID, err)
	}
	return nil
}

// deductCredits charges exactly one credit now that at least one usable
// variation exists. A failure here never fails the job: the images are
// already valid and the accounting miss is logged for reconciliation.
func (e *Engine) deductCredits(ctx context.Context, job *Job, st *runState) error {
	left, err := e.ledger.Deduct(ctx, job.UserID, 1)
	if err != nil {
		log.Errorf("[Generation] %s: credit deduction failed after successful generation, needs reconciliation (user %d): %v",
			job.RequestID, job.UserID, err)
		if bal, berr := e.ledger.Balance(ctx, job.UserID); berr == nil {
			st.creditsLeft = bal.CreditsLeft
		}
		return nil
	}
	st.creditsLeft = left
	return nil
}

func (e *Engine) persistAndNotify(ctx context.Context, job *Job, st *runState) error {
	if e.blobs == nil {
		return fmt.Errorf("object store unavailable")
	}

	output := Output{CreditsLeft: st.creditsLeft}
	for i, v := range st.variations {
		objectKey := fmt.Sprintf("generated/%s/%d%s", job.RequestID, i+1, genai.ExtensionForMime(v.MimeType))
		if err := e.blobs.Upload(ctx, objectKey, v.Data, v.MimeType); err != nil {
			return err
		}

		rec := &models.GeneratedImage{
			UUID:        uuid.New().String(),
			UserID:      job.UserID,
			RequestID:   job.RequestID,
			StoragePath: objectKey,
			ContentType: v.MimeType,
			FileSize:    int64(len(v.Data)),
			Prompt:      job.Prompt,
			Style:       job.Style,
			ExpiresAt:   time.Now().Add(models.GeneratedImageTTL),
		}
		if err := e.records.Create(rec); err != nil {
			return err
		}

		output.Images = append(output.Images, OutputImage{
			DataURI:  genai.EncodeDataURI(v.MimeType, v.Data),
			MimeType: v.MimeType,
		})
		output.ImageUUIDs = append(output.ImageUUIDs, rec.UUID)
	}

	resultData, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal result payload: %w", err)
	}
	if err := e.payloads.SetResult(ctx, job.RequestID, resultData); err != nil {
		return err
	}
	if err := e.payloads.DeleteStaging(ctx, job.RequestID); err != nil {
		log.Warnf("[Generation] %s: failed to delete staging payload: %v", job.RequestID, err)
	}

	// The completed record carries metadata only; clients fetch the image
	// bytes through the payload result slot.
	status := progress.StatusCompleted
	done := 100
	msg := "Your images are ready"
	stepName := "completed"
	if err := e.progress.Upsert(ctx, job.RequestID, progress.Update{
		UserID:   &job.UserID,
		Progress: &done,
		Step:     &stepName,
		Message:  &msg,
		Status:   &status,
		Result: &progress.Result{
			ImageCount:  len(output.Images),
			ImageUUIDs:  output.ImageUUIDs,
			CreditsLeft: st.creditsLeft,
		},
	}); err != nil {
		log.Errorf("[Generation] %s: failed to record completion: %v", job.RequestID, err)
	}
	return nil
}

func (e *Engine) reportStep(ctx context.Context, job *Job, step Step) {
	info, ok := stepProgress[step]
	if !ok {
		return
	}
	status := progress.StatusProcessing
	stepName := string(step)
	if err := e.progress.Upsert(ctx, job.RequestID, progress.Update{
		UserID:   &job.UserID,
		Progress: &info.Percent,
		Step:     &stepName,
		Message:  &info.Message,
		Status:   &status,
	}); err != nil {
		log.Warnf("[Generation] %s: progress update for step %s failed: %v", job.RequestID, step, err)
	}
}

// userFacingMessage maps an internal failure to the message shown through
// the polling endpoint.
func userFacingMessage(err error) string {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		return "You don't have enough credits for this generation."
	case errors.Is(err, ErrPayloadMissing):
		return "Your uploaded photo expired before processing. Please submit it again."
	case errors.Is(err, ErrGenerationFailed):
		return "The model could not generate any images from your photo. Please try again."
	default:
		return "Image generation failed unexpectedly. Please try again."
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
