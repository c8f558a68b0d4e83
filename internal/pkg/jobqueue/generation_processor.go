package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pixelgen/pixelgen/app/repository"
	"github.com/pixelgen/pixelgen/internal/pkg/credits"
	"github.com/pixelgen/pixelgen/internal/pkg/genai"
	"github.com/pixelgen/pixelgen/internal/pkg/generation"
	"github.com/pixelgen/pixelgen/internal/pkg/payload"
	"github.com/pixelgen/pixelgen/internal/pkg/progress"
	"github.com/pixelgen/pixelgen/internal/pkg/storage"
)

var (
	genEngine   *generation.Engine
	genEngineMu sync.Mutex
)

// SetGenerationEngine installs an explicit engine (tests)
func SetGenerationEngine(e *generation.Engine) {
	genEngineMu.Lock()
	defer genEngineMu.Unlock()
	genEngine = e
}

// getGenerationEngine builds the shared workflow engine from the global
// services on first use
func getGenerationEngine() (*generation.Engine, error) {
	genEngineMu.Lock()
	defer genEngineMu.Unlock()
	if genEngine != nil {
		return genEngine, nil
	}

	provider, err := genai.NewHTTPProviderFromEnv()
	if err != nil {
		return nil, fmt.Errorf("generation engine: %w", err)
	}

	repos := repository.GetGlobalRepositories()

	var blobs generation.BlobStore
	if client := storage.GetClient(); client != nil {
		blobs = client
	}

	genEngine = generation.NewEngine(
		credits.NewService(repos.User),
		payload.NewStore(),
		progress.NewTracker(),
		provider,
		blobs,
		repos.GeneratedImage,
	)
	return genEngine, nil
}

// processGenerationJob runs the generation workflow for one job. Completed
// steps are written back into the job payload after each step so a retried
// or recovered job resumes where it left off.
func (q *Queue) processGenerationJob(ctx context.Context, job *Job) error {
	p, err := GenerationJobPayloadFromMap(job.Payload)
	if err != nil {
		return generation.Permanent(fmt.Errorf("failed to parse generation payload: %w", err))
	}
	if p.RequestID == "" || p.UserID == 0 {
		return generation.Permanent(fmt.Errorf("generation payload missing request_id or user_id"))
	}

	engine, err := getGenerationEngine()
	if err != nil {
		return err
	}

	wfJob := &generation.Job{
		RequestID: p.RequestID,
		UserID:    p.UserID,
		Prompt:    p.Prompt,
		Style:     p.Style,
		StepsDone: p.StepsDone,
	}

	save := func(stepsDone []string) error {
		p.StepsDone = stepsDone
		job.Payload = p.ToMap()
		q.updateJob(ctx, job)
		return nil
	}

	return engine.Run(ctx, wfJob, save)
}

// finalizeFailedJob performs terminal cleanup for a generation job that
// exhausted its retries or failed permanently
func (q *Queue) finalizeFailedJob(ctx context.Context, job *Job, cause error) {
	if job.Type != JobTypeGeneration {
		return
	}
	p, err := GenerationJobPayloadFromMap(job.Payload)
	if err != nil || p.RequestID == "" {
		log.Errorf("[JobQueue] Cannot finalize failed job %s: unreadable payload", job.ID)
		return
	}
	engine, err := getGenerationEngine()
	if err != nil {
		log.Errorf("[JobQueue] Cannot finalize failed job %s: %v", job.ID, err)
		return
	}
	engine.Fail(ctx, &generation.Job{
		RequestID: p.RequestID,
		UserID:    p.UserID,
		Prompt:    p.Prompt,
		Style:     p.Style,
		StepsDone: p.StepsDone,
	}, cause)
}
