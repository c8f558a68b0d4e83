package jobqueue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pixelgen/pixelgen/app/repository"
	"github.com/pixelgen/pixelgen/internal/pkg/cleanup"
	"github.com/pixelgen/pixelgen/internal/pkg/env"
	"github.com/pixelgen/pixelgen/internal/pkg/payload"
	"github.com/pixelgen/pixelgen/internal/pkg/progress"
	"github.com/pixelgen/pixelgen/internal/pkg/storage"
)

const (
	progressSweepInterval = 5 * time.Minute
	payloadSweepInterval  = 10 * time.Minute
	cleanupSweepInterval  = 30 * time.Minute

	// defaultPayloadMaxEntries is the residency ceiling above which the
	// payload capacity sweep clears the store.
	defaultPayloadMaxEntries = 1000
)

// Manager manages the global job queue and background sweeps
type Manager struct {
	queue          *Queue
	progressTicker *time.Ticker
	payloadTicker  *time.Ticker
	cleanupTicker  *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 5
		if v, err := strconv.Atoi(env.GetEnv("JOBQUEUE_WORKERS", "")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background sweeps
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background sweeps")

	// Start the job queue
	m.queue.Start()

	// Progress records past the retention horizon
	m.progressTicker = time.NewTicker(progressSweepInterval)
	m.wg.Add(1)
	go m.progressSweepWorker()

	// Payload store residency safety valve
	m.payloadTicker = time.NewTicker(payloadSweepInterval)
	m.wg.Add(1)
	go m.payloadSweepWorker()

	// Expired generated images (blob + row)
	m.cleanupTicker = time.NewTicker(cleanupSweepInterval)
	m.wg.Add(1)
	go m.cleanupSweepWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background sweeps
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background sweeps...")

	if m.progressTicker != nil {
		m.progressTicker.Stop()
	}
	if m.payloadTicker != nil {
		m.payloadTicker.Stop()
	}
	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}

	// Signal workers to stop. Start recreates the channel, so it must not
	// be nilled here while workers still select on it.
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// progressSweepWorker periodically removes progress records past retention
func (m *Manager) progressSweepWorker() {
	defer m.wg.Done()
	tracker := progress.NewTracker()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Progress sweep worker stopping")
			return
		case <-m.progressTicker.C:
			if n, err := tracker.Sweep(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Progress sweep error: %v", err)
			} else if n > 0 {
				log.Infof("[JobQueue Manager] Progress sweep removed %d records", n)
			}
		}
	}
}

// payloadSweepWorker periodically enforces the payload residency ceiling
func (m *Manager) payloadSweepWorker() {
	defer m.wg.Done()
	store := payload.NewStore()
	maxEntries := defaultPayloadMaxEntries
	if v, err := strconv.Atoi(env.GetEnv("PAYLOAD_MAX_ENTRIES", "")); err == nil && v > 0 {
		maxEntries = v
	}
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Payload sweep worker stopping")
			return
		case <-m.payloadTicker.C:
			if n, err := store.SweepIfAbove(context.Background(), maxEntries); err != nil {
				log.Errorf("[JobQueue Manager] Payload sweep error: %v", err)
			} else if n > 0 {
				log.Warnf("[JobQueue Manager] Payload capacity sweep cleared %d entries", n)
			}
		}
	}
}

// cleanupSweepWorker periodically removes expired generated images
func (m *Manager) cleanupSweepWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Cleanup sweep worker stopping")
			return
		case <-m.cleanupTicker.C:
			if err := m.runCleanupSweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Cleanup sweep error: %v", err)
			}
		}
	}
}

func (m *Manager) runCleanupSweepOnce() error {
	_, err := m.RunCleanupSweepOnce()
	return err
}

// RunCleanupSweepOnce exposes a manual trigger for a single expiry sweep
// (admin use). Runs are idempotent, so overlapping with the ticker is safe.
func (m *Manager) RunCleanupSweepOnce() (cleanup.Stats, error) {
	var blobs cleanup.BlobDeleter
	if client := storage.GetClient(); client != nil {
		blobs = client
	}
	sweeper := cleanup.NewSweeper(repository.GetGlobalRepositories().GeneratedImage, blobs)
	return sweeper.Run(context.Background())
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
