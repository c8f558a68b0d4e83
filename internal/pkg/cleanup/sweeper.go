package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/pixelgen/pixelgen/app/models"
)

const (
	// DefaultInterval is how often the expiry sweep runs
	DefaultInterval = 30 * time.Minute
	// DefaultBatchSize bounds one sweep pass so a large backlog is worked
	// off across several passes instead of one long transactionless burst.
	DefaultBatchSize = 200
)

// ImageLister lists and deletes expired generated-image rows
type ImageLister interface {
	ListExpired(before time.Time, limit int) ([]models.GeneratedImage, error)
	Delete(id uint) error
}

// BlobDeleter removes a stored blob by object key
type BlobDeleter interface {
	Delete(ctx context.Context, objectKey string) error
}

// Stats summarizes one sweep pass. DeletedCount counts fully removed
// images (metadata row gone); Errors carries every deletion failure so
// callers see them, not just the logs.
type Stats struct {
	Scanned      int      `json:"scanned"`
	BlobsDeleted int      `json:"blobs_deleted"`
	DeletedCount int      `json:"deleted_count"`
	Errors       []string `json:"errors"`
}

// Sweeper removes expired generated images: the blob from the object store
// and the metadata row from the database. The two deletions are independent
// so a blob failure never strands the row, and vice versa; whatever remains
// is picked up by the next pass, which makes the sweep idempotent.
type Sweeper struct {
	images    ImageLister
	blobs     BlobDeleter // nil means object store unavailable
	batchSize int
}

// NewSweeper creates an expiry sweeper
func NewSweeper(images ImageLister, blobs BlobDeleter) *Sweeper {
	return &Sweeper{images: images, blobs: blobs, batchSize: DefaultBatchSize}
}

// Run performs one sweep pass over expired images
func (s *Sweeper) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	expired, err := s.images.ListExpired(time.Now(), s.batchSize)
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(expired)
	if len(expired) == 0 {
		return stats, nil
	}

	for _, img := range expired {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		blobGone := true
		if s.blobs != nil && img.StoragePath != "" {
			if err := s.blobs.Delete(ctx, img.StoragePath); err != nil {
				// Keep going: the row deletion below is independent, and a
				// missing blob next pass is a no-op for the store.
				log.Warnf("[Cleanup] Failed to delete blob %s for image %s: %v", img.StoragePath, img.UUID, err)
				blobGone = false
				stats.Errors = append(stats.Errors, fmt.Sprintf("blob %s: %v", img.StoragePath, err))
			} else {
				stats.BlobsDeleted++
			}
		}

		if err := s.images.Delete(img.ID); err != nil {
			log.Warnf("[Cleanup] Failed to delete row for image %s: %v", img.UUID, err)
			stats.Errors = append(stats.Errors, fmt.Sprintf("image %s: %v", img.UUID, err))
			continue
		}
		stats.DeletedCount++

		if !blobGone {
			// Row is gone but the blob lingers; the object store lifecycle
			// rule is the backstop for these orphans.
			log.Warnf("[Cleanup] Orphaned blob %s left behind for image %s", img.StoragePath, img.UUID)
		}
	}

	log.Infof("[Cleanup] Sweep pass: scanned=%d blobs=%d deleted=%d errors=%d",
		stats.Scanned, stats.BlobsDeleted, stats.DeletedCount, len(stats.Errors))
	return stats, nil
}
