package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelgen/pixelgen/app/models"
)

type fakeImages struct {
	rows       map[uint]models.GeneratedImage
	deleteErr  map[uint]error
	listCalled int
}

func newFakeImages(rows ...models.GeneratedImage) *fakeImages {
	f := &fakeImages{rows: make(map[uint]models.GeneratedImage), deleteErr: make(map[uint]error)}
	for _, r := range rows {
		f.rows[r.ID] = r
	}
	return f
}

func (f *fakeImages) ListExpired(before time.Time, limit int) ([]models.GeneratedImage, error) {
	f.listCalled++
	var out []models.GeneratedImage
	for _, r := range f.rows {
		if r.ExpiresAt.Before(before) {
			out = append(out, r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeImages) Delete(id uint) error {
	if err := f.deleteErr[id]; err != nil {
		return err
	}
	delete(f.rows, id)
	return nil
}

type fakeBlobDeleter struct {
	deleted []string
	failOn  map[string]error
}

func (f *fakeBlobDeleter) Delete(ctx context.Context, objectKey string) error {
	if err := f.failOn[objectKey]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, objectKey)
	return nil
}

func expiredImage(id uint, key string) models.GeneratedImage {
	return models.GeneratedImage{
		ID:          id,
		UUID:        key,
		StoragePath: key,
		ExpiresAt:   time.Now().Add(-time.Minute),
	}
}

func TestSweeperDeletesBlobAndRow(t *testing.T) {
	images := newFakeImages(
		expiredImage(1, "generated/a/1.png"),
		expiredImage(2, "generated/b/1.png"),
		models.GeneratedImage{ID: 3, UUID: "fresh", StoragePath: "generated/c/1.png", ExpiresAt: time.Now().Add(time.Hour)},
	)
	blobs := &fakeBlobDeleter{}

	stats, err := NewSweeper(images, blobs).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.BlobsDeleted)
	assert.Equal(t, 2, stats.DeletedCount)
	assert.Empty(t, stats.Errors)
	assert.Len(t, blobs.deleted, 2)

	// Unexpired row untouched
	_, ok := images.rows[3]
	assert.True(t, ok)
}

func TestSweeperBlobFailureStillDeletesRow(t *testing.T) {
	images := newFakeImages(expiredImage(1, "generated/a/1.png"))
	blobs := &fakeBlobDeleter{failOn: map[string]error{
		"generated/a/1.png": errors.New("store unavailable"),
	}}

	stats, err := NewSweeper(images, blobs).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, stats.BlobsDeleted)
	assert.Equal(t, 1, stats.DeletedCount)

	// The failure surfaces in the stats, not only in the logs
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "generated/a/1.png")
	assert.Contains(t, stats.Errors[0], "store unavailable")
	assert.Empty(t, images.rows)
}

func TestSweeperRowFailureLeavesRowForNextPass(t *testing.T) {
	images := newFakeImages(expiredImage(1, "generated/a/1.png"))
	images.deleteErr[1] = errors.New("deadlock")
	blobs := &fakeBlobDeleter{}

	stats, err := NewSweeper(images, blobs).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BlobsDeleted)
	assert.Equal(t, 0, stats.DeletedCount)
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0], "deadlock")

	// Second pass retries the row; blob deletion is skipped gracefully by
	// the store treating missing objects as deleted.
	images.deleteErr = map[uint]error{}
	stats, err = NewSweeper(images, blobs).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeletedCount)
	assert.Empty(t, images.rows)
}

func TestSweeperNoObjectStore(t *testing.T) {
	images := newFakeImages(expiredImage(1, "generated/a/1.png"))

	stats, err := NewSweeper(images, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.BlobsDeleted)
	assert.Equal(t, 1, stats.DeletedCount)
}

func TestSweeperEmpty(t *testing.T) {
	images := newFakeImages()
	stats, err := NewSweeper(images, &fakeBlobDeleter{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}
