package records

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepo stores images and analyses in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu       sync.RWMutex
	images   map[uuid.UUID]StoredImage
	analyses map[uuid.UUID][]AnalysisRecord
	names    map[string]struct{}
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		images:   make(map[uuid.UUID]StoredImage),
		analyses: make(map[uuid.UUID][]AnalysisRecord),
		names:    make(map[string]struct{}),
	}
}

// InsertImage stores the image. Generated filenames must be unique.
func (r *MemoryRepo) InsertImage(ctx context.Context, img StoredImage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[img.ID]; ok {
		return fmt.Errorf("%w: image %s already exists", ErrWriteFailure, img.ID)
	}
	if _, ok := r.names[img.GeneratedFilename]; ok {
		return fmt.Errorf("%w: filename %s already exists", ErrWriteFailure, img.GeneratedFilename)
	}
	r.images[img.ID] = img
	r.names[img.GeneratedFilename] = struct{}{}
	return nil
}

// UpdateImageStatus sets the status of an existing image.
func (r *MemoryRepo) UpdateImageStatus(ctx context.Context, imageID uuid.UUID, status string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidStatus(status) {
		return fmt.Errorf("%w: unknown status %q", ErrWriteFailure, status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[imageID]
	if !ok {
		return ErrNotFound
	}
	img.Status = status
	r.images[imageID] = img
	return nil
}

// InsertAnalysis appends the record and marks the image ANALYZED.
func (r *MemoryRepo) InsertAnalysis(ctx context.Context, rec AnalysisRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[rec.ImageID]
	if !ok {
		return ErrOrphanRecord
	}
	r.analyses[rec.ImageID] = append(r.analyses[rec.ImageID], rec)
	img.Status = StatusAnalyzed
	r.images[rec.ImageID] = img
	return nil
}

// GetImage returns an image by ID.
func (r *MemoryRepo) GetImage(ctx context.Context, imageID uuid.UUID) (StoredImage, error) {
	if err := ctx.Err(); err != nil {
		return StoredImage{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.images[imageID]
	if !ok {
		return StoredImage{}, ErrNotFound
	}
	return img, nil
}

// ListImages returns images newest first, with limit/offset.
func (r *MemoryRepo) ListImages(ctx context.Context, limit, offset int) ([]StoredImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}

	r.mu.RLock()
	images := make([]StoredImage, 0, len(r.images))
	for _, img := range r.images {
		images = append(images, img)
	}
	r.mu.RUnlock()

	if offset >= len(images) {
		return []StoredImage{}, nil
	}
	sort.Slice(images, func(i, j int) bool {
		return images[i].CreatedAt.After(images[j].CreatedAt)
	})

	end := len(images)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return images[offset:end], nil
}

// GetAnalysisForImage returns the most recent analysis for the image.
func (r *MemoryRepo) GetAnalysisForImage(ctx context.Context, imageID uuid.UUID) (AnalysisRecord, error) {
	list, err := r.ListAnalysesForImage(ctx, imageID)
	if err != nil {
		return AnalysisRecord{}, err
	}
	if len(list) == 0 {
		return AnalysisRecord{}, ErrNotFound
	}
	return list[0], nil
}

// ListAnalysesForImage returns every analysis of the image, newest first.
func (r *MemoryRepo) ListAnalysesForImage(ctx context.Context, imageID uuid.UUID) ([]AnalysisRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	src := r.analyses[imageID]
	out := make([]AnalysisRecord, len(src))
	copy(out, src)
	r.mu.RUnlock()

	// Stable sort keeps insertion order as the tie-breaker: later appends win.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Stats counts images by status and total analyses.
func (r *MemoryRepo) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	for _, img := range r.images {
		s.TotalImages++
		switch img.Status {
		case StatusPending:
			s.PendingImages++
		case StatusAnalyzed:
			s.AnalyzedImages++
		case StatusFailed:
			s.FailedImages++
		}
	}
	for _, list := range r.analyses {
		s.TotalAnalyses += len(list)
	}
	return s, nil
}

var _ Repo = (*MemoryRepo)(nil)
