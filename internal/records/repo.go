package records

import (
	"context"

	"github.com/google/uuid"
)

// Repo is the persistence gateway for stored images and their analyses.
//
// InsertAnalysis commits the record and flips the image to ANALYZED as one
// unit; it returns ErrOrphanRecord when the image row does not exist.
// Analyses are append-only: reanalysis inserts a new row.
type Repo interface {
	InsertImage(ctx context.Context, img StoredImage) error
	UpdateImageStatus(ctx context.Context, imageID uuid.UUID, status string) error
	InsertAnalysis(ctx context.Context, rec AnalysisRecord) error
	GetImage(ctx context.Context, imageID uuid.UUID) (StoredImage, error)
	ListImages(ctx context.Context, limit, offset int) ([]StoredImage, error)
	// GetAnalysisForImage returns the most recent analysis or ErrNotFound.
	GetAnalysisForImage(ctx context.Context, imageID uuid.UUID) (AnalysisRecord, error)
	ListAnalysesForImage(ctx context.Context, imageID uuid.UUID) ([]AnalysisRecord, error)
	Stats(ctx context.Context) (Stats, error)
}

// ValidStatus reports whether s is a known image status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusAnalyzed, StatusFailed:
		return true
	}
	return false
}
