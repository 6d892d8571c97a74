package records

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Image status values. Status transitions are the only mutation a stored
// image ever sees.
const (
	StatusPending  = "PENDING"
	StatusAnalyzed = "ANALYZED"
	StatusFailed   = "FAILED"
)

// Parse status values for an analysis record.
const (
	ParseFull        = "FULL"
	ParsePartial     = "PARTIAL"
	ParseUnparseable = "UNPARSEABLE"
)

// StoredImage is the persisted metadata of an uploaded label photo.
type StoredImage struct {
	ID                uuid.UUID `json:"id"`
	GeneratedFilename string    `json:"generatedFilename"`
	OriginalFilename  string    `json:"originalFilename"`
	StorageProvider   string    `json:"storageProvider"`
	StoragePath       string    `json:"storagePath"`
	MimeType          string    `json:"mimeType"`
	Width             int       `json:"width"`
	Height            int       `json:"height"`
	SizeBytes         int64     `json:"sizeBytes"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"createdAt"`
}

// AnalysisRecord is the persisted result of one AI analysis attempt. RawText
// is the verbatim model output and is kept regardless of ParseStatus.
type AnalysisRecord struct {
	ID              uuid.UUID `json:"id"`
	ImageID         uuid.UUID `json:"imageId"`
	RawText         string    `json:"rawText"`
	Fields          Fields    `json:"fields"`
	ParseStatus     string    `json:"parseStatus"`
	ModelIdentifier string    `json:"modelIdentifier"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ProductIdentity names the product shown on the label.
type ProductIdentity struct {
	Name        string `json:"name"`
	Brand       string `json:"brand"`
	Category    string `json:"category"`
	NetQuantity string `json:"netQuantity"`
}

// Empty reports whether no identity attribute is set.
func (p ProductIdentity) Empty() bool {
	return p.Name == "" && p.Brand == "" && p.Category == "" && p.NetQuantity == ""
}

// Fields holds the structured sections extracted from model output. A nil
// pointer or nil slice means the section is absent; a non-nil empty slice
// means the section was reported with nothing in it (e.g. "Allergens: none").
type Fields struct {
	Product         *ProductIdentity `json:"product"`
	Ingredients     []string         `json:"ingredients"`
	Allergens       []string         `json:"allergens"`
	HealthScore     *int             `json:"healthScore"`
	Recommendations []string         `json:"recommendations"`
}

func (f Fields) HasProduct() bool         { return f.Product != nil }
func (f Fields) HasIngredients() bool     { return f.Ingredients != nil }
func (f Fields) HasAllergens() bool       { return f.Allergens != nil }
func (f Fields) HasHealthScore() bool     { return f.HealthScore != nil }
func (f Fields) HasRecommendations() bool { return f.Recommendations != nil }

// Count returns how many sections are present.
func (f Fields) Count() int {
	n := 0
	for _, ok := range []bool{f.HasProduct(), f.HasIngredients(), f.HasAllergens(), f.HasHealthScore(), f.HasRecommendations()} {
		if ok {
			n++
		}
	}
	return n
}

// Complete reports whether all five sections are present.
func (f Fields) Complete() bool { return f.Count() == 5 }

// HealthBand buckets a 1-10 score for display: excellent, good, fair, poor.
// It returns "" when no score is present.
func (f Fields) HealthBand() string {
	if f.HealthScore == nil {
		return ""
	}
	switch s := *f.HealthScore; {
	case s >= 8:
		return "excellent"
	case s >= 6:
		return "good"
	case s >= 4:
		return "fair"
	default:
		return "poor"
	}
}

// MarshalJSON adds the derived healthBand next to the sections. It is
// omitted when no score is present and ignored on decode.
func (f Fields) MarshalJSON() ([]byte, error) {
	type sections Fields
	return json.Marshal(struct {
		sections
		HealthBand string `json:"healthBand,omitempty"`
	}{sections(f), f.HealthBand()})
}

// Stats summarises the store for the dashboard view.
type Stats struct {
	TotalImages    int `json:"totalImages"`
	PendingImages  int `json:"pendingImages"`
	AnalyzedImages int `json:"analyzedImages"`
	FailedImages   int `json:"failedImages"`
	TotalAnalyses  int `json:"totalAnalyses"`
}

// ImageWithAnalysis pairs an image with its most recent analysis, if any.
type ImageWithAnalysis struct {
	Image    StoredImage     `json:"image"`
	Analysis *AnalysisRecord `json:"analysis"`
}
