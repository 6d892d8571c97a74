package analyses

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"label-decoder/internal/intake"
	"label-decoder/internal/llm"
	"label-decoder/internal/records"
	"label-decoder/internal/shared/metrics"
	"label-decoder/internal/shared/storage/object"
	"label-decoder/internal/shared/telemetry"
)

// Pipeline states of a single submission.
const (
	StateIntake         = "intake"
	StateStored         = "stored"
	StateAnalyzing      = "analyzing"
	StateAnalyzed       = "analyzed"
	StateAnalysisFailed = "analysis_failed"
	StateResultLost     = "result_lost"
)

const defaultHistoryLimit = 20

// FailureInfo describes a failed AI call for display.
type FailureInfo struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Outcome is the caller-facing result of a submission or retry. Analysis is
// nil when the AI call failed. On result_lost it holds the unsaved record so
// the raw text still reaches the caller.
type Outcome struct {
	Image    records.StoredImage     `json:"image"`
	Analysis *records.AnalysisRecord `json:"analysis"`
	State    string                  `json:"state"`
	Failure  *FailureInfo            `json:"failure,omitempty"`
}

// Service coordinates intake, the AI call, parsing and persistence.
type Service struct {
	Intake  *intake.Service
	Repo    records.Repo
	Store   object.ObjectStore
	LLM     llm.Client
	Timeout time.Duration
	Now     func() time.Time
	NewID   func() uuid.UUID
}

// Submit runs one submission end to end. Intake rejections and image write
// errors return a zero Outcome. An AI failure returns the FAILED image with
// the *llm.Failure as error. A failed analysis write returns the unsaved
// record together with ErrResultLostOnWrite.
func (s *Service) Submit(ctx context.Context, upload intake.Upload) (Outcome, error) {
	if s.Intake == nil || s.Repo == nil || s.LLM == nil {
		return Outcome{}, errors.New("analyses: service dependencies not configured")
	}
	requestID := requestIDFromContext(ctx)

	img, err := s.Intake.Accept(ctx, upload)
	if err != nil {
		if intake.IsRejection(err) {
			recordRejection(ctx, upload.FileName, int64(len(upload.Data)), err)
			return Outcome{State: StateIntake}, err
		}
		telemetry.Error("intake.store_failed", map[string]any{
			"request_id": requestID,
			"error":      err,
		})
		return Outcome{State: StateIntake}, fmt.Errorf("%w: %w", records.ErrWriteFailure, err)
	}

	// The caller may stop waiting from here on; the submission still completes.
	ctx = detach(ctx)
	if err := s.Repo.InsertImage(ctx, img); err != nil {
		telemetry.Error("image.insert_failed", map[string]any{
			"request_id":   requestID,
			"image_id":     img.ID.String(),
			"storage_path": img.StoragePath,
			"error":        err,
		})
		return Outcome{State: StateIntake}, fmt.Errorf("insert image: %w", err)
	}
	metrics.IncUploadAccepted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestID,
		"image_id":          img.ID.String(),
		"status":            img.Status,
		"status_transition": "intake->stored",
		"size_bytes":        img.SizeBytes,
		"mime_type":         img.MimeType,
	})

	return s.analyze(ctx, img, upload.Data, StateStored)
}

// recordRejection counts and logs an upload refused before it was stored.
func recordRejection(ctx context.Context, fileName string, size int64, err error) {
	metrics.IncUploadRejected()
	telemetry.Warn("intake.rejected", map[string]any{
		"request_id": requestIDFromContext(ctx),
		"file_name":  fileName,
		"size_bytes": size,
		"error":      err,
	})
}

// Retry re-runs the AI call for an existing image using its stored bytes.
// Intake is not repeated and a successful run appends a new analysis record.
func (s *Service) Retry(ctx context.Context, imageID uuid.UUID) (Outcome, error) {
	if s.Repo == nil || s.Store == nil || s.LLM == nil {
		return Outcome{}, errors.New("analyses: service dependencies not configured")
	}
	ctx = detach(ctx)

	img, err := s.Repo.GetImage(ctx, imageID)
	if err != nil {
		return Outcome{}, err
	}
	rc, err := s.Store.Open(ctx, img.StoragePath)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return Outcome{Image: img, State: StateStored}, fmt.Errorf("image bytes missing at %s: %w", img.StoragePath, records.ErrNotFound)
		}
		return Outcome{Image: img, State: StateStored}, fmt.Errorf("open image %s: %w", img.StoragePath, err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return Outcome{Image: img, State: StateStored}, fmt.Errorf("read image %s: %w", img.StoragePath, err)
	}

	return s.analyze(ctx, img, data, strings.ToLower(img.Status))
}

func (s *Service) analyze(ctx context.Context, img records.StoredImage, data []byte, from string) (Outcome, error) {
	requestID := requestIDFromContext(ctx)
	model := s.LLM.Model()

	metrics.IncAnalysisStarted()
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestID,
		"image_id":          img.ID.String(),
		"model":             model,
		"status_transition": from + "->" + StateAnalyzing,
	})

	started := time.Now()
	resp, err := llm.Analyze(ctx, s.LLM, llm.ImageRequest{
		Image:    data,
		MimeType: img.MimeType,
		Prompt:   llm.LabelPrompt(),
	}, s.Timeout)
	durationMs := time.Since(started).Milliseconds()
	metrics.ObserveAICallMs(float64(durationMs))

	if err != nil {
		return s.fail(ctx, img, err, durationMs)
	}

	parsed := parseRecovered(requestID, resp.Text)
	rec := records.AnalysisRecord{
		ID:              s.newID(),
		ImageID:         img.ID,
		RawText:         resp.Text,
		Fields:          parsed.Fields,
		ParseStatus:     parsed.Status,
		ModelIdentifier: resp.Model,
		CreatedAt:       s.now().UTC(),
	}

	if err := s.Repo.InsertAnalysis(ctx, rec); err != nil {
		metrics.IncResultLost()
		telemetry.Error("analysis.status", map[string]any{
			"request_id":        requestID,
			"image_id":          img.ID.String(),
			"model":             resp.Model,
			"parse_status":      rec.ParseStatus,
			"raw_text_len":      len(rec.RawText),
			"status_transition": StateAnalyzing + "->" + StateResultLost,
			"duration_ms":       durationMs,
			"error":             err,
		})
		return Outcome{Image: img, Analysis: &rec, State: StateResultLost}, fmt.Errorf("%w: %w", ErrResultLostOnWrite, err)
	}

	img.Status = records.StatusAnalyzed
	metrics.IncAnalysisStored(rec.ParseStatus)
	telemetry.Info("analysis.status", map[string]any{
		"request_id":        requestID,
		"image_id":          img.ID.String(),
		"analysis_id":       rec.ID.String(),
		"model":             resp.Model,
		"parse_status":      rec.ParseStatus,
		"field_count":       rec.Fields.Count(),
		"raw_text_len":      len(rec.RawText),
		"status_transition": StateAnalyzing + "->" + StateAnalyzed,
		"duration_ms":       durationMs,
	})
	return Outcome{Image: img, Analysis: &rec, State: StateAnalyzed}, nil
}

// parseRecovered stores a parser panic as UNPARSEABLE so the raw text is
// still persisted.
func parseRecovered(requestID, raw string) (res ParseResult) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("analysis.parse_panic", map[string]any{
				"request_id":   requestID,
				"raw_text_len": len(raw),
				"panic":        fmt.Sprint(r),
			})
			res = ParseResult{Status: records.ParseUnparseable}
		}
	}()
	return Parse(raw)
}

func (s *Service) fail(ctx context.Context, img records.StoredImage, err error, durationMs int64) (Outcome, error) {
	failure, ok := llm.AsFailure(err)
	if !ok {
		failure = llm.NewFailure(llm.KindUnavailable, err)
	}
	fields := map[string]any{
		"request_id":        requestIDFromContext(ctx),
		"image_id":          img.ID.String(),
		"model":             s.LLM.Model(),
		"failure_kind":      string(failure.Kind),
		"status_transition": StateAnalyzing + "->" + StateAnalysisFailed,
		"duration_ms":       durationMs,
		"error":             failure,
	}

	if updateErr := s.Repo.UpdateImageStatus(ctx, img.ID, records.StatusFailed); updateErr != nil {
		fields["status_update_error"] = updateErr
	} else {
		img.Status = records.StatusFailed
	}
	metrics.IncAnalysisFailed(string(failure.Kind))
	telemetry.Warn("analysis.status", fields)

	return Outcome{
		Image: img,
		State: StateAnalysisFailed,
		Failure: &FailureInfo{
			Kind:    string(failure.Kind),
			Message: failure.Error(),
		},
	}, failure
}

// Get returns an image and its most recent analysis, if any.
func (s *Service) Get(ctx context.Context, imageID uuid.UUID) (records.ImageWithAnalysis, error) {
	img, err := s.Repo.GetImage(ctx, imageID)
	if err != nil {
		return records.ImageWithAnalysis{}, err
	}
	out := records.ImageWithAnalysis{Image: img}
	rec, err := s.Repo.GetAnalysisForImage(ctx, imageID)
	switch {
	case err == nil:
		out.Analysis = &rec
	case errors.Is(err, records.ErrNotFound):
	default:
		return records.ImageWithAnalysis{}, err
	}
	return out, nil
}

// Analyses returns every analysis of an image, newest first.
func (s *Service) Analyses(ctx context.Context, imageID uuid.UUID) ([]records.AnalysisRecord, error) {
	if _, err := s.Repo.GetImage(ctx, imageID); err != nil {
		return nil, err
	}
	return s.Repo.ListAnalysesForImage(ctx, imageID)
}

// History lists images newest first, each with its latest analysis.
func (s *Service) History(ctx context.Context, limit, offset int) ([]records.ImageWithAnalysis, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	images, err := s.Repo.ListImages(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]records.ImageWithAnalysis, 0, len(images))
	for _, img := range images {
		item := records.ImageWithAnalysis{Image: img}
		rec, err := s.Repo.GetAnalysisForImage(ctx, img.ID)
		switch {
		case err == nil:
			item.Analysis = &rec
		case errors.Is(err, records.ErrNotFound):
		default:
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

// Stats returns image and analysis counts.
func (s *Service) Stats(ctx context.Context) (records.Stats, error) {
	return s.Repo.Stats(ctx)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() uuid.UUID {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.New()
}
