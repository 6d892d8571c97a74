package analyses

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"label-decoder/internal/intake"
	"label-decoder/internal/llm"
	"label-decoder/internal/records"
	"label-decoder/internal/shared/storage/object/local"
)

const cerealResponse = "Here is the label analysis.\n\n```json\n" + `{
  "product": {"name": "Crunchy Oat Rings", "brand": "Morning Mill", "category": "Breakfast cereal", "net_quantity": "375 g"},
  "ingredients": ["Whole grain oats", "Sugar", "Corn starch", "Salt"],
  "allergens": ["Oats (gluten)"],
  "health_score": "7/10",
  "recommendations": ["Pair with fruit for extra fibre", "Watch the added sugar"]
}` + "\n```\n"

type stubClient struct {
	mu      sync.Mutex
	text    string
	err     error
	calls   int
	lastReq llm.ImageRequest
}

func (s *stubClient) AnalyzeImage(ctx context.Context, req llm.ImageRequest) (llm.RawResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return llm.RawResponse{}, s.err
	}
	return llm.RawResponse{Text: s.text}, nil
}

func (s *stubClient) Model() string { return "stub-vision-1" }

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// blockingClient ignores ctx and only answers once released.
type blockingClient struct {
	release chan struct{}
}

func (b *blockingClient) AnalyzeImage(ctx context.Context, req llm.ImageRequest) (llm.RawResponse, error) {
	<-b.release
	return llm.RawResponse{Text: "too late"}, nil
}

func (b *blockingClient) Model() string { return "slow-vision" }

// cancellingClient abandons the caller's request while the call is in flight.
type cancellingClient struct {
	cancel context.CancelFunc
	text   string
}

func (c *cancellingClient) AnalyzeImage(ctx context.Context, req llm.ImageRequest) (llm.RawResponse, error) {
	c.cancel()
	return llm.RawResponse{Text: c.text}, ctx.Err()
}

func (c *cancellingClient) Model() string { return "stub-vision-1" }

type failingAnalysisRepo struct {
	*records.MemoryRepo
}

func (r failingAnalysisRepo) InsertAnalysis(ctx context.Context, rec records.AnalysisRecord) error {
	return fmt.Errorf("%w: disk full", records.ErrWriteFailure)
}

type failingImageRepo struct {
	*records.MemoryRepo
}

func (r failingImageRepo) InsertImage(ctx context.Context, img records.StoredImage) error {
	return fmt.Errorf("%w: database is locked", records.ErrWriteFailure)
}

func newTestService(t *testing.T, client llm.Client) (*Service, *records.MemoryRepo) {
	t.Helper()
	repo := records.NewMemoryRepo()
	store := local.New(t.TempDir())
	return &Service{
		Intake:  intake.New(store, 10<<20),
		Repo:    repo,
		Store:   store,
		LLM:     client,
		Timeout: time.Second,
	}, repo
}

func jpegUpload(t *testing.T) intake.Upload {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 6), G: 90, B: uint8(y * 8), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return intake.Upload{FileName: "cereal box.jpg", ContentType: "image/jpeg", Data: buf.Bytes()}
}

func TestSubmitAnalyzesAndPersistsRecord(t *testing.T) {
	client := &stubClient{text: cerealResponse}
	svc, repo := newTestService(t, client)
	ctx := context.Background()

	out, err := svc.Submit(ctx, jpegUpload(t))
	require.NoError(t, err)

	assert.Equal(t, StateAnalyzed, out.State)
	assert.Nil(t, out.Failure)
	assert.Equal(t, records.StatusAnalyzed, out.Image.Status)
	require.NotNil(t, out.Analysis)
	assert.Equal(t, out.Image.ID, out.Analysis.ImageID)
	assert.Equal(t, records.ParseFull, out.Analysis.ParseStatus)
	require.NotNil(t, out.Analysis.Fields.HealthScore)
	assert.Equal(t, 7, *out.Analysis.Fields.HealthScore)
	assert.Equal(t, "stub-vision-1", out.Analysis.ModelIdentifier)

	assert.Equal(t, llm.LabelPrompt(), client.lastReq.Prompt)
	assert.Equal(t, "image/jpeg", client.lastReq.MimeType)
	assert.NotEmpty(t, client.lastReq.Image)

	stored, err := repo.GetImage(ctx, out.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusAnalyzed, stored.Status)

	rec, err := repo.GetAnalysisForImage(ctx, out.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, cerealResponse, rec.RawText)
	assert.Equal(t, out.Analysis.ID, rec.ID)
}

func TestSubmitTooLargeCreatesNothing(t *testing.T) {
	client := &stubClient{text: cerealResponse}
	svc, repo := newTestService(t, client)

	data := make([]byte, 15<<20)
	out, err := svc.Submit(context.Background(), intake.Upload{FileName: "huge.png", ContentType: "image/png", Data: data})
	require.ErrorIs(t, err, intake.ErrTooLarge)
	assert.Equal(t, StateIntake, out.State)
	assert.Nil(t, out.Analysis)
	assert.Equal(t, 0, client.callCount())

	stats, err := repo.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalImages)
}

func TestSubmitInvalidFormatIsTerminal(t *testing.T) {
	client := &stubClient{text: cerealResponse}
	svc, repo := newTestService(t, client)

	_, err := svc.Submit(context.Background(), intake.Upload{FileName: "notes.txt", ContentType: "text/plain", Data: []byte("just some text")})
	require.ErrorIs(t, err, intake.ErrInvalidFormat)
	assert.Equal(t, 0, client.callCount())

	images, err := repo.ListImages(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestSubmitTimeoutMarksImageFailed(t *testing.T) {
	client := &blockingClient{release: make(chan struct{})}
	t.Cleanup(func() { close(client.release) })
	svc, repo := newTestService(t, client)
	svc.Timeout = 20 * time.Millisecond
	ctx := context.Background()

	out, err := svc.Submit(ctx, jpegUpload(t))
	require.Error(t, err)
	failure, ok := llm.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, llm.KindTimeout, failure.Kind)

	assert.Equal(t, StateAnalysisFailed, out.State)
	assert.Nil(t, out.Analysis)
	require.NotNil(t, out.Failure)
	assert.Equal(t, "timeout", out.Failure.Kind)
	assert.Equal(t, records.StatusFailed, out.Image.Status)

	stored, err := repo.GetImage(ctx, out.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusFailed, stored.Status)

	_, err = repo.GetAnalysisForImage(ctx, out.Image.ID)
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestSubmitSurfacesFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		text string
		err  error
		want llm.FailureKind
	}{
		{name: "unauthorized", err: llm.NewFailure(llm.KindUnauthorized, errors.New("401 invalid key")), want: llm.KindUnauthorized},
		{name: "rate limited", err: llm.NewFailure(llm.KindRateLimited, errors.New("429")), want: llm.KindRateLimited},
		{name: "unclassified", err: errors.New("connection reset by peer"), want: llm.KindUnavailable},
		{name: "blank text", text: "  \n ", want: llm.KindEmptyResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService(t, &stubClient{text: tt.text, err: tt.err})
			out, err := svc.Submit(context.Background(), jpegUpload(t))

			failure, ok := llm.AsFailure(err)
			require.True(t, ok)
			assert.Equal(t, tt.want, failure.Kind)
			assert.Equal(t, StateAnalysisFailed, out.State)
			assert.Equal(t, string(tt.want), out.Failure.Kind)

			list, err := repo.ListAnalysesForImage(context.Background(), out.Image.ID)
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestSubmitKeepsRawTextWhenUnparseable(t *testing.T) {
	raw := "Sorry, the photo is too blurry for me to read anything useful."
	svc, repo := newTestService(t, &stubClient{text: raw})

	out, err := svc.Submit(context.Background(), jpegUpload(t))
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzed, out.State)
	assert.Equal(t, records.ParseUnparseable, out.Analysis.ParseStatus)
	assert.Equal(t, records.Fields{}, out.Analysis.Fields)

	rec, err := repo.GetAnalysisForImage(context.Background(), out.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, raw, rec.RawText)
}

func TestSubmitCaseFoldedAllergensReachAnalyzed(t *testing.T) {
	raw := "ALLERGENS: milk, \u212a\u212a\u212a\u212a wheat x\n"
	svc, repo := newTestService(t, &stubClient{text: raw})

	out, err := svc.Submit(context.Background(), jpegUpload(t))
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzed, out.State)
	assert.Equal(t, records.ParsePartial, out.Analysis.ParseStatus)

	img, err := repo.GetImage(context.Background(), out.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusAnalyzed, img.Status)
	rec, err := repo.GetAnalysisForImage(context.Background(), out.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, raw, rec.RawText)
}

func TestParseRecoveredIsUnparseableForPlainText(t *testing.T) {
	res := parseRecovered("req-1", "Sorry, the photo is too blurry for me to read anything useful.")
	assert.Equal(t, ParseResult{Status: records.ParseUnparseable}, res)
}

func TestSubmitProseWithOutOfRangeScore(t *testing.T) {
	raw := "This looks like a chocolate spread. Ingredients: sugar, palm oil, hazelnuts\n\nI would put the health score: 13 out of 10 for taste, not nutrition."
	svc, _ := newTestService(t, &stubClient{text: raw})

	out, err := svc.Submit(context.Background(), jpegUpload(t))
	require.NoError(t, err)
	assert.Equal(t, records.ParsePartial, out.Analysis.ParseStatus)
	assert.Nil(t, out.Analysis.Fields.HealthScore)
}

func TestSubmitReportsResultLostOnWrite(t *testing.T) {
	mem := records.NewMemoryRepo()
	store := local.New(t.TempDir())
	svc := &Service{
		Intake:  intake.New(store, 10<<20),
		Repo:    failingAnalysisRepo{MemoryRepo: mem},
		Store:   store,
		LLM:     &stubClient{text: cerealResponse},
		Timeout: time.Second,
	}
	ctx := context.Background()

	out, err := svc.Submit(ctx, jpegUpload(t))
	require.ErrorIs(t, err, ErrResultLostOnWrite)
	assert.ErrorIs(t, err, records.ErrWriteFailure)
	_, isFailure := llm.AsFailure(err)
	assert.False(t, isFailure)

	assert.Equal(t, StateResultLost, out.State)
	require.NotNil(t, out.Analysis)
	assert.Equal(t, cerealResponse, out.Analysis.RawText)

	stored, err := mem.GetImage(ctx, out.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusPending, stored.Status)
}

func TestSubmitImageWriteFailureStopsBeforeAI(t *testing.T) {
	client := &stubClient{text: cerealResponse}
	store := local.New(t.TempDir())
	svc := &Service{
		Intake: intake.New(store, 10<<20),
		Repo:   failingImageRepo{MemoryRepo: records.NewMemoryRepo()},
		Store:  store,
		LLM:    client,
	}

	_, err := svc.Submit(context.Background(), jpegUpload(t))
	require.ErrorIs(t, err, records.ErrWriteFailure)
	assert.Equal(t, 0, client.callCount())
}

func TestSubmitSurvivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := &cancellingClient{cancel: cancel, text: cerealResponse}
	svc, repo := newTestService(t, client)

	out, err := svc.Submit(ctx, jpegUpload(t))
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzed, out.State)
	assert.Error(t, ctx.Err())

	_, err = repo.GetAnalysisForImage(context.Background(), out.Image.ID)
	require.NoError(t, err)
}

func TestRetryAppendsNewRecord(t *testing.T) {
	svc, repo := newTestService(t, &stubClient{err: llm.NewFailure(llm.KindUnavailable, errors.New("503"))})
	ctx := context.Background()
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.Now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	first, err := svc.Submit(ctx, jpegUpload(t))
	require.Error(t, err)
	assert.Equal(t, records.StatusFailed, first.Image.Status)

	retried := &stubClient{text: "Ingredients: water, salt"}
	svc.LLM = retried
	second, err := svc.Retry(ctx, first.Image.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAnalyzed, second.State)
	assert.Equal(t, first.Image.ID, second.Image.ID)
	assert.NotEmpty(t, retried.lastReq.Image)

	svc.LLM = &stubClient{text: cerealResponse}
	third, err := svc.Retry(ctx, first.Image.ID)
	require.NoError(t, err)
	assert.NotEqual(t, second.Analysis.ID, third.Analysis.ID)

	history, err := svc.Analyses(ctx, first.Image.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, third.Analysis.ID, history[0].ID)
	assert.Equal(t, second.Analysis.ID, history[1].ID)

	latest, err := svc.Get(ctx, first.Image.ID)
	require.NoError(t, err)
	require.NotNil(t, latest.Analysis)
	assert.Equal(t, records.ParseFull, latest.Analysis.ParseStatus)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.AnalyzedImages)
	assert.Equal(t, 2, stats.TotalAnalyses)
}

func TestRetryUnknownImage(t *testing.T) {
	svc, _ := newTestService(t, &stubClient{text: cerealResponse})
	_, err := svc.Retry(context.Background(), uuid.New())
	assert.ErrorIs(t, err, records.ErrNotFound)
}

func TestHistoryPairsLatestAnalysis(t *testing.T) {
	svc, _ := newTestService(t, &stubClient{text: cerealResponse})
	ctx := context.Background()

	analyzed, err := svc.Submit(ctx, jpegUpload(t))
	require.NoError(t, err)

	svc.LLM = &stubClient{err: llm.NewFailure(llm.KindRateLimited, errors.New("quota"))}
	failed, _ := svc.Submit(ctx, jpegUpload(t))

	history, err := svc.History(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	byID := map[uuid.UUID]records.ImageWithAnalysis{}
	for _, item := range history {
		byID[item.Image.ID] = item
	}
	assert.NotNil(t, byID[analyzed.Image.ID].Analysis)
	assert.Nil(t, byID[failed.Image.ID].Analysis)
	assert.Equal(t, records.StatusFailed, byID[failed.Image.ID].Image.Status)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalImages)
	assert.Equal(t, 1, stats.FailedImages)
	assert.Equal(t, 1, stats.TotalAnalyses)
}
