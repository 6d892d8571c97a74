package analyses

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"label-decoder/internal/intake"
	"label-decoder/internal/llm"
	"label-decoder/internal/records"
	"label-decoder/internal/shared/server/middleware"
	"label-decoder/internal/shared/server/respond"
)

// multipartOverhead covers form boundaries and headers around the file part.
const multipartOverhead = 1 << 20

// Handler wires HTTP handlers to the analyses service.
type Handler struct {
	Svc      *Service
	MaxBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, maxBytes int64) *Handler {
	return &Handler{Svc: svc, MaxBytes: maxBytes}
}

// RegisterRoutes attaches image and analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/images", h.submit)
	rg.GET("/images", h.list)
	rg.GET("/images/:id", h.get)
	rg.GET("/images/:id/analyses", h.listAnalyses)
	rg.POST("/images/:id/analyze", h.retry)
	rg.GET("/stats", h.stats)
}

func (h *Handler) submit(c *gin.Context) {
	limit := h.MaxBytes
	if limit <= 0 {
		limit = intake.DefaultMaxBytes
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			h.rejectTooLarge(c, "", c.Request.ContentLength)
			return
		}
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "multipart field \"file\" is required", nil)
		return
	}
	if fh.Size > limit {
		h.rejectTooLarge(c, fh.Filename, fh.Size)
		return
	}

	f, err := fh.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "could not read uploaded file", nil)
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "could not read uploaded file", nil)
		return
	}

	out, err := h.Svc.Submit(h.requestContext(c), intake.Upload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	})
	h.annotate(c, out)
	if err != nil {
		writeError(c, out, err)
		return
	}
	respond.Created(c, out)
}

func (h *Handler) rejectTooLarge(c *gin.Context, fileName string, size int64) {
	recordRejection(h.requestContext(c), fileName, size, intake.ErrTooLarge)
	c.Set(middleware.PipelineStateKey, StateIntake)
	respond.Error(c, http.StatusRequestEntityTooLarge, ErrorCodeTooLarge, "image exceeds the upload limit", nil)
}

func (h *Handler) retry(c *gin.Context) {
	imageID, ok := imageIDParam(c)
	if !ok {
		return
	}
	out, err := h.Svc.Retry(h.requestContext(c), imageID)
	h.annotate(c, out)
	if err != nil {
		writeError(c, out, err)
		return
	}
	respond.OK(c, out)
}

func (h *Handler) get(c *gin.Context) {
	imageID, ok := imageIDParam(c)
	if !ok {
		return
	}
	item, err := h.Svc.Get(h.requestContext(c), imageID)
	if err != nil {
		writeError(c, Outcome{}, err)
		return
	}
	respond.OK(c, item)
}

func (h *Handler) listAnalyses(c *gin.Context) {
	imageID, ok := imageIDParam(c)
	if !ok {
		return
	}
	list, err := h.Svc.Analyses(h.requestContext(c), imageID)
	if err != nil {
		writeError(c, Outcome{}, err)
		return
	}
	if list == nil {
		list = []records.AnalysisRecord{}
	}
	respond.OK(c, list)
}

func (h *Handler) list(c *gin.Context) {
	limit := defaultHistoryLimit
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 || limit > 100 {
		limit = defaultHistoryLimit
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	items, err := h.Svc.History(h.requestContext(c), limit, offset)
	if err != nil {
		writeError(c, Outcome{}, err)
		return
	}
	respond.OK(c, gin.H{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.Svc.Stats(h.requestContext(c))
	if err != nil {
		writeError(c, Outcome{}, err)
		return
	}
	respond.OK(c, stats)
}

func (h *Handler) requestContext(c *gin.Context) context.Context {
	return WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
}

func (h *Handler) annotate(c *gin.Context, out Outcome) {
	if out.Image.ID != uuid.Nil {
		c.Set(middleware.ImageIDKey, out.Image.ID.String())
	}
	if out.State != "" {
		c.Set(middleware.PipelineStateKey, out.State)
	}
}

func imageIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, ErrInvalidImageID.Error(), nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps pipeline errors to HTTP responses. Outcomes that carry an
// image are returned as details so the caller can retry or read raw text.
func writeError(c *gin.Context, out Outcome, err error) {
	var details any
	if out.Image.ID != uuid.Nil {
		details = out
	}

	if failure, ok := llm.AsFailure(err); ok {
		status, code := failureStatus(failure.Kind)
		respond.Error(c, status, code, failure.Error(), details)
		return
	}

	switch {
	case errors.Is(err, intake.ErrTooLarge):
		respond.Error(c, http.StatusRequestEntityTooLarge, ErrorCodeTooLarge, err.Error(), nil)
	case errors.Is(err, intake.ErrInvalidFormat):
		respond.Error(c, http.StatusUnsupportedMediaType, ErrorCodeInvalidFormat, err.Error(), nil)
	case errors.Is(err, ErrResultLostOnWrite):
		respond.Error(c, http.StatusInternalServerError, ErrorCodeResultLost, "analysis completed but could not be saved", details)
	case errors.Is(err, records.ErrNotFound):
		respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "image not found", nil)
	case errors.Is(err, records.ErrWriteFailure):
		respond.Error(c, http.StatusInternalServerError, ErrorCodeStorage, "failed to store image", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "internal error", nil)
	}
}

func failureStatus(kind llm.FailureKind) (int, string) {
	switch kind {
	case llm.KindUnauthorized:
		return http.StatusBadGateway, ErrorCodeAIUnauthorized
	case llm.KindRateLimited:
		return http.StatusTooManyRequests, ErrorCodeAIRateLimited
	case llm.KindTimeout:
		return http.StatusGatewayTimeout, ErrorCodeAITimeout
	case llm.KindEmptyResponse:
		return http.StatusBadGateway, ErrorCodeAIEmpty
	default:
		return http.StatusBadGateway, ErrorCodeAIUnavailable
	}
}
