package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"label-decoder/internal/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-1.5-flash"

// generator is the subset of *genai.Models used by Client.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client implements llm.Client using the Gemini API.
type Client struct {
	models      generator
	model       string
	temperature float32
}

// NewClient constructs a Gemini client for model.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &Client{models: client.Models, model: model, temperature: 0.2}, nil
}

// Model implements llm.Client.
func (c *Client) Model() string { return c.model }

// AnalyzeImage sends the image and prompt as one user turn and returns the
// concatenated text of the first candidate that has any.
func (c *Client) AnalyzeImage(ctx context.Context, req llm.ImageRequest) (llm.RawResponse, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
		genai.NewPartFromBytes(req.Image, req.MimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	}

	resp, err := c.models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return llm.RawResponse{}, classify(err)
	}

	var text strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part != nil && part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	if text.Len() == 0 {
		return llm.RawResponse{}, llm.NewFailure(llm.KindEmptyResponse, errors.New("gemini returned no text"))
	}
	return llm.RawResponse{Text: text.String(), Model: c.model}, nil
}

// classify maps Gemini API errors onto failure kinds. The SDK's typed
// genai.APIError is checked first; other errors fall back to the message,
// e.g. "Error 429, Message: ..., Status: RESOURCE_EXHAUSTED".
func classify(err error) *llm.Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewFailure(llm.KindTimeout, err)
	}
	if code, status, ok := apiError(err); ok {
		if kind, known := kindForCode(code, status); known {
			return llm.NewFailure(kind, err)
		}
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 401", "Error 403", "API key not valid", "API_KEY_INVALID", "PERMISSION_DENIED", "UNAUTHENTICATED"):
		return llm.NewFailure(llm.KindUnauthorized, err)
	case containsAny(msg, "Error 429", "RESOURCE_EXHAUSTED", "quota"):
		return llm.NewFailure(llm.KindRateLimited, err)
	case containsAny(msg, "Error 504", "DEADLINE_EXCEEDED"):
		return llm.NewFailure(llm.KindTimeout, err)
	default:
		return llm.NewFailure(llm.KindUnavailable, err)
	}
}

func apiError(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Status, true
	}
	var apiPtr *genai.APIError
	if errors.As(err, &apiPtr) && apiPtr != nil {
		return apiPtr.Code, apiPtr.Status, true
	}
	return 0, "", false
}

func kindForCode(code int, status string) (llm.FailureKind, bool) {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden,
		status == "UNAUTHENTICATED" || status == "PERMISSION_DENIED":
		return llm.KindUnauthorized, true
	case code == http.StatusTooManyRequests, status == "RESOURCE_EXHAUSTED":
		return llm.KindRateLimited, true
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout,
		status == "DEADLINE_EXCEEDED":
		return llm.KindTimeout, true
	case code >= 500:
		return llm.KindUnavailable, true
	default:
		return "", false
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ llm.Client = (*Client)(nil)
