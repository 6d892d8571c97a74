package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"

	"label-decoder/internal/llm"
)

type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	model    string
	contents []*genai.Content
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	return f.resp, f.err
}

func textResponse(chunks ...string) *genai.GenerateContentResponse {
	parts := make([]*genai.Part, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, &genai.Part{Text: c})
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
	}
}

func TestAnalyzeImageSendsPromptAndImage(t *testing.T) {
	fake := &fakeModels{resp: textResponse("Health Rating: ", "7/10")}
	c := &Client{models: fake, model: DefaultModel}

	resp, err := c.AnalyzeImage(context.Background(), llm.ImageRequest{
		Image:    []byte{0xff, 0xd8, 0xff},
		MimeType: "image/jpeg",
		Prompt:   "describe",
	})
	if err != nil {
		t.Fatalf("AnalyzeImage: %v", err)
	}
	if resp.Text != "Health Rating: 7/10" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.Model != DefaultModel || fake.model != DefaultModel {
		t.Fatalf("unexpected model %q / %q", resp.Model, fake.model)
	}
	if len(fake.contents) != 1 || len(fake.contents[0].Parts) != 2 {
		t.Fatalf("expected one content with two parts, got %+v", fake.contents)
	}
	if fake.contents[0].Parts[0].Text != "describe" {
		t.Fatalf("expected prompt as first part")
	}
	if fake.contents[0].Parts[1].InlineData == nil || fake.contents[0].Parts[1].InlineData.MIMEType != "image/jpeg" {
		t.Fatalf("expected inline image part")
	}
}

func TestAnalyzeImageEmptyCandidates(t *testing.T) {
	c := &Client{models: &fakeModels{resp: &genai.GenerateContentResponse{}}, model: DefaultModel}
	_, err := c.AnalyzeImage(context.Background(), llm.ImageRequest{})
	f, ok := llm.AsFailure(err)
	if !ok || f.Kind != llm.KindEmptyResponse {
		t.Fatalf("expected empty_response failure, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want llm.FailureKind
	}{
		{err: errors.New("Error 400, Message: API key not valid. Please pass a valid API key., Status: INVALID_ARGUMENT"), want: llm.KindUnauthorized},
		{err: errors.New("Error 403, Message: denied, Status: PERMISSION_DENIED"), want: llm.KindUnauthorized},
		{err: errors.New("Error 429, Message: Please retry in 45s., Status: RESOURCE_EXHAUSTED"), want: llm.KindRateLimited},
		{err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: llm.KindTimeout},
		{err: errors.New("Error 503, Message: overloaded, Status: UNAVAILABLE"), want: llm.KindUnavailable},
		{err: errors.New("dial tcp: connection refused"), want: llm.KindUnavailable},
	}
	for _, tt := range tests {
		if got := classify(tt.err).Kind; got != tt.want {
			t.Fatalf("classify(%q) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestClassifyTypedAPIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llm.FailureKind
	}{
		{name: "quota", err: genai.APIError{Code: 429, Message: "slow down"}, want: llm.KindRateLimited},
		{name: "wrapped forbidden", err: fmt.Errorf("generate: %w", genai.APIError{Code: 403, Message: "no"}), want: llm.KindUnauthorized},
		{name: "request timeout", err: genai.APIError{Code: 408, Message: "took too long"}, want: llm.KindTimeout},
		{name: "status only", err: genai.APIError{Code: 400, Status: "UNAUTHENTICATED"}, want: llm.KindUnauthorized},
		{name: "pointer", err: &genai.APIError{Code: 500, Message: "internal"}, want: llm.KindUnavailable},
		{name: "bad key message", err: genai.APIError{Code: 400, Message: "API key not valid.", Status: "INVALID_ARGUMENT"}, want: llm.KindUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err).Kind; got != tt.want {
				t.Fatalf("classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(context.Background(), " ", DefaultModel); err == nil {
		t.Fatalf("expected error without api key")
	}
}
