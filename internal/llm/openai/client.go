package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"label-decoder/internal/llm"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client implements llm.Client using OpenAI Chat Completions with an
// inline image part.
type Client struct {
	api   chatCompleter
	model string
}

// NewClient constructs a new OpenAI client.
func NewClient(apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &Client{api: openai.NewClient(apiKey), model: model}, nil
}

// Model implements llm.Client.
func (c *Client) Model() string { return c.model }

// AnalyzeImage sends the prompt and a base64 data URL of the image in one
// user message.
func (c *Client) AnalyzeImage(ctx context.Context, req llm.ImageRequest) (llm.RawResponse, error) {
	dataURL := "data:" + req.MimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	chat := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}},
	}

	resp, err := c.api.CreateChatCompletion(ctx, chat)
	if err != nil {
		return llm.RawResponse{}, classify(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return llm.RawResponse{}, llm.NewFailure(llm.KindEmptyResponse, errors.New("openai response empty content"))
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return llm.RawResponse{Text: resp.Choices[0].Message.Content, Model: model}, nil
}

func classify(err error) *llm.Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewFailure(llm.KindTimeout, err)
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return llm.NewFailure(llm.KindUnauthorized, err)
	case http.StatusTooManyRequests:
		return llm.NewFailure(llm.KindRateLimited, err)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return llm.NewFailure(llm.KindTimeout, err)
	default:
		return llm.NewFailure(llm.KindUnavailable, err)
	}
}

var _ llm.Client = (*Client)(nil)
