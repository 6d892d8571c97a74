package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// FailureKind classifies why an AI call produced no usable text.
type FailureKind string

const (
	KindUnauthorized  FailureKind = "unauthorized"
	KindRateLimited   FailureKind = "rate_limited"
	KindTimeout       FailureKind = "timeout"
	KindUnavailable   FailureKind = "unavailable"
	KindEmptyResponse FailureKind = "empty_response"
)

// Failure is the typed error returned for a failed AI call.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("ai %s", f.Kind)
	}
	return fmt.Sprintf("ai %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure builds a Failure of the given kind.
func NewFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ImageRequest is a single vision request.
type ImageRequest struct {
	Image    []byte
	MimeType string
	Prompt   string
}

// RawResponse is the verbatim model output.
type RawResponse struct {
	Text  string
	Model string
}

// Client abstracts vision-capable LLM providers. Implementations make
// exactly one provider call per AnalyzeImage and return *Failure for
// classified errors.
type Client interface {
	AnalyzeImage(ctx context.Context, req ImageRequest) (RawResponse, error)
	Model() string
}

// Analyze performs one bounded call through c. Every error it returns is a
// *Failure: deadline expiry maps to KindTimeout, blank output to
// KindEmptyResponse and unclassified errors to KindUnavailable. The bound is
// enforced here even if the client ignores ctx.
func Analyze(ctx context.Context, c Client, req ImageRequest, timeout time.Duration) (RawResponse, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		resp RawResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.AnalyzeImage(ctx, req)
		done <- result{resp: resp, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		return RawResponse{}, classifyContext(ctx.Err())
	}

	if res.err != nil {
		if f, ok := AsFailure(res.err); ok {
			return RawResponse{}, f
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return RawResponse{}, classifyContext(ctxErr)
		}
		if errors.Is(res.err, context.DeadlineExceeded) {
			return RawResponse{}, NewFailure(KindTimeout, res.err)
		}
		return RawResponse{}, NewFailure(KindUnavailable, res.err)
	}
	if strings.TrimSpace(res.resp.Text) == "" {
		return RawResponse{}, NewFailure(KindEmptyResponse, errors.New("model returned no text"))
	}
	if res.resp.Model == "" {
		res.resp.Model = c.Model()
	}
	return res.resp, nil
}

func classifyContext(err error) *Failure {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewFailure(KindTimeout, err)
	}
	return NewFailure(KindUnavailable, err)
}
