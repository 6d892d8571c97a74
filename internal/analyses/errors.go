package analyses

import "errors"

var (
	// ErrResultLostOnWrite reports that the model answered but the analysis
	// record could not be stored. The raw text is still returned to the caller.
	ErrResultLostOnWrite = errors.New("analysis result lost on write")
	ErrInvalidImageID    = errors.New("invalid image id")
)

const (
	ErrorCodeValidation     = "validation_error"
	ErrorCodeInvalidFormat  = "invalid_format"
	ErrorCodeTooLarge       = "too_large"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeResultLost     = "result_lost_on_write"
	ErrorCodeStorage        = "storage_error"
	ErrorCodeInternal       = "internal_error"
	ErrorCodeAIUnauthorized = "ai_unauthorized"
	ErrorCodeAIRateLimited  = "ai_rate_limited"
	ErrorCodeAITimeout      = "ai_timeout"
	ErrorCodeAIUnavailable  = "ai_unavailable"
	ErrorCodeAIEmpty        = "ai_empty_response"
)
