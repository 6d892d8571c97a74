package intake

import "errors"

var (
	// ErrInvalidFormat rejects uploads whose extension or content is not an
	// accepted image type.
	ErrInvalidFormat = errors.New("invalid image format")
	// ErrTooLarge rejects uploads above the configured byte ceiling.
	ErrTooLarge = errors.New("image too large")
)

// IsRejection reports whether err is a terminal intake rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidFormat) || errors.Is(err, ErrTooLarge)
}
