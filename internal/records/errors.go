package records

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrOrphanRecord rejects an analysis whose image id has no stored image.
	ErrOrphanRecord = errors.New("orphan analysis record")
	// ErrWriteFailure wraps any storage error raised while writing.
	ErrWriteFailure = errors.New("write failure")
)
