package ads

import "errors"

var (
	// ErrInvalidContext is returned when a request context is missing
	// its page or business category. Surfaced synchronously, never
	// retried.
	ErrInvalidContext = errors.New("invalid request context")

	// ErrInvalidTransition is returned for illegal lifecycle changes.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStorageUnavailable wraps counter/event write failures. The
	// recorder retries once with backoff, then drops and logs; it never
	// propagates to the render path.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrNotFound is returned when a referenced advertisement does not
	// exist.
	ErrNotFound = errors.New("advertisement not found")
)
