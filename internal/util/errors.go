package util

import "errors"

// Sentinel errors shared across the ingestion and job pipelines. Typed errors
// in the component packages unwrap to one of these.
var (
	// ErrNotFound indicates a project, book, chapter, verse or job does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates missing or malformed configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupported indicates an input format or language that cannot be handled
	ErrUnsupported = errors.New("unsupported")

	// ErrConflict indicates a destination already holds something else
	ErrConflict = errors.New("destination conflict")

	// ErrStructure indicates an archive is not a recognizable Scripture Burrito package
	ErrStructure = errors.New("not a validated Scripture Burrito package")

	// ErrValidation indicates content violates versification expectations
	ErrValidation = errors.New("validation failed")

	// ErrExternalService indicates the AI service was unreachable or refused a request
	ErrExternalService = errors.New("external service error")

	// ErrPostProcess indicates synthesized audio could not be decoded or resampled
	ErrPostProcess = errors.New("audio post-processing failed")

	// ErrPrecondition indicates an operation was invoked on a project that is not ready for it
	ErrPrecondition = errors.New("precondition failed")

	// ErrStale indicates a row changed between read and write
	ErrStale = errors.New("stale write")
)
