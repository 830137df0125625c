package widget

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound is returned when no job matches the lookup.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when creating a job whose id is taken.
	ErrJobExists = errors.New("job already exists")
	// ErrInvalidTransition is returned when a write targets a job whose
	// current status does not allow it, e.g. completing a failed job.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrPersistence wraps store failures during a transition.
	ErrPersistence = errors.New("persistence error")
	// ErrExtractionFailed aborts a pipeline run in the extraction stage.
	ErrExtractionFailed = errors.New("extraction failed")
	// ErrGenerationFailed aborts a pipeline run in the generation stage.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrNoContent is returned in strict mode when every fetch failed.
	ErrNoContent = errors.New("no source content could be fetched")
	// ErrQueueClosed is returned by Dequeue once a queue is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// FetchError records a per-URL fetch failure. It is reported inline in the
// aggregated content and never aborts a batch.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
