package widget

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// JobStore persists jobs. Terminal writes must be guarded by the job's current
// status so that at most one of CompleteJob/FailJob ever succeeds.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	MarkProcessing(ctx context.Context, jobID string, at time.Time) error
	CompleteJob(ctx context.Context, jobID string, result json.RawMessage, at time.Time) error
	FailJob(ctx context.Context, jobID string, errText string, at time.Time) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	LatestCompleted(ctx context.Context, maskID string) (Job, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher pushes job events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns its visible text plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a static fetch must be replaced by a
// dynamic render.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for widget jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for archive paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
