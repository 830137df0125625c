package widget

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a widget job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is one run of the content pipeline for a mask.
type Job struct {
	ID           string          `json:"id"`
	MaskID       string          `json:"mask_id"`
	UserID       string          `json:"user_id,omitempty"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	URLs         []string        `json:"urls"`
	Status       JobStatus       `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Input returns the pipeline input derived from the job record.
func (j Job) Input() JobInput {
	return JobInput{
		JobID:       j.ID,
		MaskID:      j.MaskID,
		Title:       j.Title,
		Description: j.Description,
		URLs:        append([]string(nil), j.URLs...),
	}
}

// JobInput is everything the pipeline needs to produce one widget.
type JobInput struct {
	JobID       string   `json:"job_id"`
	MaskID      string   `json:"mask_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	URLs        []string `json:"urls"`
}

// ResultPayload is the structured value stored in Job.Result.
type ResultPayload struct {
	HTMLCode string `json:"html_code"`
}

// Artifact is the final generated document.
type Artifact struct {
	Raw string
	// HTML is the fenced html block interior, or Raw when no fence was found.
	HTML   string
	Fenced bool
}

// Payload wraps the artifact in the persisted result shape.
func (a Artifact) Payload() ResultPayload {
	return ResultPayload{HTMLCode: a.HTML}
}

// Tier names the fetch strategy that produced a page.
type Tier string

// Fetch tiers.
const (
	TierStatic  Tier = "static"
	TierDynamic Tier = "dynamic"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID string
	URL   string
}

// FetchResponse is the result returned by a Fetcher implementation. Body holds
// the visible page text, not raw markup.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       string
	Duration   time.Duration
	Tier       Tier
}

// FetchResult is the per-URL outcome of the content fetcher. Exactly one of
// Content or Err is meaningful.
type FetchResult struct {
	URL     string
	Content string
	Err     string
	Tier    Tier
}

// Failed reports whether the fetch produced an error block.
func (r FetchResult) Failed() bool {
	return r.Err != ""
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Input     JobInput
	Attempt   int
	Submitted int64
}
