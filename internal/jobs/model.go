package jobs

import (
	"context"
	"errors"
	"time"
)

// Status represents the lifecycle status of a document-processing job.
// Transitions are one-way: processing to completed, or processing to failed.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job describes a single document summarization request and its lifecycle record.
type Job struct {
	ID               string    // UUIDv4, immutable
	OwnerID          string    // submitting user; every read is scoped to this
	OriginalFilename string    // client-supplied name, used for content-type inference and display
	Status           Status    // current status
	FilePath         string    // staging path until archival, archive path after
	ResultText       *string   // summary on completed; failure reason on failed
	ContentPreview   *string   // first slice of extracted text, completed only
	CreatedAt        time.Time // creation time, immutable
}

// Summary is the listing projection of a Job.
type Summary struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"originalFilename"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ErrNotFound is returned when a job does not exist or belongs to another
// owner. The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("job not found")

// Store defines persistence for Jobs and their lifecycle.
type Store interface {
	CreateJob(job *Job) error
	// GetJob returns the job only if it is owned by ownerID.
	GetJob(id, ownerID string) (*Job, error)
	// ListByOwner returns job summaries for ownerID, newest first.
	ListByOwner(ownerID string) ([]Summary, error)
	// MarkCompleted sets the terminal success state in a single atomic update.
	MarkCompleted(id, resultText, contentPreview, finalPath string) error
	// MarkFailed sets the terminal failure state with a human-readable reason.
	MarkFailed(id, reason string) error
	// FailStaleProcessing marks every job still in processing as failed with
	// the given reason. Used at startup to reconcile jobs orphaned by a
	// process restart. Returns the number of jobs transitioned.
	FailStaleProcessing(reason string) (int64, error)
	Close() error
}

// WorkItem carries a copy of the job data through the processing queue.
type WorkItem struct {
	Job Job
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}
