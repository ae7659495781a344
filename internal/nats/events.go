package nats

import (
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// Stream names.
const (
	StreamJobs = "MEMOS_JOBS"
)

// Subject constants.
const (
	SubjectCondenseJob = "memos.jobs.condense"
)

// CondensationJob asks the background worker to produce the next session
// summary. The payload carries identifiers and content only; the worker
// resolves infrastructure configuration from its own environment at
// execution time, never from the message.
type CondensationJob struct {
	JobID          string      `json:"job_id"`
	Namespace      string      `json:"namespace"`
	SessionID      string      `json:"session_id"`
	EventIDs       []uuid.UUID `json:"event_ids,omitempty"`
	RawText        string      `json:"raw_text,omitempty"`
	TriggerReason  string      `json:"trigger_reason"`
	TriggerDetails string      `json:"trigger_details,omitempty"`
	EnqueuedAt     time.Time   `json:"enqueued_at"`

	// Deprecated: older enqueuers embedded their connection string here.
	// The worker ignores it in favor of its runtime config and logs a
	// warning when the two disagree.
	DatabaseURL string `json:"database_url,omitempty"`
}
