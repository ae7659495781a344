package condense

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Summary is one row of the condensations table. Append-only; the newest
// created_at per (namespace, session_id) is the authoritative summary.
type Summary struct {
	ID             uuid.UUID       `json:"id"`
	Namespace      string          `json:"namespace"`
	SessionID      string          `json:"session_id"`
	Version        string          `json:"version"`
	TriggerReason  string          `json:"trigger_reason"`
	TriggerDetails json.RawMessage `json:"trigger_details"`
	SourceEventIDs []uuid.UUID     `json:"source_event_ids"`
	Condensed      string          `json:"condensed"`
	TokenOriginal  int             `json:"token_original"`
	TokenCondensed int             `json:"token_condensed"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SourceEvent is the slice of an event a condensation job needs: who said
// what, in creation order.
type SourceEvent struct {
	ID   uuid.UUID
	Role string
	Text string
}

// Job is the execution-side view of a condensation request. It carries
// identifiers and content only; infrastructure configuration is resolved by
// the executing process, never from the job.
type Job struct {
	Namespace      string
	SessionID      string
	EventIDs       []uuid.UUID
	RawText        string
	TriggerReason  string
	TriggerDetails string
}
