package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Pipeline event types recorded per state-changing operation.
const (
	EventIngest       = "INGEST"
	EventQuery        = "QUERY"
	EventCondensation = "CONDENSATION"
	EventDevReset     = "DEV_RESET"
)

// Entry matches the audit_logs table schema. Append-only.
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	Namespace string          `json:"namespace"`
	SessionID string          `json:"session_id"`
	EventType string          `json:"event_type"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
}

// ListParams holds filtering parameters for audit trail queries.
type ListParams struct {
	Namespace string
	SessionID string
	Limit     int
}
