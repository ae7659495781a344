package memory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/memos-platform/memos/internal/condense"
)

// Event is one durable conversation turn in the events table.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Namespace  string          `json:"namespace"`
	SessionID  string          `json:"session_id"`
	Role       string          `json:"role"`
	Text       string          `json:"text"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Importance float64         `json:"importance"`
	Embedding  []float32       `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
}

// RetrievedEvent is an event scored against a query embedding.
type RetrievedEvent struct {
	Event
	Score float64 `json:"score"`
}

// ContextPack records one assembled retrieval result for replay.
type ContextPack struct {
	ID             uuid.UUID   `json:"id"`
	Namespace      string      `json:"namespace"`
	SessionID      string      `json:"session_id"`
	Query          string      `json:"query"`
	L1Count        int         `json:"l1_count"`
	L2EventIDs     []uuid.UUID `json:"l2_event_ids"`
	SummaryID      *uuid.UUID  `json:"summary_id,omitempty"`
	SummaryHit     bool        `json:"summary_hit"`
	TokenOriginal  int         `json:"token_original"`
	TokenCondensed int         `json:"token_condensed"`
	CreatedAt      time.Time   `json:"created_at"`
}

// IngestRequest is the body of POST /v1/ingest.
type IngestRequest struct {
	Namespace string          `json:"namespace" validate:"required,min=1,max=128"`
	SessionID string          `json:"session_id" validate:"required,min=1,max=128"`
	Role      string          `json:"role" validate:"required,oneof=user agent system tool"`
	Text      string          `json:"text" validate:"required,max=20000"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// IngestResponse reports what ingestion stored.
type IngestResponse struct {
	EventID    uuid.UUID `json:"event_id"`
	Accepted   bool      `json:"accepted"`
	Importance float64   `json:"importance"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Namespace string `json:"namespace" validate:"required,min=1,max=128"`
	SessionID string `json:"session_id" validate:"required,min=1,max=128"`
	Query     string `json:"query" validate:"required,max=2000"`
	TopK      int    `json:"top_k" validate:"gte=0,lte=50"`
}

// RetrievedItem is one L2 similarity hit of a query result. The L1 window
// is not part of the retrieved set; it surfaces through the summary path.
type RetrievedItem struct {
	Tier       string     `json:"tier"` // always "l2"
	Text       string     `json:"text"`
	Role       string     `json:"role,omitempty"`
	EventID    *uuid.UUID `json:"event_id,omitempty"`
	Similarity float64    `json:"similarity,omitempty"`
}

// QueryResult is the assembled context for one retrieval query. Similarity
// is the best L2 score, or exactly 0.0 when nothing was retrieved.
type QueryResult struct {
	ID              string          `json:"id"`
	Similarity      float64         `json:"similarity"`
	Retrieved       []RetrievedItem `json:"retrieved"`
	SummaryText     string          `json:"summary_text"`
	SummaryCacheHit bool            `json:"summary_cache_hit"`
	SummaryEnqueued bool            `json:"summary_enqueued"`
	TokenOriginal   int             `json:"token_original"`
	TokenCondensed  int             `json:"token_condensed"`
}

// QueueStatus is one named work queue and its backlog.
type QueueStatus struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// PipelineStatus is the answer of GET /v1/ops/pipeline.
type PipelineStatus struct {
	Queues              []QueueStatus      `json:"queues"`
	RecentCondensations []condense.Summary `json:"recent_condensations"`
}

// Stats is the answer of GET /v1/ops/stats. CompressionRatio is
// token_condensed over token_original across the newest summaries.
type Stats struct {
	TotalEvents      int64   `json:"total_events"`
	TokenSavings     int64   `json:"token_savings"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// roleImportance is the deterministic importance prior per speaker role.
func roleImportance(role string) float64 {
	if role == "user" {
		return 0.9
	}
	return 0.6
}
