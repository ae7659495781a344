package condense

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// EventSource supplies the raw events referenced by a job, in creation order.
type EventSource interface {
	EventsByIDs(ctx context.Context, ids []uuid.UUID) ([]SourceEvent, error)
}

// Store persists summaries and answers "current summary" lookups.
type Store interface {
	Latest(ctx context.Context, namespace, sessionID string) (*Summary, error)
	Insert(ctx context.Context, s *Summary) error
}

// Engine produces the next summary for a session: previous card carried
// forward as a hint, new events rendered and extracted, compression metrics
// computed from plain-text renderings.
type Engine struct {
	events       EventSource
	store        Store
	excerptLimit int
}

// NewEngine creates a condensation engine. excerptLimit is the combined-input
// rune count above which a raw excerpt is attached for human debugging.
func NewEngine(events EventSource, store Store, excerptLimit int) *Engine {
	if excerptLimit <= 0 {
		excerptLimit = 600
	}
	return &Engine{events: events, store: store, excerptLimit: excerptLimit}
}

// Result reports what a condensation run produced.
type Result struct {
	SummaryID      uuid.UUID
	TokenOriginal  int
	TokenCondensed int
}

// Run executes one condensation job. Extraction finding nothing is valid
// output; only persistence failures are errors.
func (e *Engine) Run(ctx context.Context, job Job) (*Result, error) {
	rendered := e.renderEvents(ctx, job)

	var prevID *uuid.UUID
	hint := ""
	prev, err := e.store.Latest(ctx, job.Namespace, job.SessionID)
	if err != nil {
		slog.Warn("condense: fetching previous summary failed, starting fresh",
			"error", err, "namespace", job.Namespace, "session_id", job.SessionID)
	} else if prev != nil {
		prevID = &prev.ID
		var prevCard Card
		// An unrecognized schema is treated as opaque and not carried forward.
		if jsonErr := json.Unmarshal([]byte(prev.Condensed), &prevCard); jsonErr == nil && prevCard.Schema == CardSchema {
			hint = prevCard.RenderHint()
		}
	}

	combined := rendered
	if hint != "" {
		combined = hint + "\n" + rendered
	}

	card := NewCard(Extract(CleanLines(strings.Split(combined, "\n"))))
	if utf8.RuneCountInString(combined) > e.excerptLimit {
		card.RawExcerpt = ClipRunes(combined, excerptRunes)
	}

	payload, err := json.Marshal(card)
	if err != nil {
		return nil, fmt.Errorf("marshaling card: %w", err)
	}

	details, err := json.Marshal(map[string]any{
		"previous_summary_id": prevID,
		"event_ids":           job.EventIDs,
		"trigger":             job.TriggerDetails,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling trigger details: %w", err)
	}

	s := &Summary{
		ID:             uuid.New(),
		Namespace:      job.Namespace,
		SessionID:      job.SessionID,
		Version:        SummaryVersion,
		TriggerReason:  job.TriggerReason,
		TriggerDetails: details,
		SourceEventIDs: job.EventIDs,
		Condensed:      string(payload),
		TokenOriginal:  EstimateTokens(combined),
		TokenCondensed: EstimateTokens(card.RenderText()),
		CreatedAt:      time.Now(),
	}

	if err := e.store.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting summary: %w", err)
	}

	return &Result{
		SummaryID:      s.ID,
		TokenOriginal:  s.TokenOriginal,
		TokenCondensed: s.TokenCondensed,
	}, nil
}

// renderEvents prefers the explicit event-id list; a fetch failure degrades
// to the job's raw-text fallback rather than aborting.
func (e *Engine) renderEvents(ctx context.Context, job Job) string {
	if len(job.EventIDs) == 0 {
		return job.RawText
	}
	events, err := e.events.EventsByIDs(ctx, job.EventIDs)
	if err != nil {
		slog.Warn("condense: fetching events failed, degrading to raw text",
			"error", err, "namespace", job.Namespace, "session_id", job.SessionID)
		return job.RawText
	}
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, "["+ev.Role+"] "+ev.Text)
	}
	return strings.Join(lines, "\n")
}
