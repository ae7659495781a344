package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memos-platform/memos/internal/condense"
	"github.com/memos-platform/memos/internal/config"
	"github.com/memos-platform/memos/internal/metrics"
	"github.com/memos-platform/memos/internal/nats"
)

// SummaryStore reads condensation results. The service never writes
// summaries; that is the background worker's job.
type SummaryStore interface {
	Latest(ctx context.Context, namespace, sessionID string) (*condense.Summary, error)
	Recent(ctx context.Context, limit int) ([]condense.Summary, error)
	TokenTotals(ctx context.Context, limit int) (original, condensed int64, err error)
}

// JobEnqueuer hands condensation work to the queue.
type JobEnqueuer interface {
	PublishCondensationJob(ctx context.Context, job nats.CondensationJob) error
}

// QueueInspector reports job queue backlog.
type QueueInspector interface {
	PendingJobs(ctx context.Context) (int64, error)
}

// Service is the tiered memory pipeline: L1 recency window, L2 vector store,
// summary cache with asynchronous condensation.
type Service struct {
	repo      Repository
	recency   *RecencyStore
	embedder  Embedder
	summaries SummaryStore
	jobs      JobEnqueuer
	queue     QueueInspector
	cfg       config.MemoryConfig
}

func NewService(repo Repository, recency *RecencyStore, embedder Embedder,
	summaries SummaryStore, jobs JobEnqueuer, queue QueueInspector, cfg config.MemoryConfig) *Service {
	return &Service{
		repo:      repo,
		recency:   recency,
		embedder:  embedder,
		summaries: summaries,
		jobs:      jobs,
		queue:     queue,
		cfg:       cfg,
	}
}

// Ingest stores one turn durably, then mirrors it into the L1 window. The
// durable write and its audit entry are one transaction; an L1 failure is
// logged and tolerated since L1 is a cache, never the source of truth.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	e := &Event{
		ID:         uuid.New(),
		Namespace:  req.Namespace,
		SessionID:  req.SessionID,
		Role:       req.Role,
		Text:       req.Text,
		Metadata:   req.Metadata,
		Importance: roleImportance(req.Role),
		Embedding:  s.embedder.Embed(req.Text),
	}

	if err := s.repo.InsertEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("ingesting event: %w", err)
	}

	if err := s.recency.Append(ctx, req.Namespace, req.SessionID, *e); err != nil {
		slog.Warn("l1 append failed, continuing on durable store only",
			"error", err, "namespace", req.Namespace, "session_id", req.SessionID)
	}

	metrics.EventsIngestedTotal.WithLabelValues(req.Role).Inc()

	return &IngestResponse{EventID: e.ID, Accepted: true, Importance: e.Importance}, nil
}

// Retrieve assembles a context pack: the L1 window, the nearest L2 events,
// and the current session summary. On a summary miss it returns a truncated
// fallback immediately and enqueues condensation in the background; the
// caller never waits for summarization.
func (s *Service) Retrieve(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	topK := req.TopK
	if topK == 0 {
		topK = s.cfg.DefaultTopK
	}

	l1, err := s.recency.Read(ctx, req.Namespace, req.SessionID)
	if err != nil {
		slog.Warn("l1 read failed, continuing without recency window",
			"error", err, "namespace", req.Namespace, "session_id", req.SessionID)
		l1 = nil
	}

	l2, err := s.repo.Nearest(ctx, req.Namespace, req.SessionID, s.embedder.Embed(req.Query), topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving nearest events: %w", err)
	}
	for i := range l2 {
		l2[i].Score = clampScore(l2[i].Score)
	}

	raw := renderCombined(l1, l2)
	tokenOriginal := condense.EstimateTokens(raw)

	var (
		summaryText    string
		summaryID      *uuid.UUID
		cacheHit       bool
		enqueued       bool
		tokenCondensed int
	)

	current, err := s.summaries.Latest(ctx, req.Namespace, req.SessionID)
	if err != nil {
		slog.Warn("summary lookup failed, treating as miss",
			"error", err, "namespace", req.Namespace, "session_id", req.SessionID)
		current = nil
	}

	if current != nil {
		cacheHit = true
		summaryID = &current.ID
		summaryText = renderSummary(current)
		// On a hit both token counts come from the persisted summary, so the
		// reported pair always describes the same condensation run.
		tokenOriginal = current.TokenOriginal
		tokenCondensed = current.TokenCondensed
		metrics.QueriesTotal.WithLabelValues("hit").Inc()
	} else {
		summaryText = fallbackSummary(raw, s.cfg.FallbackRunes)
		tokenCondensed = condense.EstimateTokens(summaryText)
		enqueued = s.enqueueCondensation(ctx, req, l1, l2, raw)
		if enqueued {
			metrics.QueriesTotal.WithLabelValues("enqueued").Inc()
		} else {
			metrics.QueriesTotal.WithLabelValues("enqueue_failed").Inc()
		}
	}

	pack := &ContextPack{
		ID:             uuid.New(),
		Namespace:      req.Namespace,
		SessionID:      req.SessionID,
		Query:          req.Query,
		L1Count:        len(l1),
		L2EventIDs:     eventIDs(l2),
		SummaryID:      summaryID,
		SummaryHit:     cacheHit,
		TokenOriginal:  tokenOriginal,
		TokenCondensed: tokenCondensed,
	}
	if err := s.repo.InsertContextPack(ctx, pack); err != nil {
		return nil, fmt.Errorf("persisting context pack: %w", err)
	}

	similarity := 0.0
	if len(l2) > 0 {
		similarity = l2[0].Score
	}

	return &QueryResult{
		ID:              fmt.Sprintf("ret-%d", time.Now().UnixMilli()),
		Similarity:      similarity,
		Retrieved:       retrievedItems(l2),
		SummaryText:     summaryText,
		SummaryCacheHit: cacheHit,
		SummaryEnqueued: enqueued,
		TokenOriginal:   tokenOriginal,
		TokenCondensed:  tokenCondensed,
	}, nil
}

// Pipeline reports queue backlog and the latest condensation results.
func (s *Service) Pipeline(ctx context.Context) (*PipelineStatus, error) {
	pending, err := s.queue.PendingJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("inspecting job queue: %w", err)
	}
	metrics.CondenseQueueDepth.Set(float64(pending))

	recent, err := s.summaries.Recent(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("listing recent condensations: %w", err)
	}
	if recent == nil {
		recent = []condense.Summary{}
	}

	return &PipelineStatus{
		Queues:              []QueueStatus{{Name: nats.StreamJobs, Count: pending}},
		RecentCondensations: recent,
	}, nil
}

// Stats reports corpus size and compression over the newest summaries.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	events, err := s.repo.CountEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	original, condensed, err := s.summaries.TokenTotals(ctx, 200)
	if err != nil {
		return nil, fmt.Errorf("summing tokens: %w", err)
	}

	ratio := 0.0
	if original > 0 {
		ratio = float64(condensed) / float64(original)
	}

	return &Stats{
		TotalEvents:      events,
		TokenSavings:     original - condensed,
		CompressionRatio: ratio,
	}, nil
}

// Reset wipes one session across every tier. Development tooling only.
func (s *Service) Reset(ctx context.Context, namespace, sessionID string) (int64, error) {
	if err := s.recency.Clear(ctx, namespace, sessionID); err != nil {
		slog.Warn("clearing l1 window failed", "error", err,
			"namespace", namespace, "session_id", sessionID)
	}
	deleted, err := s.repo.ResetSession(ctx, namespace, sessionID)
	if err != nil {
		return 0, fmt.Errorf("resetting session: %w", err)
	}
	return deleted, nil
}

func (s *Service) enqueueCondensation(ctx context.Context, req QueryRequest, l1 []Event, l2 []RetrievedEvent, raw string) bool {
	ids := make([]uuid.UUID, 0, len(l1)+len(l2))
	for _, e := range l1 {
		if e.ID != uuid.Nil {
			ids = append(ids, e.ID)
		}
	}
	ids = append(ids, eventIDs(l2)...)

	job := nats.CondensationJob{
		JobID:         uuid.NewString(),
		Namespace:     req.Namespace,
		SessionID:     req.SessionID,
		EventIDs:      ids,
		RawText:       raw,
		TriggerReason: "summary_miss",
		EnqueuedAt:    time.Now(),
	}
	if err := s.jobs.PublishCondensationJob(ctx, job); err != nil {
		slog.Warn("enqueueing condensation failed",
			"error", err, "namespace", req.Namespace, "session_id", req.SessionID)
		return false
	}
	return true
}

// renderCombined produces the raw context text token accounting runs on:
// an [L1] block of recent turns followed by scored L2 lines.
func renderCombined(l1 []Event, l2 []RetrievedEvent) string {
	lines := make([]string, 0, len(l1)+len(l2)+1)
	lines = append(lines, "[L1]")
	for _, e := range l1 {
		lines = append(lines, "["+e.Role+"] "+e.Text)
	}
	for _, e := range l2 {
		lines = append(lines, fmt.Sprintf("[L2 score=%.3f] %s", e.Score, e.Text))
	}
	return strings.Join(lines, "\n")
}

// renderSummary prefers the card's plain-text rendering; summaries with an
// unrecognized schema pass through as opaque text.
func renderSummary(s *condense.Summary) string {
	var card condense.Card
	if err := json.Unmarshal([]byte(s.Condensed), &card); err == nil && card.Schema == condense.CardSchema {
		return card.RenderText()
	}
	return s.Condensed
}

func fallbackSummary(raw string, limit int) string {
	clipped := condense.ClipRunes(raw, limit)
	if clipped != raw {
		clipped += "..."
	}
	return clipped
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func eventIDs(l2 []RetrievedEvent) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(l2))
	for _, e := range l2 {
		ids = append(ids, e.ID)
	}
	return ids
}

// retrievedItems exposes only the L2 similarity results, so the retrieved
// set never exceeds top_k. The L1 window still reaches the caller through
// the combined raw context and the fallback summary.
func retrievedItems(l2 []RetrievedEvent) []RetrievedItem {
	items := make([]RetrievedItem, 0, len(l2))
	for _, e := range l2 {
		id := e.ID
		items = append(items, RetrievedItem{
			Tier:       "l2",
			Text:       e.Text,
			Role:       e.Role,
			EventID:    &id,
			Similarity: e.Score,
		})
	}
	return items
}
