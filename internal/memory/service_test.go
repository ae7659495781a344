package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memos-platform/memos/internal/condense"
	"github.com/memos-platform/memos/internal/config"
	"github.com/memos-platform/memos/internal/nats"
)

type fakeRepo struct {
	events     []Event
	packs      []ContextPack
	nearest    []RetrievedEvent
	nearestErr error
	insertErr  error
}

func (f *fakeRepo) InsertEvent(ctx context.Context, e *Event) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	e.CreatedAt = time.Now()
	f.events = append(f.events, *e)
	return nil
}

func (f *fakeRepo) Nearest(ctx context.Context, namespace, sessionID string, vec []float32, k int) ([]RetrievedEvent, error) {
	if f.nearestErr != nil {
		return nil, f.nearestErr
	}
	if k > len(f.nearest) {
		k = len(f.nearest)
	}
	return f.nearest[:k], nil
}

func (f *fakeRepo) InsertContextPack(ctx context.Context, p *ContextPack) error {
	p.CreatedAt = time.Now()
	f.packs = append(f.packs, *p)
	return nil
}

func (f *fakeRepo) CountEvents(ctx context.Context) (int64, error) {
	return int64(len(f.events)), nil
}

func (f *fakeRepo) ResetSession(ctx context.Context, namespace, sessionID string) (int64, error) {
	n := int64(len(f.events))
	f.events = nil
	return n, nil
}

type fakeSummaries struct {
	latest    *condense.Summary
	recent    []condense.Summary
	original  int64
	condensed int64
}

func (f *fakeSummaries) Latest(ctx context.Context, namespace, sessionID string) (*condense.Summary, error) {
	return f.latest, nil
}

func (f *fakeSummaries) Recent(ctx context.Context, limit int) ([]condense.Summary, error) {
	return f.recent, nil
}

func (f *fakeSummaries) TokenTotals(ctx context.Context, limit int) (int64, int64, error) {
	return f.original, f.condensed, nil
}

type fakeJobs struct {
	published []nats.CondensationJob
	err       error
}

func (f *fakeJobs) PublishCondensationJob(ctx context.Context, job nats.CondensationJob) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, job)
	return nil
}

type fakeQueue struct{ pending int64 }

func (f *fakeQueue) PendingJobs(ctx context.Context) (int64, error) {
	return f.pending, nil
}

type serviceFixture struct {
	svc       *Service
	repo      *fakeRepo
	summaries *fakeSummaries
	jobs      *fakeJobs
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.MemoryConfig{
		WindowSize:    20,
		TTLSec:        3600,
		DefaultTopK:   6,
		FallbackRunes: 240,
	}
	repo := &fakeRepo{}
	summaries := &fakeSummaries{}
	jobs := &fakeJobs{}
	recency := NewRecencyStore(client, cfg.WindowSize, time.Duration(cfg.TTLSec)*time.Second)

	svc := NewService(repo, recency, NewHashEmbedder(), summaries, jobs, &fakeQueue{pending: 3}, cfg)
	return &serviceFixture{svc: svc, repo: repo, summaries: summaries, jobs: jobs}
}

func TestServiceIngest(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	resp, err := f.svc.Ingest(ctx, IngestRequest{
		Namespace: "demo", SessionID: "s1", Role: "user", Text: "hello there",
	})
	require.NoError(t, err)
	assert.True(t, resp.Accepted)
	assert.NotEqual(t, uuid.Nil, resp.EventID)
	assert.Equal(t, 0.9, resp.Importance)

	require.Len(t, f.repo.events, 1)
	stored := f.repo.events[0]
	assert.Equal(t, "hello there", stored.Text)
	assert.Len(t, stored.Embedding, EmbeddingDim)

	// The turn also landed in the L1 window.
	window, err := f.svc.recency.Read(ctx, "demo", "s1")
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "hello there", window[0].Text)
}

func TestServiceIngest_ImportanceByRole(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	user, err := f.svc.Ingest(ctx, IngestRequest{Namespace: "demo", SessionID: "s1", Role: "user", Text: "a"})
	require.NoError(t, err)
	agent, err := f.svc.Ingest(ctx, IngestRequest{Namespace: "demo", SessionID: "s1", Role: "agent", Text: "b"})
	require.NoError(t, err)

	assert.Equal(t, 0.9, user.Importance)
	assert.Equal(t, 0.6, agent.Importance)
}

func TestServiceRetrieve_FreshSession(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	for _, text := range []string{"first turn", "second turn"} {
		_, err := f.svc.Ingest(ctx, IngestRequest{Namespace: "demo", SessionID: "s1", Role: "user", Text: text})
		require.NoError(t, err)
	}

	res, err := f.svc.Retrieve(ctx, QueryRequest{Namespace: "demo", SessionID: "s1", Query: "what happened"})
	require.NoError(t, err)

	assert.False(t, res.SummaryCacheHit)
	assert.True(t, res.SummaryEnqueued)
	assert.NotEmpty(t, res.SummaryText)
	assert.Equal(t, 0.0, res.Similarity) // nothing retrieved from L2
	assert.True(t, strings.HasPrefix(res.ID, "ret-"))
	assert.GreaterOrEqual(t, res.TokenOriginal, 1)

	// The retrieved set holds L2 hits only; the window reaches the caller
	// through the fallback summary and token accounting instead.
	assert.Empty(t, res.Retrieved)
	assert.Contains(t, res.SummaryText, "first turn")

	// A condensation job went out carrying content, not configuration. The
	// window turns ride along as event references.
	require.Len(t, f.jobs.published, 1)
	job := f.jobs.published[0]
	assert.Equal(t, "summary_miss", job.TriggerReason)
	assert.Len(t, job.EventIDs, 2)
	assert.Empty(t, job.DatabaseURL)
}

func TestServiceRetrieve_SummaryCacheHit(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	card := condense.NewCard(condense.Buckets{Facts: []string{"deploy target is fly.io"}})
	payload, err := json.Marshal(card)
	require.NoError(t, err)
	f.summaries.latest = &condense.Summary{
		ID:             uuid.New(),
		Namespace:      "demo",
		SessionID:      "s1",
		Condensed:      string(payload),
		TokenOriginal:  100,
		TokenCondensed: 12,
	}

	res, err := f.svc.Retrieve(ctx, QueryRequest{Namespace: "demo", SessionID: "s1", Query: "anything"})
	require.NoError(t, err)

	assert.True(t, res.SummaryCacheHit)
	assert.False(t, res.SummaryEnqueued)
	assert.Equal(t, card.RenderText(), res.SummaryText)
	// Both counts come from the persisted summary, never a mix of runs.
	assert.Equal(t, 100, res.TokenOriginal)
	assert.Equal(t, 12, res.TokenCondensed)
	assert.Empty(t, f.jobs.published)
}

func TestServiceRetrieve_SimilarityClamped(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.repo.nearest = []RetrievedEvent{
		{Event: Event{ID: uuid.New(), Role: "user", Text: "close match"}, Score: 1.4},
		{Event: Event{ID: uuid.New(), Role: "agent", Text: "odd vector"}, Score: -0.2},
	}

	res, err := f.svc.Retrieve(ctx, QueryRequest{Namespace: "demo", SessionID: "s1", Query: "q", TopK: 2})
	require.NoError(t, err)

	assert.Equal(t, 1.0, res.Similarity)
	require.Len(t, res.Retrieved, 2)
	assert.Equal(t, 0.0, res.Retrieved[1].Similarity)
}

func TestServiceRetrieve_RespectsTopK(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// A populated L1 window must not inflate the retrieved set past top_k.
	for i := 0; i < 5; i++ {
		_, err := f.svc.Ingest(ctx, IngestRequest{
			Namespace: "demo", SessionID: "s1", Role: "user", Text: fmt.Sprintf("turn %d", i),
		})
		require.NoError(t, err)
	}
	for i := 0; i < 10; i++ {
		f.repo.nearest = append(f.repo.nearest, RetrievedEvent{
			Event: Event{ID: uuid.New(), Role: "user", Text: "stored"}, Score: 0.5,
		})
	}

	res, err := f.svc.Retrieve(ctx, QueryRequest{Namespace: "demo", SessionID: "s1", Query: "q", TopK: 3})
	require.NoError(t, err)
	assert.Len(t, res.Retrieved, 3)
	for _, it := range res.Retrieved {
		assert.Equal(t, "l2", it.Tier)
	}
}

func TestServiceRetrieve_FallbackTruncation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, IngestRequest{
		Namespace: "demo", SessionID: "s1", Role: "user", Text: strings.Repeat("long ", 200),
	})
	require.NoError(t, err)

	res, err := f.svc.Retrieve(ctx, QueryRequest{Namespace: "demo", SessionID: "s1", Query: "q"})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(res.SummaryText, "..."))
	assert.Equal(t, 240+3, utf8.RuneCountInString(res.SummaryText))
	assert.Less(t, res.TokenCondensed, res.TokenOriginal)
}

func TestServiceRetrieve_EnqueueFailureDoesNotBlock(t *testing.T) {
	f := newServiceFixture(t)
	f.jobs.err = errors.New("nats down")

	res, err := f.svc.Retrieve(context.Background(), QueryRequest{Namespace: "demo", SessionID: "s1", Query: "q"})
	require.NoError(t, err)
	assert.False(t, res.SummaryEnqueued)
	assert.NotEmpty(t, res.SummaryText)
}

func TestServiceRetrieve_PersistsContextPack(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	id := uuid.New()
	f.repo.nearest = []RetrievedEvent{{Event: Event{ID: id, Role: "user", Text: "x"}, Score: 0.8}}

	_, err := f.svc.Retrieve(ctx, QueryRequest{Namespace: "demo", SessionID: "s1", Query: "the query", TopK: 1})
	require.NoError(t, err)

	require.Len(t, f.repo.packs, 1)
	pack := f.repo.packs[0]
	assert.Equal(t, "the query", pack.Query)
	assert.Equal(t, []uuid.UUID{id}, pack.L2EventIDs)
	assert.False(t, pack.SummaryHit)
}

func TestServicePipeline(t *testing.T) {
	f := newServiceFixture(t)
	f.summaries.recent = []condense.Summary{{ID: uuid.New()}}

	status, err := f.svc.Pipeline(context.Background())
	require.NoError(t, err)
	require.Len(t, status.Queues, 1)
	assert.Equal(t, nats.StreamJobs, status.Queues[0].Name)
	assert.Equal(t, int64(3), status.Queues[0].Count)
	assert.Len(t, status.RecentCondensations, 1)
}

func TestServiceStats(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, IngestRequest{Namespace: "demo", SessionID: "s1", Role: "user", Text: "a"})
	require.NoError(t, err)
	f.summaries.original = 1000
	f.summaries.condensed = 250

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalEvents)
	assert.Equal(t, int64(750), stats.TokenSavings)
	assert.InDelta(t, 0.25, stats.CompressionRatio, 1e-9)
}

func TestServiceReset(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, IngestRequest{Namespace: "demo", SessionID: "s1", Role: "user", Text: "a"})
	require.NoError(t, err)

	deleted, err := f.svc.Reset(ctx, "demo", "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	window, err := f.svc.recency.Read(ctx, "demo", "s1")
	require.NoError(t, err)
	assert.Empty(t, window)
}
