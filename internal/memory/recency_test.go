package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecencyStore(t *testing.T, window int, ttl time.Duration) (*RecencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRecencyStore(client, window, ttl), mr
}

func TestRecencyStore_WindowEviction(t *testing.T) {
	const window = 5
	store, _ := newTestRecencyStore(t, window, time.Hour)
	ctx := context.Background()

	for i := 0; i < window+5; i++ {
		err := store.Append(ctx, "demo", "s1", Event{
			ID:   uuid.New(),
			Role: "user",
			Text: fmt.Sprintf("turn %d", i),
		})
		require.NoError(t, err)
	}

	events, err := store.Read(ctx, "demo", "s1")
	require.NoError(t, err)
	require.Len(t, events, window)

	// Only the newest window survives, in chronological order.
	for i, ev := range events {
		assert.Equal(t, fmt.Sprintf("turn %d", i+5), ev.Text)
	}
}

func TestRecencyStore_ChronologicalOrder(t *testing.T) {
	store, _ := newTestRecencyStore(t, 10, time.Hour)
	ctx := context.Background()

	for _, text := range []string{"first", "second", "third"} {
		require.NoError(t, store.Append(ctx, "demo", "s1", Event{ID: uuid.New(), Role: "user", Text: text}))
	}

	events, err := store.Read(ctx, "demo", "s1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "first", events[0].Text)
	assert.Equal(t, "third", events[2].Text)
}

func TestRecencyStore_TTLExpiry(t *testing.T) {
	store, mr := newTestRecencyStore(t, 10, time.Minute)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "demo", "s1", Event{ID: uuid.New(), Role: "user", Text: "hello"}))

	mr.FastForward(2 * time.Minute)

	events, err := store.Read(ctx, "demo", "s1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecencyStore_SessionsIsolated(t *testing.T) {
	store, _ := newTestRecencyStore(t, 10, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "demo", "s1", Event{ID: uuid.New(), Role: "user", Text: "a"}))
	require.NoError(t, store.Append(ctx, "demo", "s2", Event{ID: uuid.New(), Role: "user", Text: "b"}))
	require.NoError(t, store.Append(ctx, "other", "s1", Event{ID: uuid.New(), Role: "user", Text: "c"}))

	events, err := store.Read(ctx, "demo", "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "a", events[0].Text)
}

func TestRecencyStore_EmptyWindow(t *testing.T) {
	store, _ := newTestRecencyStore(t, 10, time.Hour)

	events, err := store.Read(context.Background(), "demo", "never-written")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRecencyStore_SkipsMalformedEntries(t *testing.T) {
	store, mr := newTestRecencyStore(t, 10, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "demo", "s1", Event{ID: uuid.New(), Role: "user", Text: "good"}))
	mr.Lpush("memos:l1:demo:s1", "{not json")

	events, err := store.Read(ctx, "demo", "s1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "good", events[0].Text)
}

func TestRecencyStore_Clear(t *testing.T) {
	store, _ := newTestRecencyStore(t, 10, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, "demo", "s1", Event{ID: uuid.New(), Role: "user", Text: "x"}))
	require.NoError(t, store.Clear(ctx, "demo", "s1"))

	events, err := store.Read(ctx, "demo", "s1")
	require.NoError(t, err)
	assert.Empty(t, events)
}
