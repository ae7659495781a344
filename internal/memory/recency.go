package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// l1Entry is the JSON shape stored per list element in Redis.
type l1Entry struct {
	EventID   string    `json:"event_id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// RecencyStore is the L1 tier: a bounded, expiring window of the most recent
// turns per session, kept in a Redis list. Newest entries sit at the head;
// Read returns them oldest first. L1 is a cache, never the source of truth.
type RecencyStore struct {
	client redis.Cmdable
	window int
	ttl    time.Duration
}

// NewRecencyStore creates an L1 store with the given window size and entry TTL.
func NewRecencyStore(client redis.Cmdable, window int, ttl time.Duration) *RecencyStore {
	if window < 1 {
		window = 20
	}
	return &RecencyStore{client: client, window: window, ttl: ttl}
}

func (s *RecencyStore) key(namespace, sessionID string) string {
	return fmt.Sprintf("memos:l1:%s:%s", namespace, sessionID)
}

// Append pushes one turn onto the session window, trims to the window size,
// and refreshes the TTL, all in one pipeline round trip.
func (s *RecencyStore) Append(ctx context.Context, namespace, sessionID string, e Event) error {
	payload, err := json.Marshal(l1Entry{
		EventID:   e.ID.String(),
		Role:      e.Role,
		Text:      e.Text,
		CreatedAt: e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling l1 entry: %w", err)
	}

	key := s.key(namespace, sessionID)
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(s.window-1))
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending to l1 window %s: %w", key, err)
	}
	return nil
}

// Read returns the full window in chronological order. Malformed entries are
// skipped with a warning rather than failing the read.
func (s *RecencyStore) Read(ctx context.Context, namespace, sessionID string) ([]Event, error) {
	key := s.key(namespace, sessionID)
	raw, err := s.client.LRange(ctx, key, 0, int64(s.window-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading l1 window %s: %w", key, err)
	}

	events := make([]Event, 0, len(raw))
	// The list is newest-first; walk it backwards.
	for i := len(raw) - 1; i >= 0; i-- {
		var entry l1Entry
		if err := json.Unmarshal([]byte(raw[i]), &entry); err != nil {
			slog.Warn("skipping malformed l1 entry", "key", key, "error", err)
			continue
		}
		ev := Event{
			Namespace: namespace,
			SessionID: sessionID,
			Role:      entry.Role,
			Text:      entry.Text,
			CreatedAt: entry.CreatedAt,
		}
		if id, err := uuid.Parse(entry.EventID); err == nil {
			ev.ID = id
		}
		events = append(events, ev)
	}
	return events, nil
}

// Clear drops the session window.
func (s *RecencyStore) Clear(ctx context.Context, namespace, sessionID string) error {
	if err := s.client.Del(ctx, s.key(namespace, sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing l1 window: %w", err)
	}
	return nil
}
