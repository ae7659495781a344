package condense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memos-platform/memos/internal/audit"
)

// PostgresRepository implements Store and EventSource using pgx. Summary
// inserts commit together with their CONDENSATION audit entry.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	audit *audit.Repository
}

// NewPostgresRepository creates a new condensations repository.
func NewPostgresRepository(pool *pgxpool.Pool, auditRepo *audit.Repository) *PostgresRepository {
	return &PostgresRepository{pool: pool, audit: auditRepo}
}

func (r *PostgresRepository) Insert(ctx context.Context, s *Summary) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	details := s.TriggerDetails
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO condensations
		   (id, namespace, session_id, version, trigger_reason, trigger_details,
		    source_event_ids, condensed_text, token_original, token_condensed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.Namespace, s.SessionID, s.Version, s.TriggerReason, details,
		s.SourceEventIDs, s.Condensed, s.TokenOriginal, s.TokenCondensed,
	)
	if err != nil {
		return fmt.Errorf("inserting condensation: %w", err)
	}

	auditDetails, _ := json.Marshal(map[string]any{
		"summary_id":      s.ID,
		"token_original":  s.TokenOriginal,
		"token_condensed": s.TokenCondensed,
	})
	entry := &audit.Entry{
		Namespace: s.Namespace,
		SessionID: s.SessionID,
		EventType: audit.EventCondensation,
		Details:   auditDetails,
	}
	if err := r.audit.InsertTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing condensation: %w", err)
	}
	return nil
}

// Latest returns the current summary for a session, or nil if none exists.
func (r *PostgresRepository) Latest(ctx context.Context, namespace, sessionID string) (*Summary, error) {
	var s Summary
	err := r.pool.QueryRow(ctx,
		`SELECT id, namespace, session_id, version, trigger_reason, trigger_details,
		        source_event_ids, condensed_text, token_original, token_condensed, created_at
		 FROM condensations
		 WHERE namespace = $1 AND session_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`,
		namespace, sessionID,
	).Scan(&s.ID, &s.Namespace, &s.SessionID, &s.Version, &s.TriggerReason, &s.TriggerDetails,
		&s.SourceEventIDs, &s.Condensed, &s.TokenOriginal, &s.TokenCondensed, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching latest condensation: %w", err)
	}
	return &s, nil
}

// Recent returns the newest summaries across all sessions.
func (r *PostgresRepository) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, namespace, session_id, version, trigger_reason, trigger_details,
		        source_event_ids, condensed_text, token_original, token_condensed, created_at
		 FROM condensations
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing condensations: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Namespace, &s.SessionID, &s.Version, &s.TriggerReason,
			&s.TriggerDetails, &s.SourceEventIDs, &s.Condensed, &s.TokenOriginal,
			&s.TokenCondensed, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning condensation: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TokenTotals sums token counts over the newest limit summaries, for
// compression-ratio reporting.
func (r *PostgresRepository) TokenTotals(ctx context.Context, limit int) (original, condensed int64, err error) {
	if limit < 1 {
		limit = 200
	}
	err = r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(token_original), 0), COALESCE(SUM(token_condensed), 0)
		 FROM (SELECT token_original, token_condensed
		       FROM condensations
		       ORDER BY created_at DESC
		       LIMIT $1) recent`,
		limit,
	).Scan(&original, &condensed)
	if err != nil {
		return 0, 0, fmt.Errorf("summing token counts: %w", err)
	}
	return original, condensed, nil
}

// EventsByIDs fetches the referenced events in creation order.
func (r *PostgresRepository) EventsByIDs(ctx context.Context, ids []uuid.UUID) ([]SourceEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, role, text
		 FROM events
		 WHERE id = ANY($1)
		 ORDER BY created_at, id`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching events by id: %w", err)
	}
	defer rows.Close()

	var out []SourceEvent
	for rows.Next() {
		var ev SourceEvent
		if err := rows.Scan(&ev.ID, &ev.Role, &ev.Text); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
