package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/memos-platform/memos/internal/audit"
)

// Repository is the L2 tier: durable event storage with vector retrieval.
type Repository interface {
	InsertEvent(ctx context.Context, e *Event) error
	Nearest(ctx context.Context, namespace, sessionID string, vec []float32, k int) ([]RetrievedEvent, error)
	InsertContextPack(ctx context.Context, p *ContextPack) error
	CountEvents(ctx context.Context) (int64, error)
	ResetSession(ctx context.Context, namespace, sessionID string) (int64, error)
}

// PostgresRepository implements Repository on pgx with pgvector. Writes that
// the audit trail must witness run inside a single transaction with their
// audit entry.
type PostgresRepository struct {
	pool  *pgxpool.Pool
	audit *audit.Repository
}

func NewPostgresRepository(pool *pgxpool.Pool, auditRepo *audit.Repository) *PostgresRepository {
	return &PostgresRepository{pool: pool, audit: auditRepo}
}

func (r *PostgresRepository) InsertEvent(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	metadata := e.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO events (id, namespace, session_id, role, text, metadata, importance, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at`,
		e.ID, e.Namespace, e.SessionID, e.Role, e.Text, metadata, e.Importance,
		pgvector.NewVector(e.Embedding),
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	details, _ := json.Marshal(map[string]any{
		"event_id":   e.ID,
		"role":       e.Role,
		"text_runes": len([]rune(e.Text)),
	})
	entry := &audit.Entry{
		Namespace: e.Namespace,
		SessionID: e.SessionID,
		EventType: audit.EventIngest,
		Details:   details,
	}
	if err := r.audit.InsertTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing event: %w", err)
	}
	return nil
}

// Nearest returns the k most similar events for the session by cosine
// similarity. Ties break on created_at then id so results are stable.
func (r *PostgresRepository) Nearest(ctx context.Context, namespace, sessionID string, vec []float32, k int) ([]RetrievedEvent, error) {
	if k < 1 {
		return nil, nil
	}
	q := pgvector.NewVector(vec)
	rows, err := r.pool.Query(ctx,
		`SELECT id, namespace, session_id, role, text, metadata, importance, created_at,
		        1 - (embedding <=> $1) AS score
		 FROM events
		 WHERE namespace = $2 AND session_id = $3
		 ORDER BY embedding <=> $1, created_at, id
		 LIMIT $4`,
		q, namespace, sessionID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("querying nearest events: %w", err)
	}
	defer rows.Close()

	var out []RetrievedEvent
	for rows.Next() {
		var re RetrievedEvent
		if err := rows.Scan(&re.ID, &re.Namespace, &re.SessionID, &re.Role, &re.Text,
			&re.Metadata, &re.Importance, &re.CreatedAt, &re.Score); err != nil {
			return nil, fmt.Errorf("scanning retrieved event: %w", err)
		}
		out = append(out, re)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) InsertContextPack(ctx context.Context, p *ContextPack) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO context_packs
		   (id, namespace, session_id, query, l1_count, l2_event_ids, summary_id,
		    summary_hit, token_original, token_condensed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING created_at`,
		p.ID, p.Namespace, p.SessionID, p.Query, p.L1Count, p.L2EventIDs, p.SummaryID,
		p.SummaryHit, p.TokenOriginal, p.TokenCondensed,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting context pack: %w", err)
	}

	details, _ := json.Marshal(map[string]any{
		"pack_id":     p.ID,
		"l1_count":    p.L1Count,
		"l2_count":    len(p.L2EventIDs),
		"summary_hit": p.SummaryHit,
	})
	entry := &audit.Entry{
		Namespace: p.Namespace,
		SessionID: p.SessionID,
		EventType: audit.EventQuery,
		Details:   details,
	}
	if err := r.audit.InsertTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing context pack: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// ResetSession deletes all durable state for one session and records the
// reset in the audit trail. It returns the number of events removed.
func (r *PostgresRepository) ResetSession(ctx context.Context, namespace, sessionID string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`DELETE FROM events WHERE namespace = $1 AND session_id = $2`, namespace, sessionID)
	if err != nil {
		return 0, fmt.Errorf("deleting events: %w", err)
	}
	deleted := tag.RowsAffected()

	if _, err := tx.Exec(ctx,
		`DELETE FROM condensations WHERE namespace = $1 AND session_id = $2`, namespace, sessionID); err != nil {
		return 0, fmt.Errorf("deleting condensations: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM context_packs WHERE namespace = $1 AND session_id = $2`, namespace, sessionID); err != nil {
		return 0, fmt.Errorf("deleting context packs: %w", err)
	}

	details, _ := json.Marshal(map[string]any{"events_deleted": deleted})
	entry := &audit.Entry{
		Namespace: namespace,
		SessionID: sessionID,
		EventType: audit.EventDevReset,
		Details:   details,
	}
	if err := r.audit.InsertTx(ctx, tx, entry); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing session reset: %w", err)
	}
	return deleted, nil
}
