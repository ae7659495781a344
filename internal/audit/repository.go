package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles audit_logs PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single audit entry.
func (r *Repository) Insert(ctx context.Context, e *Entry) error {
	return insert(ctx, r.pool, e)
}

// InsertTx persists an audit entry inside an existing transaction, so that
// the entry commits or rolls back together with the operation it records.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, e *Entry) error {
	return insert(ctx, tx, e)
}

// execer covers both pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insert(ctx context.Context, q execer, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	_, err := q.Exec(ctx,
		`INSERT INTO audit_logs (id, namespace, session_id, event_type, details)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.Namespace, e.SessionID, e.EventType, details)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns the newest audit entries, optionally filtered by namespace
// and session. Limit is clamped to [1, 200].
func (r *Repository) List(ctx context.Context, params ListParams) ([]Entry, error) {
	limit := params.Limit
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	var conditions []string
	var args []any
	argIdx := 1

	if params.Namespace != "" {
		conditions = append(conditions, fmt.Sprintf("namespace = $%d", argIdx))
		args = append(args, params.Namespace)
		argIdx++
	}
	if params.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", argIdx))
		args = append(args, params.SessionID)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(
		`SELECT id, namespace, session_id, event_type, details, created_at
		 FROM audit_logs %s
		 ORDER BY created_at DESC
		 LIMIT $%d`, where, argIdx)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Namespace, &e.SessionID, &e.EventType, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
