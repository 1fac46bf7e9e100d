package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/ai4altruism/integritykit/internal/tracing"
)

// ErrAppendFailed is returned when an entry cannot be durably written.
var ErrAppendFailed = errors.New("audit append failed")

// PostgresRepository implements Repository using PostgreSQL. The audit_log
// table has no UPDATE or DELETE path; the hash chain is extended inside a
// serialized transaction so concurrent appends cannot fork it.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

// Append durably records an entry.
func (r *PostgresRepository) Append(ctx context.Context, rec Record) (entry *Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	entry = newEntry(rec)

	before, err := json.Marshal(entry.Before)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal before state: %w", err)
	}
	after, err := json.Marshal(entry.After)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal after state: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		r.logger.Error("failed to begin transaction",
			slog.String("error", err.Error()),
			slog.String("action", string(entry.Action)))
		return nil, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			r.logger.Warn("failed to rollback transaction",
				slog.String("error", rbErr.Error()))
		}
	}()

	// Extend the hash chain from the most recent entry.
	var prevHash sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT entry_hash FROM audit_log
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&prevHash)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("%w: failed to read chain head: %v", ErrAppendFailed, err)
	}
	entry.PrevHash = prevHash.String
	entryHash := hashEntry(entry)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_log (
			id, actor_id, actor_roles, action, target_type, target_id,
			changes_before, changes_after, justification,
			is_flagged, flag_reason, request_id, created_at,
			prev_hash, entry_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		entry.ID, entry.ActorID, pq.Array(entry.ActorRoles),
		string(entry.Action), string(entry.TargetType), entry.TargetID,
		before, after, entry.Justification,
		entry.IsFlagged, entry.FlagReason, entry.RequestID, entry.CreatedAt,
		entry.PrevHash, entryHash,
	)
	if err != nil {
		r.logger.Error("failed to insert audit entry",
			slog.String("error", err.Error()),
			slog.String("action", string(entry.Action)),
			slog.String("target_id", entry.TargetID))
		return nil, fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrAppendFailed, err)
	}

	out := *entry
	return &out, nil
}

// QueryByTarget retrieves entries for a target, oldest first.
func (r *PostgresRepository) QueryByTarget(ctx context.Context, targetType TargetType, targetID string, limit int) ([]*Entry, error) {
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE target_type = $1 AND target_id = $2
		ORDER BY seq ASC
	`+limitClause(limit), string(targetType), targetID)
}

// QueryByActor retrieves entries for an actor, oldest first.
func (r *PostgresRepository) QueryByActor(ctx context.Context, actorID string, limit int) ([]*Entry, error) {
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE actor_id = $1
		ORDER BY seq ASC
	`+limitClause(limit), actorID)
}

// QueryByAction retrieves entries for one action type, oldest first.
func (r *PostgresRepository) QueryByAction(ctx context.Context, action ActionType, limit int) ([]*Entry, error) {
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE action = $1
		ORDER BY seq ASC
	`+limitClause(limit), string(action))
}

// QueryFlagged retrieves abuse-flagged entries, oldest first.
func (r *PostgresRepository) QueryFlagged(ctx context.Context, limit int) ([]*Entry, error) {
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE is_flagged
		ORDER BY seq ASC
	`+limitClause(limit))
}

// QueryRange retrieves entries within [from, to], oldest first. Zero times
// are passed as open bounds.
func (r *PostgresRepository) QueryRange(ctx context.Context, from, to time.Time, limit int) ([]*Entry, error) {
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}
	return r.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM audit_log
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY seq ASC
	`+limitClause(limit), from, to)
}

const entryColumns = `id, actor_id, actor_roles, action, target_type, target_id,
	changes_before, changes_after, justification,
	is_flagged, flag_reason, request_id, created_at, prev_hash`

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", limit)
}

func (r *PostgresRepository) queryEntries(ctx context.Context, query string, args ...any) (entries []*Entry, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "audit_log", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e             Entry
			action        string
			targetType    string
			before, after []byte
		)
		if err := rows.Scan(
			&e.ID, &e.ActorID, pq.Array(&e.ActorRoles),
			&action, &targetType, &e.TargetID,
			&before, &after, &e.Justification,
			&e.IsFlagged, &e.FlagReason, &e.RequestID, &e.CreatedAt,
			&e.PrevHash,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = ActionType(action)
		e.TargetType = TargetType(targetType)
		if len(before) > 0 {
			if err := json.Unmarshal(before, &e.Before); err != nil {
				return nil, fmt.Errorf("failed to unmarshal before state: %w", err)
			}
		}
		if len(after) > 0 {
			if err := json.Unmarshal(after, &e.After); err != nil {
				return nil, fmt.Errorf("failed to unmarshal after state: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}
