package approval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ai4altruism/integritykit/internal/tracing"
)

// PostgresRepository is a PostgreSQL-backed Repository. The one-pending-
// per-candidate invariant is enforced by a partial unique index on
// (candidate_id) WHERE status = 'pending'.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository returns a repository backed by db.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{db: db, logger: logger}
}

const approvalColumns = `id, candidate_id, requested_by, reason, requested_at, expires_at,
	status, decided_by, decided_at, justification, consumed_by, consumed_at`

// Create persists a new pending approval.
func (r *PostgresRepository) Create(ctx context.Context, a *Approval) (*Approval, error) {
	ctx, end := tracing.StartDBSpan(ctx, "approvals", tracing.DBOperationInsert)
	var err error
	defer func() { end(err) }()

	stored := *a
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	stored.Status = StatusPending
	if stored.RequestedAt.IsZero() {
		stored.RequestedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO approvals (id, candidate_id, requested_by, reason, requested_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		stored.ID, stored.CandidateID, stored.RequestedBy, stored.Reason,
		stored.RequestedAt, stored.ExpiresAt, string(stored.Status),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			err = ErrDuplicatePending
			return nil, err
		}
		err = fmt.Errorf("failed to create approval: %w", err)
		return nil, err
	}
	out := stored
	return &out, nil
}

// Get returns an approval by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Approval, error) {
	ctx, end := tracing.StartDBSpan(ctx, "approvals", tracing.DBOperationQuery)
	var err error
	defer func() { end(err) }()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE id = $1`, id)

	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to get approval: %w", err)
		return nil, err
	}
	return a, nil
}

// PendingForCandidate returns the candidate's pending approval.
func (r *PostgresRepository) PendingForCandidate(ctx context.Context, candidateID string) (*Approval, error) {
	ctx, end := tracing.StartDBSpan(ctx, "approvals", tracing.DBOperationQuery)
	var err error
	defer func() { end(err) }()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE candidate_id = $1 AND status = 'pending'`, candidateID)

	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to get pending approval: %w", err)
		return nil, err
	}
	return a, nil
}

// Resolve moves a pending approval to a terminal state. The status
// predicate in the UPDATE makes the transition exactly-once.
func (r *PostgresRepository) Resolve(ctx context.Context, id string, to Status, decidedBy, justification string, decidedAt time.Time) (*Approval, error) {
	ctx, end := tracing.StartDBSpan(ctx, "approvals", tracing.DBOperationUpdate)
	var err error
	defer func() { end(err) }()

	row := r.db.QueryRowContext(ctx, `
		UPDATE approvals
		SET status = $2, decided_by = $3, justification = $4, decided_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+approvalColumns,
		id, string(to), nullString(decidedBy), justification, decidedAt)

	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		err = r.resolveConflict(ctx, id)
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to resolve approval: %w", err)
		return nil, err
	}
	return a, nil
}

// Consume marks a granted, unconsumed, unexpired approval as spent.
func (r *PostgresRepository) Consume(ctx context.Context, id, consumedBy string, consumedAt time.Time) (*Approval, error) {
	ctx, end := tracing.StartDBSpan(ctx, "approvals", tracing.DBOperationUpdate)
	var err error
	defer func() { end(err) }()

	row := r.db.QueryRowContext(ctx, `
		UPDATE approvals
		SET consumed_by = $2, consumed_at = $3
		WHERE id = $1 AND status = 'granted' AND consumed_at IS NULL AND expires_at > $3
		RETURNING `+approvalColumns,
		id, consumedBy, consumedAt)

	a, err := scanApproval(row)
	if err == sql.ErrNoRows {
		var exists bool
		if checkErr := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM approvals WHERE id = $1)`, id,
		).Scan(&exists); checkErr != nil {
			err = fmt.Errorf("failed to consume approval: %w", checkErr)
			return nil, err
		}
		if !exists {
			err = ErrNotFound
		} else {
			err = ErrNotConsumable
		}
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to consume approval: %w", err)
		return nil, err
	}
	return a, nil
}

// ListByCandidate returns a candidate's approvals, newest first.
func (r *PostgresRepository) ListByCandidate(ctx context.Context, candidateID string) ([]*Approval, error) {
	ctx, end := tracing.StartDBSpan(ctx, "approvals", tracing.DBOperationQuery)
	var err error
	defer func() { end(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approvals
		WHERE candidate_id = $1
		ORDER BY requested_at DESC`, candidateID)
	if err != nil {
		err = fmt.Errorf("failed to list approvals: %w", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]*Approval, 0)
	for rows.Next() {
		a, scanErr := scanApproval(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to list approvals: %w", scanErr)
			return nil, err
		}
		out = append(out, a)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to list approvals: %w", err)
		return nil, err
	}
	return out, nil
}

// ListExpiredPending returns pending approvals past their deadline.
func (r *PostgresRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*Approval, error) {
	ctx, end := tracing.StartDBSpan(ctx, "approvals", tracing.DBOperationQuery)
	var err error
	defer func() { end(err) }()

	query := `
		SELECT ` + approvalColumns + `
		FROM approvals
		WHERE status = 'pending' AND expires_at < $1
		ORDER BY expires_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		err = fmt.Errorf("failed to list expired approvals: %w", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]*Approval, 0)
	for rows.Next() {
		a, scanErr := scanApproval(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to list expired approvals: %w", scanErr)
			return nil, err
		}
		out = append(out, a)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to list expired approvals: %w", err)
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) resolveConflict(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM approvals WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to resolve approval: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyResolved
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*Approval, error) {
	var (
		a             Approval
		status        string
		decidedBy     sql.NullString
		decidedAt     sql.NullTime
		justification sql.NullString
		consumedBy    sql.NullString
		consumedAt    sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.CandidateID, &a.RequestedBy, &a.Reason, &a.RequestedAt, &a.ExpiresAt,
		&status, &decidedBy, &decidedAt, &justification, &consumedBy, &consumedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.DecidedBy = decidedBy.String
	if decidedAt.Valid {
		t := decidedAt.Time
		a.DecidedAt = &t
	}
	a.Justification = justification.String
	a.ConsumedBy = consumedBy.String
	if consumedAt.Valid {
		t := consumedAt.Time
		a.ConsumedAt = &t
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
