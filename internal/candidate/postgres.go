package candidate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ai4altruism/integritykit/internal/tracing"
)

// PostgresRepository is a PostgreSQL-backed Repository.
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

const candidateColumns = `id, cluster_id,
	field_what, field_where, field_when, field_who, field_so_what,
	evidence, verifications, conflicts,
	readiness_state, readiness_updated_at, missing_fields, blocking_issues, recommended_action,
	risk_tier, tier_override,
	published_at, published_by,
	revision, created_at, created_by, updated_at`

// Create persists a new candidate.
func (r *PostgresRepository) Create(ctx context.Context, c *Candidate) (*Candidate, error) {
	ctx, end := tracing.StartDBSpan(ctx, "candidates", tracing.DBOperationInsert)
	var err error
	defer func() { end(err) }()

	stored := cloneCandidate(c)
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.Revision = 1
	if stored.ReadinessState == "" {
		stored.ReadinessState = ReadyInReview
	}
	if stored.RiskTier == "" {
		stored.RiskTier = TierRoutine
	}
	stored.ReadinessUpdatedAt = now

	blobs, err := marshalBlobs(stored)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO candidates (`+candidateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		stored.ID, nullString(stored.ClusterID),
		stored.Fields.What, stored.Fields.Where, stored.Fields.When, stored.Fields.Who, stored.Fields.SoWhat,
		blobs.evidence, blobs.verifications, blobs.conflicts,
		string(stored.ReadinessState), stored.ReadinessUpdatedAt, pq.Array(fieldKeyStrings(stored.MissingFields)), blobs.blockingIssues, blobs.recommendedAction,
		string(stored.RiskTier), blobs.tierOverride,
		stored.PublishedAt, nullString(stored.PublishedBy),
		stored.Revision, stored.CreatedAt, stored.CreatedBy, stored.UpdatedAt,
	)
	if err != nil {
		err = fmt.Errorf("failed to create candidate: %w", err)
		return nil, err
	}
	return stored, nil
}

// Get returns a candidate by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Candidate, error) {
	ctx, end := tracing.StartDBSpan(ctx, "candidates", tracing.DBOperationQuery)
	var err error
	defer func() { end(err) }()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+candidateColumns+`
		FROM candidates
		WHERE id = $1`, id)

	c, err := scanCandidate(row)
	if err == sql.ErrNoRows {
		err = ErrNotFound
		return nil, err
	}
	if err != nil {
		err = fmt.Errorf("failed to get candidate: %w", err)
		return nil, err
	}
	return c, nil
}

// Update persists c under an optimistic revision check.
func (r *PostgresRepository) Update(ctx context.Context, c *Candidate) (*Candidate, error) {
	ctx, end := tracing.StartDBSpan(ctx, "candidates", tracing.DBOperationUpdate)
	var err error
	defer func() { end(err) }()

	stored := cloneCandidate(c)
	stored.Revision = c.Revision + 1
	stored.UpdatedAt = time.Now().UTC()

	blobs, err := marshalBlobs(stored)
	if err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE candidates SET
			field_what = $3, field_where = $4, field_when = $5, field_who = $6, field_so_what = $7,
			evidence = $8, verifications = $9, conflicts = $10,
			readiness_state = $11, readiness_updated_at = $12, missing_fields = $13,
			blocking_issues = $14, recommended_action = $15,
			risk_tier = $16, tier_override = $17,
			published_at = $18, published_by = $19,
			revision = $20, updated_at = $21
		WHERE id = $1 AND revision = $2`,
		stored.ID, c.Revision,
		stored.Fields.What, stored.Fields.Where, stored.Fields.When, stored.Fields.Who, stored.Fields.SoWhat,
		blobs.evidence, blobs.verifications, blobs.conflicts,
		string(stored.ReadinessState), stored.ReadinessUpdatedAt, pq.Array(fieldKeyStrings(stored.MissingFields)),
		blobs.blockingIssues, blobs.recommendedAction,
		string(stored.RiskTier), blobs.tierOverride,
		stored.PublishedAt, nullString(stored.PublishedBy),
		stored.Revision, stored.UpdatedAt,
	)
	if err != nil {
		err = fmt.Errorf("failed to update candidate: %w", err)
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("failed to update candidate: %w", err)
		return nil, err
	}
	if affected == 0 {
		// Distinguish a missing row from a stale revision.
		var exists bool
		if checkErr := r.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM candidates WHERE id = $1)`, stored.ID,
		).Scan(&exists); checkErr != nil {
			err = fmt.Errorf("failed to update candidate: %w", checkErr)
			return nil, err
		}
		if !exists {
			err = ErrNotFound
		} else {
			err = ErrRevisionConflict
		}
		return nil, err
	}
	return stored, nil
}

// List returns candidates matching the filter, newest first.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*Candidate, error) {
	ctx, end := tracing.StartDBSpan(ctx, "candidates", tracing.DBOperationQuery)
	var err error
	defer func() { end(err) }()

	where := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if f.ClusterID != "" {
		args = append(args, f.ClusterID)
		where = append(where, fmt.Sprintf("cluster_id = $%d", len(args)))
	}
	if f.Readiness != "" {
		args = append(args, string(f.Readiness))
		where = append(where, fmt.Sprintf("readiness_state = $%d", len(args)))
	}
	if f.Tier != "" {
		args = append(args, string(f.Tier))
		where = append(where, fmt.Sprintf("risk_tier = $%d", len(args)))
	}
	if f.Unpublished {
		where = append(where, "published_at IS NULL")
	}

	query := `SELECT ` + candidateColumns + ` FROM candidates`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("failed to list candidates: %w", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]*Candidate, 0)
	for rows.Next() {
		c, scanErr := scanCandidate(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to list candidates: %w", scanErr)
			return nil, err
		}
		out = append(out, c)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("failed to list candidates: %w", err)
		return nil, err
	}
	return out, nil
}

type candidateBlobs struct {
	evidence          []byte
	verifications     []byte
	conflicts         []byte
	blockingIssues    []byte
	recommendedAction []byte
	tierOverride      []byte
}

func marshalBlobs(c *Candidate) (candidateBlobs, error) {
	var b candidateBlobs
	var err error
	if b.evidence, err = json.Marshal(c.Evidence); err != nil {
		return b, fmt.Errorf("failed to marshal evidence: %w", err)
	}
	if b.verifications, err = json.Marshal(c.Verifications); err != nil {
		return b, fmt.Errorf("failed to marshal verifications: %w", err)
	}
	if b.conflicts, err = json.Marshal(c.Conflicts); err != nil {
		return b, fmt.Errorf("failed to marshal conflicts: %w", err)
	}
	if b.blockingIssues, err = json.Marshal(c.BlockingIssues); err != nil {
		return b, fmt.Errorf("failed to marshal blocking issues: %w", err)
	}
	if c.RecommendedAction != nil {
		if b.recommendedAction, err = json.Marshal(c.RecommendedAction); err != nil {
			return b, fmt.Errorf("failed to marshal recommended action: %w", err)
		}
	}
	if c.TierOverride != nil {
		if b.tierOverride, err = json.Marshal(c.TierOverride); err != nil {
			return b, fmt.Errorf("failed to marshal tier override: %w", err)
		}
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (*Candidate, error) {
	var (
		c             Candidate
		clusterID     sql.NullString
		readiness     string
		tier          string
		missing       pq.StringArray
		evidence      []byte
		verifications []byte
		conflicts     []byte
		issues        []byte
		action        []byte
		override      []byte
		publishedAt   sql.NullTime
		publishedBy   sql.NullString
	)
	err := row.Scan(
		&c.ID, &clusterID,
		&c.Fields.What, &c.Fields.Where, &c.Fields.When, &c.Fields.Who, &c.Fields.SoWhat,
		&evidence, &verifications, &conflicts,
		&readiness, &c.ReadinessUpdatedAt, &missing, &issues, &action,
		&tier, &override,
		&publishedAt, &publishedBy,
		&c.Revision, &c.CreatedAt, &c.CreatedBy, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.ClusterID = clusterID.String
	c.ReadinessState = ReadinessState(readiness)
	c.RiskTier = RiskTier(tier)
	for _, m := range missing {
		c.MissingFields = append(c.MissingFields, FieldKey(m))
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		c.PublishedAt = &t
	}
	c.PublishedBy = publishedBy.String

	if err := json.Unmarshal(evidence, &c.Evidence); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	if err := json.Unmarshal(verifications, &c.Verifications); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verifications: %w", err)
	}
	if err := json.Unmarshal(conflicts, &c.Conflicts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflicts: %w", err)
	}
	if err := json.Unmarshal(issues, &c.BlockingIssues); err != nil {
		return nil, fmt.Errorf("failed to unmarshal blocking issues: %w", err)
	}
	if len(action) > 0 {
		c.RecommendedAction = &RecommendedAction{}
		if err := json.Unmarshal(action, c.RecommendedAction); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recommended action: %w", err)
		}
	}
	if len(override) > 0 {
		c.TierOverride = &TierOverride{}
		if err := json.Unmarshal(override, c.TierOverride); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tier override: %w", err)
		}
	}
	return &c, nil
}

func fieldKeyStrings(keys []FieldKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
