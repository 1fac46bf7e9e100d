package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ai4altruism/integritykit/internal/tracing"
)

// PostgresRepository implements Repository using PostgreSQL. Role and
// suspension histories are stored as JSONB alongside the user row.
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

// Create stores a new user.
func (r *PostgresRepository) Create(ctx context.Context, user *User) (u *User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	u = cloneUser(user)
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if len(u.Roles) == 0 {
		u.Roles = []Role{RoleGeneralParticipant}
	}
	if !hasRole(u.Roles, RoleGeneralParticipant) {
		u.Roles = append([]Role{RoleGeneralParticipant}, u.Roles...)
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	roleHistory, suspensionHistory, stats, err := marshalHistories(u)
	if err != nil {
		return nil, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (
			id, display_name, email, roles, role_history,
			is_suspended, suspension_history, activity_stats,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		u.ID, u.DisplayName, u.Email, pq.Array(roleStrings(u.Roles)), roleHistory,
		u.IsSuspended, suspensionHistory, stats,
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

// Get retrieves a user by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (u *User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	return r.scanUser(r.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, roles, role_history,
			is_suspended, suspension_history, activity_stats,
			created_at, updated_at
		FROM users
		WHERE id = $1
	`, id))
}

// Update persists a modified user.
func (r *PostgresRepository) Update(ctx context.Context, user *User) (u *User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	u = cloneUser(user)
	u.UpdatedAt = time.Now().UTC()

	roleHistory, suspensionHistory, stats, err := marshalHistories(u)
	if err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET
			display_name = $2, email = $3, roles = $4, role_history = $5,
			is_suspended = $6, suspension_history = $7, activity_stats = $8,
			updated_at = $9
		WHERE id = $1
	`,
		u.ID, u.DisplayName, u.Email, pq.Array(roleStrings(u.Roles)), roleHistory,
		u.IsSuspended, suspensionHistory, stats, u.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// List retrieves all users in creation order.
func (r *PostgresRepository) List(ctx context.Context) (users []*User, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "users", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, display_name, email, roles, role_history,
			is_suspended, suspension_history, activity_stats,
			created_at, updated_at
		FROM users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresRepository) scanUser(row rowScanner) (*User, error) {
	var (
		u                 User
		roles             []string
		roleHistory       []byte
		suspensionHistory []byte
		stats             []byte
	)
	err := row.Scan(
		&u.ID, &u.DisplayName, &u.Email, pq.Array(&roles), &roleHistory,
		&u.IsSuspended, &suspensionHistory, &stats,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	u.Roles = make([]Role, len(roles))
	for i, s := range roles {
		u.Roles[i] = Role(s)
	}
	if len(roleHistory) > 0 {
		if err := json.Unmarshal(roleHistory, &u.RoleHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal role history: %w", err)
		}
	}
	if len(suspensionHistory) > 0 {
		if err := json.Unmarshal(suspensionHistory, &u.SuspensionHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal suspension history: %w", err)
		}
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &u.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal activity stats: %w", err)
		}
	}
	return &u, nil
}

func marshalHistories(u *User) (roleHistory, suspensionHistory, stats []byte, err error) {
	roleHistory, err = json.Marshal(u.RoleHistory)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal role history: %w", err)
	}
	suspensionHistory, err = json.Marshal(u.SuspensionHistory)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal suspension history: %w", err)
	}
	stats, err = json.Marshal(u.Stats)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal activity stats: %w", err)
	}
	return roleHistory, suspensionHistory, stats, nil
}
