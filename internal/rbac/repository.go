package rbac

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUserNotFound is returned when a user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when creating a user with a taken ID.
	ErrUserExists = errors.New("user already exists")
)

// Repository defines storage for users.
type Repository interface {
	// Create stores a new user. A zero ID is assigned.
	Create(ctx context.Context, user *User) (*User, error)

	// Get retrieves a user by ID.
	Get(ctx context.Context, id string) (*User, error)

	// Update persists a modified user.
	Update(ctx context.Context, user *User) (*User, error)

	// List retrieves all users, ordered by creation time.
	List(ctx context.Context) ([]*User, error)
}

// InMemoryRepository is an in-memory Repository used in tests and
// development. Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu    sync.RWMutex
	users map[string]*User
	order []string
}

// NewInMemoryRepository creates an empty in-memory user repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		users: make(map[string]*User),
	}
}

// Create stores a new user.
func (r *InMemoryRepository) Create(ctx context.Context, user *User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u := cloneUser(user)
	if u.ID == "" {
		u.ID = uuid.New().String()
	} else if _, ok := r.users[u.ID]; ok {
		return nil, ErrUserExists
	}
	if len(u.Roles) == 0 {
		u.Roles = []Role{RoleGeneralParticipant}
	}
	// Every user holds the base role.
	if !hasRole(u.Roles, RoleGeneralParticipant) {
		u.Roles = append([]Role{RoleGeneralParticipant}, u.Roles...)
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	r.users[u.ID] = u
	r.order = append(r.order, u.ID)

	return cloneUser(u), nil
}

// Get retrieves a user by ID.
func (r *InMemoryRepository) Get(ctx context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

// Update persists a modified user.
func (r *InMemoryRepository) Update(ctx context.Context, user *User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return nil, ErrUserNotFound
	}
	u := cloneUser(user)
	u.UpdatedAt = time.Now().UTC()
	r.users[u.ID] = u

	return cloneUser(u), nil
}

// List retrieves all users in creation order.
func (r *InMemoryRepository) List(ctx context.Context) ([]*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, cloneUser(r.users[id]))
	}
	return users, nil
}

func hasRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// cloneUser deep-copies a user so callers cannot mutate stored state.
func cloneUser(u *User) *User {
	out := *u
	out.Roles = append([]Role(nil), u.Roles...)
	out.RoleHistory = append([]RoleChange(nil), u.RoleHistory...)
	out.SuspensionHistory = append([]SuspensionRecord(nil), u.SuspensionHistory...)
	if u.Stats.LastActionAt != nil {
		t := *u.Stats.LastActionAt
		out.Stats.LastActionAt = &t
	}
	return &out
}
