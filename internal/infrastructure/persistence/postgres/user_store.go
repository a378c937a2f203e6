package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mqerk/academy-live-hub/internal/domain/shared"
)

// UserRow is the slice of the account table the hub cares about. The
// schema is owned by the CRUD tier; column names follow it.
type UserRow struct {
	ID int64

	// Role is the raw role string as stored ("estudiante", "admin",
	// "asesor"). Mapping to the hub's role model happens in the resolver.
	Role string

	// StudentID is the student record id, present for student accounts.
	StudentID *int64
}

// UserStore reads account rows for handshake-time identity resolution.
type UserStore struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewUserStore creates a user store. A zero timeout defaults to 5s.
func NewUserStore(pool *pgxpool.Pool, timeout time.Duration) *UserStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UserStore{pool: pool, timeout: timeout}
}

// GetUserByID fetches a fresh account row. Fresh, not cached: a role
// change must take effect at the user's next handshake even if their token
// predates it.
func (s *UserStore) GetUserByID(ctx context.Context, id int64) (*UserRow, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const q = `SELECT id, role, id_estudiante FROM usuarios WHERE id = $1`

	var row UserRow
	err := s.pool.QueryRow(ctx, q, id).Scan(&row.ID, &row.Role, &row.StudentID)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.WrapError("postgres", "GetUserByID", shared.ErrNotFound,
				fmt.Sprintf("user %d", id), err)
		}
		return nil, shared.WrapError("postgres", "GetUserByID", shared.ErrExternalService,
			"query failed", err)
	}
	return &row, nil
}
