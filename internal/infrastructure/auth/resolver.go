// Package auth implements the production identity resolver: it verifies
// the cookie-borne access token and reads a fresh account row from
// PostgreSQL, so a role change is picked up at the next handshake even if
// the token predates it. This is the only component that understands the
// credential format; the hub just consumes the resolved identity or a
// typed failure.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/internal/domain/shared"
	"github.com/mqerk/academy-live-hub/internal/identity"
	"github.com/mqerk/academy-live-hub/internal/infrastructure/persistence/postgres"
	"github.com/mqerk/academy-live-hub/pkg/circuitbreaker"
	"github.com/mqerk/academy-live-hub/pkg/logger"
)

// Raw role strings as stored by the CRUD tier.
const (
	roleStudentRaw = "estudiante"
	roleAdminRaw   = "admin"
	roleAdvisorRaw = "asesor"
)

// UserFetcher reads account rows. Satisfied by *postgres.UserStore.
type UserFetcher interface {
	GetUserByID(ctx context.Context, id int64) (*postgres.UserRow, error)
}

// Config contains resolver configuration.
type Config struct {
	// TokenSecret is the HMAC secret the CRUD tier signs access tokens
	// with.
	TokenSecret string

	// ResolveTimeout bounds one full resolution (verify + lookup).
	ResolveTimeout time.Duration
}

// Resolver is the production identity.Resolver.
type Resolver struct {
	secret  []byte
	users   UserFetcher
	breaker *circuitbreaker.CircuitBreaker
	timeout time.Duration
	log     *logger.Logger
}

// NewResolver creates a resolver. A nil breaker disables circuit breaking.
func NewResolver(cfg Config, users UserFetcher, breaker *circuitbreaker.CircuitBreaker, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.Default()
	}
	timeout := cfg.ResolveTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		secret:  []byte(cfg.TokenSecret),
		users:   users,
		breaker: breaker,
		timeout: timeout,
		log:     log.With(logger.Component("auth")),
	}
}

// Resolve implements identity.Resolver.
func (r *Resolver) Resolve(ctx context.Context, credential string) (identity.Identity, error) {
	if credential == "" {
		return identity.Identity{}, identity.ErrNoCredential
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	userID, err := r.verifyToken(credential)
	if err != nil {
		return identity.Identity{}, err
	}

	row, err := r.fetchUser(ctx, userID)
	if err != nil {
		return identity.Identity{}, err
	}

	return mapIdentity(row)
}

// verifyToken checks the HMAC signature and expiry and extracts the
// account id claim.
func (r *Resolver) verifyToken(credential string) (int64, error) {
	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, identity.ErrInvalidCredential
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, identity.ErrInvalidCredential
	}
	id, ok := claims["id"].(float64)
	if !ok || id <= 0 {
		return 0, identity.ErrInvalidCredential
	}
	return int64(id), nil
}

// fetchUser reads the fresh account row, with the circuit breaker keeping
// a down database from stalling every handshake.
func (r *Resolver) fetchUser(ctx context.Context, userID int64) (*postgres.UserRow, error) {
	var row *postgres.UserRow

	lookup := func(ctx context.Context) error {
		var err error
		row, err = r.users.GetUserByID(ctx, userID)
		if err != nil && shared.IsNotFound(err) {
			// Not a store failure; must not trip the breaker.
			row = nil
			return nil
		}
		return err
	}

	var err error
	if r.breaker != nil {
		err = r.breaker.Execute(ctx, lookup)
	} else {
		err = lookup(ctx)
	}

	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			r.log.Warn("identity store circuit open", logger.UserID(userID))
		}
		return nil, shared.WrapError("identity", "Resolve", shared.ErrExternalService,
			"account lookup failed", err)
	}
	if row == nil {
		return nil, identity.ErrIdentityNotFound
	}
	return row, nil
}

// mapIdentity translates the raw role string into the hub's closed role
// model. This is the single place role strings are interpreted.
func mapIdentity(row *postgres.UserRow) (identity.Identity, error) {
	switch row.Role {
	case roleStudentRaw:
		if row.StudentID == nil || *row.StudentID <= 0 {
			// A student account with no student record cannot join a room.
			return identity.Identity{}, identity.ErrRoleNotAllowed
		}
		return identity.Identity{
			UserID:    row.ID,
			Role:      presence.RoleStudent,
			StudentID: *row.StudentID,
		}, nil

	case roleAdminRaw:
		return identity.Identity{
			UserID:    row.ID,
			Role:      presence.RoleStaff,
			StaffRole: presence.StaffAdmin,
		}, nil

	case roleAdvisorRaw:
		return identity.Identity{
			UserID:    row.ID,
			Role:      presence.RoleStaff,
			StaffRole: presence.StaffAdvisor,
		}, nil

	default:
		return identity.Identity{}, identity.ErrRoleNotAllowed
	}
}
