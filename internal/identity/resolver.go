// Package identity defines the contract between the hub and whatever
// authenticates inbound connections. The hub never parses credentials
// itself; it consumes a resolved identity or one of the typed failures
// below and maps them to distinct close codes.
package identity

import (
	"context"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/internal/domain/shared"
)

// Typed handshake failures. Each maps to its own close code so clients can
// react differently (redirect to login vs. silent retry).
var (
	// ErrNoCredential means the request carried no access token at all.
	ErrNoCredential = shared.NewDomainError("identity", "Resolve", shared.ErrUnauthorized, "no credential")

	// ErrInvalidCredential means the token failed verification or expired.
	ErrInvalidCredential = shared.NewDomainError("identity", "Resolve", shared.ErrUnauthorized, "invalid or expired credential")

	// ErrIdentityNotFound means the token verified but no such account
	// exists anymore.
	ErrIdentityNotFound = shared.NewDomainError("identity", "Resolve", shared.ErrNotFound, "identity not found")

	// ErrRoleNotAllowed means the account exists but its role has no
	// business on this channel.
	ErrRoleNotAllowed = shared.NewDomainError("identity", "Resolve", shared.ErrForbidden, "role not allowed")
)

// Identity is a resolved, validated connection identity.
type Identity struct {
	// UserID is the authenticated account id.
	UserID int64

	// Role selects the registry partition.
	Role presence.Role

	// StaffRole is set iff Role == RoleStaff.
	StaffRole presence.StaffRole

	// StudentID is set iff Role == RoleStudent.
	StudentID int64
}

// Resolver turns a raw credential into a canonical identity or a typed
// failure. Implementations are expected to consult fresh account state so
// a role change invalidates old capabilities at the next handshake.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (Identity, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, credential string) (Identity, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, credential string) (Identity, error) {
	return f(ctx, credential)
}
