// Package presence implements the in-memory presence core of the academy
// live hub: sessions, the connection registry, the dispatcher, and the
// liveness monitor. The package is transport-agnostic; the WebSocket
// specifics live behind the Conn interface.
package presence

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Role partitions sessions into the two broadcast pools.
type Role uint8

const (
	// RoleUnknown is the zero value and never stored in the registry.
	RoleUnknown Role = iota
	// RoleStudent sessions are grouped by student id.
	RoleStudent
	// RoleStaff sessions (admins and advisors) share one pool.
	RoleStaff
)

// String returns the string representation of the role.
func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleStaff:
		return "staff"
	default:
		return "unknown"
	}
}

// StaffRole is the finer-grained tag carried by staff sessions.
// It is validated once, at the identity-resolution boundary.
type StaffRole string

const (
	StaffAdmin   StaffRole = "admin"
	StaffAdvisor StaffRole = "advisor"
)

// ParseStaffRole validates a staff sub-role string.
func ParseStaffRole(s string) (StaffRole, bool) {
	switch StaffRole(s) {
	case StaffAdmin, StaffAdvisor:
		return StaffRole(s), true
	default:
		return "", false
	}
}

// Conn is the transport connection as seen by the presence core.
// Implementations must tolerate calls after the peer has gone away and
// report the failure through the returned error.
type Conn interface {
	// WriteText writes one text frame.
	WriteText(data []byte) error

	// Ping sends a liveness probe.
	Ping() error

	// Close performs the closing handshake with the given status code.
	Close(code int, reason string) error

	// Terminate closes the underlying connection without a handshake.
	// Used for dead peers that would never acknowledge a close frame.
	Terminate() error
}

// Session is one live connection plus its resolved identity.
// A single logical user may hold several sessions at once (multiple tabs);
// the registry groups them accordingly.
type Session struct {
	// ID identifies the transport connection, not the user.
	ID uuid.UUID

	// UserID is the authenticated account id. Always set.
	UserID int64

	// Role determines the registry partition. Immutable after creation.
	Role Role

	// StaffRole is set iff Role == RoleStaff.
	StaffRole StaffRole

	// StudentID is set iff Role == RoleStudent.
	StudentID int64

	conn Conn

	// writeMu serializes all frame writes. Dispatcher calls may arrive
	// from many goroutines; the transport allows a single writer only.
	writeMu sync.Mutex

	// alive is flipped true by the pong handler and swapped false by the
	// liveness monitor on each sweep.
	alive atomic.Bool

	// closed guards the close path so eviction and an in-flight transport
	// close never deregister twice.
	closed atomic.Bool
}

// NewStudentSession creates a session for a student connection.
func NewStudentSession(studentID, userID int64, conn Conn) *Session {
	s := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Role:      RoleStudent,
		StudentID: studentID,
		conn:      conn,
	}
	s.alive.Store(true)
	return s
}

// NewStaffSession creates a session for an admin or advisor connection.
func NewStaffSession(userID int64, sub StaffRole, conn Conn) *Session {
	s := &Session{
		ID:        uuid.New(),
		UserID:    userID,
		Role:      RoleStaff,
		StaffRole: sub,
		conn:      conn,
	}
	s.alive.Store(true)
	return s
}

// Send writes one serialized message to the session. Writes issued in call
// order are delivered in that order; concurrent callers serialize here.
func (s *Session) Send(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteText(data)
}

// Ping sends a liveness probe, serialized with regular writes.
func (s *Session) Ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Ping()
}

// Close performs the closing handshake.
func (s *Session) Close(code int, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Close(code, reason)
}

// Terminate drops the connection without a handshake.
func (s *Session) Terminate() error {
	return s.conn.Terminate()
}

// MarkAlive records that the peer acknowledged the last probe.
// Called by the transport's pong handler.
func (s *Session) MarkAlive() {
	s.alive.Store(true)
}

// ExpireProbe clears the alive flag and reports whether the peer had
// answered since the previous sweep. One monitor tick calls this exactly
// once per session.
func (s *Session) ExpireProbe() bool {
	return s.alive.Swap(false)
}

// Alive reports the current liveness flag.
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// MarkClosed flips the session into the closed state. It returns true for
// the caller that performed the transition, false if the session was
// already closed. The winner runs the deregistration path.
func (s *Session) MarkClosed() bool {
	return s.closed.CompareAndSwap(false, true)
}
