package presence

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-wide index of live sessions. It is the single
// most contended shared resource in the system: every connection goroutine
// mutates it on connect and disconnect, the dispatcher reads it on every
// send, and the liveness monitor enumerates it on every sweep.
//
// Two partitions, each behind its own mutex: students are grouped by
// student id so one student's tabs form a set, staff connections live in
// one flat pool filtered at query time.
//
// A session appears in at most one partition, at most once. The registry
// is owned by the hub and passed by reference to the dispatcher and the
// monitor; it is never package-level state, so tests construct isolated
// instances.
type Registry struct {
	studentsMu sync.RWMutex
	students   map[int64]map[uuid.UUID]*Session

	staffMu sync.RWMutex
	staff   map[uuid.UUID]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		students: make(map[int64]map[uuid.UUID]*Session),
		staff:    make(map[uuid.UUID]*Session),
	}
}

// AddStudent inserts a session into the student's set, creating the set if
// absent, and reports whether this brought the student online (the key was
// newly created). The transition is decided inside the critical section:
// a check-then-add from the caller's side can interleave with a concurrent
// disconnect of the same student and lose a transition, leaving downstream
// consumers wrong until the student's next reconnect. Adding the same
// session twice is safe; the set dedupes by session id.
func (r *Registry) AddStudent(studentID int64, s *Session) bool {
	r.studentsMu.Lock()
	defer r.studentsMu.Unlock()

	set, ok := r.students[studentID]
	if !ok {
		set = make(map[uuid.UUID]*Session)
		r.students[studentID] = set
	}
	set[s.ID] = s
	return !ok
}

// RemoveStudent removes a session from its student's set and reports
// whether this took the student offline (the last session left and the key
// was dropped). Dropping empty keys keeps the map bounded across repeated
// connect/disconnect cycles. Removing a session that is not present is a
// no-op, not an error, and never a transition.
func (r *Registry) RemoveStudent(s *Session) bool {
	r.studentsMu.Lock()
	defer r.studentsMu.Unlock()

	set, ok := r.students[s.StudentID]
	if !ok {
		return false
	}
	delete(set, s.ID)
	if len(set) == 0 {
		delete(r.students, s.StudentID)
		return true
	}
	return false
}

// AddStaff inserts a session into the staff pool.
func (r *Registry) AddStaff(s *Session) {
	r.staffMu.Lock()
	defer r.staffMu.Unlock()
	r.staff[s.ID] = s
}

// RemoveStaff removes a session from the staff pool. No-op if absent.
func (r *Registry) RemoveStaff(s *Session) {
	r.staffMu.Lock()
	defer r.staffMu.Unlock()
	delete(r.staff, s.ID)
}

// Remove deregisters a session from whichever partition its role selects.
func (r *Registry) Remove(s *Session) {
	switch s.Role {
	case RoleStudent:
		r.RemoveStudent(s)
	case RoleStaff:
		r.RemoveStaff(s)
	}
}

// IsStudentOnline reports whether the student has at least one session.
// Dead peers are evicted promptly by the liveness monitor, so presence in
// the map is the online signal; staleness is bounded by the probe interval.
func (r *Registry) IsStudentOnline(studentID int64) bool {
	r.studentsMu.RLock()
	defer r.studentsMu.RUnlock()
	return len(r.students[studentID]) > 0
}

// IsStaffRoleOnline reports whether any staff session carries the sub-role.
func (r *Registry) IsStaffRoleOnline(role StaffRole) bool {
	r.staffMu.RLock()
	defer r.staffMu.RUnlock()

	for _, s := range r.staff {
		if s.StaffRole == role {
			return true
		}
	}
	return false
}

// IsStaffUserOnline reports whether the specific staff user has a session,
// optionally restricted to a sub-role (empty role matches any).
func (r *Registry) IsStaffUserOnline(userID int64, role StaffRole) bool {
	r.staffMu.RLock()
	defer r.staffMu.RUnlock()

	for _, s := range r.staff {
		if s.UserID != userID {
			continue
		}
		if role != "" && s.StaffRole != role {
			continue
		}
		return true
	}
	return false
}

// StudentSessions returns a snapshot of the sessions for one student.
func (r *Registry) StudentSessions(studentID int64) []*Session {
	r.studentsMu.RLock()
	defer r.studentsMu.RUnlock()

	set := r.students[studentID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// StaffSessions returns a snapshot of the staff pool.
func (r *Registry) StaffSessions() []*Session {
	r.staffMu.RLock()
	defer r.staffMu.RUnlock()

	out := make([]*Session, 0, len(r.staff))
	for _, s := range r.staff {
		out = append(out, s)
	}
	return out
}

// AllStudentSessions returns a snapshot of every student session across all
// student keys. Cost is O(total student sessions).
func (r *Registry) AllStudentSessions() []*Session {
	r.studentsMu.RLock()
	defer r.studentsMu.RUnlock()

	out := make([]*Session, 0, len(r.students))
	for _, set := range r.students {
		for _, s := range set {
			out = append(out, s)
		}
	}
	return out
}

// Sessions returns a snapshot of every session in both partitions.
// Used by the liveness monitor on each sweep.
func (r *Registry) Sessions() []*Session {
	out := r.AllStudentSessions()
	return append(out, r.StaffSessions()...)
}

// OnlineStudents returns a snapshot of all student ids with at least one
// live session.
func (r *Registry) OnlineStudents() []int64 {
	r.studentsMu.RLock()
	defer r.studentsMu.RUnlock()

	out := make([]int64, 0, len(r.students))
	for id, set := range r.students {
		if len(set) > 0 {
			out = append(out, id)
		}
	}
	return out
}

// OnlineStaffUserIDs returns a snapshot of distinct user ids in the staff
// pool.
func (r *Registry) OnlineStaffUserIDs() []int64 {
	r.staffMu.RLock()
	defer r.staffMu.RUnlock()

	seen := make(map[int64]struct{}, len(r.staff))
	out := make([]int64, 0, len(r.staff))
	for _, s := range r.staff {
		if _, ok := seen[s.UserID]; ok {
			continue
		}
		seen[s.UserID] = struct{}{}
		out = append(out, s.UserID)
	}
	return out
}

// CountStudentKeys returns the number of student keys currently indexed.
func (r *Registry) CountStudentKeys() int {
	r.studentsMu.RLock()
	defer r.studentsMu.RUnlock()
	return len(r.students)
}

// CountSessions returns the total number of registered sessions.
func (r *Registry) CountSessions() int {
	r.studentsMu.RLock()
	n := 0
	for _, set := range r.students {
		n += len(set)
	}
	r.studentsMu.RUnlock()

	r.staffMu.RLock()
	n += len(r.staff)
	r.staffMu.RUnlock()
	return n
}
