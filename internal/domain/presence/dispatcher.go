package presence

import (
	"encoding/json"

	"github.com/mqerk/academy-live-hub/pkg/logger"
)

// Dispatcher computes the target session set for a delivery intent and
// performs the writes. Every operation is fire-and-forget and best-effort:
// the payload is serialized once, each session is written independently,
// and a failure on one session never aborts delivery to its siblings and
// never surfaces to the caller. Delivery is at-most-once per session; a
// dropped frame is recovered, if at all, by the client re-fetching state on
// reconnect.
//
// Payload bodies are opaque to the dispatcher beyond being JSON-encodable;
// callers own the message schema.
type Dispatcher struct {
	registry *Registry
	log      *logger.Logger
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Default()
	}
	return &Dispatcher{
		registry: registry,
		log:      log.With(logger.Component("dispatcher")),
	}
}

// SendToStudent delivers the payload to every session of one student.
// A student with zero sessions is the expected common case and a silent
// no-op.
func (d *Dispatcher) SendToStudent(studentID int64, payload any) {
	sessions := d.registry.StudentSessions(studentID)
	if len(sessions) == 0 {
		return
	}
	data, ok := d.marshal(payload)
	if !ok {
		return
	}
	d.fanOut(sessions, data)
}

// SendToStaffRole delivers the payload to every staff session carrying the
// sub-role.
func (d *Dispatcher) SendToStaffRole(role StaffRole, payload any) {
	staff := d.registry.StaffSessions()
	if len(staff) == 0 {
		return
	}
	data, ok := d.marshal(payload)
	if !ok {
		return
	}
	for _, s := range staff {
		if s.StaffRole != role {
			continue
		}
		d.write(s, data)
	}
}

// SendToStaffUser delivers the payload to the sessions of one staff user,
// optionally restricted to a sub-role (empty role matches any).
func (d *Dispatcher) SendToStaffUser(userID int64, role StaffRole, payload any) {
	if userID == 0 {
		return
	}
	staff := d.registry.StaffSessions()
	if len(staff) == 0 {
		return
	}
	data, ok := d.marshal(payload)
	if !ok {
		return
	}
	for _, s := range staff {
		if s.UserID != userID {
			continue
		}
		if role != "" && s.StaffRole != role {
			continue
		}
		d.write(s, data)
	}
}

// SendToAllStaff delivers the payload to every staff session regardless of
// sub-role.
func (d *Dispatcher) SendToAllStaff(payload any) {
	staff := d.registry.StaffSessions()
	if len(staff) == 0 {
		return
	}
	data, ok := d.marshal(payload)
	if !ok {
		return
	}
	d.fanOut(staff, data)
}

// BroadcastToAllStudents delivers the payload to every student session
// across all student keys. Cost is O(total student sessions); it runs on
// every staff connect and disconnect, which is acceptable because those are
// rare relative to message traffic.
func (d *Dispatcher) BroadcastToAllStudents(payload any) {
	sessions := d.registry.AllStudentSessions()
	if len(sessions) == 0 {
		return
	}
	data, ok := d.marshal(payload)
	if !ok {
		return
	}
	d.fanOut(sessions, data)
}

func (d *Dispatcher) marshal(payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("payload not serializable", logger.Err(err))
		return nil, false
	}
	return data, true
}

func (d *Dispatcher) fanOut(sessions []*Session, data []byte) {
	for _, s := range sessions {
		d.write(s, data)
	}
}

func (d *Dispatcher) write(s *Session, data []byte) {
	if err := s.Send(data); err != nil {
		// Transient send failure: isolated to this session. The liveness
		// monitor or the transport close path will evict it.
		d.log.Warn("send failed",
			logger.SessionID(s.ID.String()),
			logger.UserID(s.UserID),
			logger.Err(err),
		)
	}
}
