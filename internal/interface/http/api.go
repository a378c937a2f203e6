package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/pkg/logger"
)

// dispatchPayload is what the CRUD tier posts to a notify endpoint. Only
// the type discriminator is inspected; the rest of the object is forwarded
// to the sockets verbatim.
type dispatchPayload struct {
	Type string `json:"type"`
}

// readPayload decodes and validates one dispatch body. The payload must be
// a JSON object carrying a non-empty "type", because that is the only
// contract the frontends share: they switch on it.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxPayloadBytes+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "unreadable body")
		return nil, false
	}
	if int64(len(body)) > s.cfg.MaxPayloadBytes {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return nil, false
	}

	var p dispatchPayload
	if err := json.Unmarshal(body, &p); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			s.respondError(w, http.StatusBadRequest, "payload must be a JSON object")
		} else {
			s.respondError(w, http.StatusBadRequest, "invalid JSON")
		}
		return nil, false
	}
	if p.Type == "" {
		s.respondError(w, http.StatusBadRequest, "payload requires a type field")
		return nil, false
	}
	return json.RawMessage(body), true
}

func (s *Server) handleNotifyStudent(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil || studentID <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	delivered := s.deps.Registry.IsStudentOnline(studentID)
	s.deps.Dispatcher.SendToStudent(studentID, payload)
	s.log.Debug("student notify accepted",
		logger.StudentID(studentID),
		logger.Bool("online", delivered),
	)
	s.respondJSON(w, http.StatusAccepted, map[string]any{"delivered": delivered})
}

func (s *Server) handleBroadcastStudents(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	s.deps.Dispatcher.BroadcastToAllStudents(payload)
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"recipients": len(s.deps.Registry.OnlineStudents()),
	})
}

func (s *Server) handleNotifyAllStaff(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	s.deps.Dispatcher.SendToAllStaff(payload)
	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"recipients": len(s.deps.Registry.OnlineStaffUserIDs()),
	})
}

func (s *Server) handleNotifyStaffRole(w http.ResponseWriter, r *http.Request) {
	role, ok := s.staffRoleParam(w, r)
	if !ok {
		return
	}
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	delivered := s.deps.Registry.IsStaffRoleOnline(role)
	s.deps.Dispatcher.SendToStaffRole(role, payload)
	s.respondJSON(w, http.StatusAccepted, map[string]any{"delivered": delivered})
}

func (s *Server) handleNotifyStaffUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || userID <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	// Optional role filter; empty matches any sub-role.
	var role presence.StaffRole
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, ok := presence.ParseStaffRole(raw)
		if !ok {
			s.respondError(w, http.StatusBadRequest, "unknown staff role")
			return
		}
		role = parsed
	}
	payload, ok := s.readPayload(w, r)
	if !ok {
		return
	}
	delivered := s.deps.Registry.IsStaffUserOnline(userID, role)
	s.deps.Dispatcher.SendToStaffUser(userID, role, payload)
	s.respondJSON(w, http.StatusAccepted, map[string]any{"delivered": delivered})
}

func (s *Server) handleOnlineSnapshot(w http.ResponseWriter, r *http.Request) {
	students := s.deps.Registry.OnlineStudents()
	staff := s.deps.Registry.OnlineStaffUserIDs()
	if students == nil {
		students = []int64{}
	}
	if staff == nil {
		staff = []int64{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"student_ids":    students,
		"staff_user_ids": staff,
	})
}

func (s *Server) handleStudentOnline(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil || studentID <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"student_id": studentID,
		"online":     s.deps.Registry.IsStudentOnline(studentID),
	})
}

func (s *Server) handleStaffRoleOnline(w http.ResponseWriter, r *http.Request) {
	role, ok := s.staffRoleParam(w, r)
	if !ok {
		return
	}
	resp := map[string]any{
		"role":   string(role),
		"online": s.deps.Registry.IsStaffRoleOnline(role),
	}
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		resp["user_id"] = userID
		resp["user_online"] = s.deps.Registry.IsStaffUserOnline(userID, role)
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) staffRoleParam(w http.ResponseWriter, r *http.Request) (presence.StaffRole, bool) {
	role, ok := presence.ParseStaffRole(chi.URLParam(r, "role"))
	if !ok {
		s.respondError(w, http.StatusBadRequest, "unknown staff role")
		return "", false
	}
	return role, true
}
