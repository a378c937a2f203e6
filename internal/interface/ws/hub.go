// Package ws implements the hub: the single long-lived WebSocket endpoint
// that authenticates inbound connections, registers the resulting sessions
// and wires their lifecycle into presence broadcasts.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/internal/identity"
	"github.com/mqerk/academy-live-hub/internal/infrastructure/messaging"
	"github.com/mqerk/academy-live-hub/pkg/logger"
)

// Application close codes, in the private 4000-4999 range so clients can
// tell handshake failures apart and react differently (redirect to login
// vs. silent retry).
const (
	CloseNoCredential      = 4001
	CloseInvalidCredential = 4002
	CloseIdentityNotFound  = 4003
	CloseRoleNotAllowed    = 4004
)

// DefaultPath is the upgrade endpoint path.
const DefaultPath = "/ws/notifications"

// CredentialFunc extracts the raw credential from the upgrade request.
// The hub never inspects the credential itself.
type CredentialFunc func(r *http.Request) string

// Config contains hub configuration.
type Config struct {
	// Credential extracts the access token from the request. Required;
	// without it every connection is rejected with CloseNoCredential.
	Credential CredentialFunc

	// HandshakeTimeout bounds identity resolution for one connection.
	HandshakeTimeout time.Duration

	// ReadLimit caps inbound frame size. The hub is push-only, so inbound
	// traffic beyond control frames is client misbehavior.
	ReadLimit int64

	// CheckOrigin overrides the upgrader origin policy. Nil keeps the
	// gorilla default (same-origin).
	CheckOrigin func(r *http.Request) bool
}

// Hub accepts inbound connection upgrades, runs the identity resolver and
// owns every session's lifecycle from registration to the presence
// broadcast on close. It is the composition root of the presence core:
// registry, dispatcher and resolver are passed in, never global.
type Hub struct {
	registry   *presence.Registry
	dispatcher *presence.Dispatcher
	resolver   identity.Resolver
	bus        *messaging.Bus
	upgrader   websocket.Upgrader
	cfg        Config
	log        *logger.Logger
}

// NewHub creates a hub.
func NewHub(cfg Config, registry *presence.Registry, dispatcher *presence.Dispatcher, resolver identity.Resolver, bus *messaging.Bus, log *logger.Logger) *Hub {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4 * 1024
	}
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		registry:   registry,
		dispatcher: dispatcher,
		resolver:   resolver,
		bus:        bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg: cfg,
		log: log.With(logger.Component("hub")),
	}
}

// welcomeMessage is the one-time acknowledgement sent after registration,
// letting the client self-verify it got the room it expected.
type welcomeMessage struct {
	Type      string `json:"type"`
	Role      string `json:"role"`
	StudentID int64  `json:"student_id,omitempty"`
}

// statusChangeMessage informs all students that a staff member's
// availability changed.
type statusChangeMessage struct {
	Type   string `json:"type"`
	Online bool   `json:"online"`
	Role   string `json:"role"`
	UserID int64  `json:"user_id"`
	Event  string `json:"event"`
}

// ServeHTTP handles one upgrade request. Errors are contained per
// connection; nothing here can take down the accept loop.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		h.log.Debug("upgrade failed", logger.RemoteAddr(r.RemoteAddr), logger.Err(err))
		return
	}
	conn := &wsConn{conn: raw}

	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("connection setup panicked", logger.Any("panic", rec))
			conn.Close(websocket.CloseInternalServerErr, "internal error")
		}
	}()

	var credential string
	if h.cfg.Credential != nil {
		credential = h.cfg.Credential(r)
	}
	if credential == "" {
		conn.Close(CloseNoCredential, "no token")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.HandshakeTimeout)
	ident, err := h.resolver.Resolve(ctx, credential)
	cancel()
	if err != nil {
		code, reason := closeCodeFor(err)
		h.log.Info("connection rejected",
			logger.RemoteAddr(r.RemoteAddr),
			logger.CloseCode(code),
			logger.Err(err),
		)
		conn.Close(code, reason)
		return
	}

	session := h.register(ident, conn)
	h.log.Info("session registered",
		logger.SessionID(session.ID.String()),
		logger.UserID(session.UserID),
		logger.Role(session.Role.String()),
	)

	raw.SetReadLimit(h.cfg.ReadLimit)
	raw.SetPongHandler(func(string) error {
		session.MarkAlive()
		return nil
	})

	go h.readLoop(raw, session)
}

// register creates the session, adds it to the right partition, sends the
// welcome ack and announces the presence transition.
func (h *Hub) register(ident identity.Identity, conn presence.Conn) *presence.Session {
	switch ident.Role {
	case presence.RoleStudent:
		session := presence.NewStudentSession(ident.StudentID, ident.UserID, conn)
		// The registry decides the transition atomically with the insert;
		// a separate online check here could cross with a concurrent
		// disconnect of the same student's other tab and swallow the
		// online event.
		cameOnline := h.registry.AddStudent(ident.StudentID, session)

		h.send(session, welcomeMessage{Type: "welcome", Role: "student", StudentID: ident.StudentID})

		if cameOnline {
			h.publish(messaging.PresenceEvent{
				Type:      messaging.EventStudentOnline,
				StudentID: ident.StudentID,
				UserID:    ident.UserID,
				At:        time.Now(),
			})
		}
		return session

	default: // staff; the resolver admits no other roles
		session := presence.NewStaffSession(ident.UserID, ident.StaffRole, conn)
		h.registry.AddStaff(session)

		h.send(session, welcomeMessage{Type: "welcome", Role: string(ident.StaffRole)})

		// One more connection can only keep the role available, so no
		// recomputation on connect; the disconnect path recomputes.
		h.dispatcher.BroadcastToAllStudents(statusChangeMessage{
			Type:   "advisor-status-change",
			Online: true,
			Role:   string(ident.StaffRole),
			UserID: ident.UserID,
			Event:  "connect",
		})
		h.publish(messaging.PresenceEvent{
			Type:            messaging.EventStaffOnline,
			UserID:          ident.UserID,
			StaffRole:       ident.StaffRole,
			RoleStillOnline: true,
			UserStillOnline: true,
			At:              time.Now(),
		})
		return session
	}
}

// readLoop drains inbound frames until the connection dies. The hub is
// push-only; anything the client sends beyond control frames is discarded.
func (h *Hub) readLoop(raw *websocket.Conn, session *presence.Session) {
	for {
		if _, _, err := raw.ReadMessage(); err != nil {
			break
		}
	}
	h.handleClose(session)
}

// HandleEviction is the liveness monitor's EvictFunc: a dead peer follows
// the exact same path as an explicit disconnect.
func (h *Hub) HandleEviction(session *presence.Session) {
	h.handleClose(session)
}

// handleClose deregisters the session and emits the presence change.
// Idempotent: the read loop and the liveness monitor can both race here,
// only the first caller proceeds.
func (h *Hub) handleClose(session *presence.Session) {
	if !session.MarkClosed() {
		return
	}
	session.Terminate()

	h.log.Info("session closed",
		logger.SessionID(session.ID.String()),
		logger.UserID(session.UserID),
		logger.Role(session.Role.String()),
	)

	switch session.Role {
	case presence.RoleStudent:
		// Removal and the offline decision are one registry operation, the
		// mirror image of the atomic transition on register.
		if h.registry.RemoveStudent(session) {
			h.publish(messaging.PresenceEvent{
				Type:      messaging.EventStudentOffline,
				StudentID: session.StudentID,
				UserID:    session.UserID,
				At:        time.Now(),
			})
		}

	case presence.RoleStaff:
		h.registry.RemoveStaff(session)
		// Recompute instead of hardcoding false: other staff of the same
		// role may still be connected. The event is emitted on every
		// staff disconnect either way, because a student chatting with
		// this specific advisor needs to re-resolve their assignment even
		// while peers remain online.
		stillOnline := h.registry.IsStaffRoleOnline(session.StaffRole)
		h.dispatcher.BroadcastToAllStudents(statusChangeMessage{
			Type:   "advisor-status-change",
			Online: stillOnline,
			Role:   string(session.StaffRole),
			UserID: session.UserID,
			Event:  "disconnect",
		})
		h.publish(messaging.PresenceEvent{
			Type:            messaging.EventStaffOffline,
			UserID:          session.UserID,
			StaffRole:       session.StaffRole,
			RoleStillOnline: stillOnline,
			UserStillOnline: h.registry.IsStaffUserOnline(session.UserID, session.StaffRole),
			At:              time.Now(),
		})
	}
}

func (h *Hub) send(session *presence.Session, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("welcome marshal failed", logger.Err(err))
		return
	}
	if err := session.Send(data); err != nil {
		h.log.Warn("welcome send failed",
			logger.SessionID(session.ID.String()),
			logger.Err(err),
		)
	}
}

func (h *Hub) publish(ev messaging.PresenceEvent) {
	if h.bus != nil {
		h.bus.Publish(ev)
	}
}

// closeCodeFor maps a resolver failure to its close code. Unknown errors
// collapse into the generic internal code; the connection is never left
// half-open.
func closeCodeFor(err error) (int, string) {
	switch {
	case errors.Is(err, identity.ErrNoCredential):
		return CloseNoCredential, "no token"
	case errors.Is(err, identity.ErrInvalidCredential):
		return CloseInvalidCredential, "invalid token"
	case errors.Is(err, identity.ErrIdentityNotFound):
		return CloseIdentityNotFound, "no user"
	case errors.Is(err, identity.ErrRoleNotAllowed):
		return CloseRoleNotAllowed, "role not allowed"
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}
