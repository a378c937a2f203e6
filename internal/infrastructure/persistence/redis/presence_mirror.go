// Package redis mirrors the hub's in-memory presence state into Redis.
// The registry inside the hub process is authoritative; the mirror exists
// so sibling processes (the CRUD tier, background jobs) can answer "who is
// online" without holding a WebSocket connection. Mirror writes are
// advisory and retried briefly, never blocking the connection path.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/internal/infrastructure/messaging"
	"github.com/mqerk/academy-live-hub/pkg/logger"
	"github.com/mqerk/academy-live-hub/pkg/retry"
)

// Config contains presence mirror configuration.
type Config struct {
	// KeyPrefix namespaces all mirror keys (default "livehub:").
	KeyPrefix string

	// LastSeenTTL bounds how long last-seen markers survive without
	// refresh.
	LastSeenTTL time.Duration

	// WriteTimeout bounds one mirror write including retries.
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:    "livehub:",
		LastSeenTTL:  24 * time.Hour,
		WriteTimeout: 3 * time.Second,
	}
}

// PresenceMirror subscribes to the presence bus and keeps Redis sets in
// step with the registry.
type PresenceMirror struct {
	client  *redis.Client
	cfg     Config
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewPresenceMirror creates a mirror over the given client.
func NewPresenceMirror(client *redis.Client, cfg Config, log *logger.Logger) *PresenceMirror {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "livehub:"
	}
	if cfg.LastSeenTTL <= 0 {
		cfg.LastSeenTTL = 24 * time.Hour
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 3 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}
	return &PresenceMirror{
		client:  client,
		cfg:     cfg,
		retrier: retry.MirrorRetrier(),
		log:     log.With(logger.Component("presence-mirror")),
	}
}

// Register subscribes the mirror to all presence transitions.
func (m *PresenceMirror) Register(bus *messaging.Bus) {
	bus.SubscribeAll(m.Handle)
}

// Handle applies one presence transition to Redis.
func (m *PresenceMirror) Handle(ev messaging.PresenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.WriteTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case messaging.EventStudentOnline:
		err = m.write(ctx, func(ctx context.Context) error {
			pipe := m.client.Pipeline()
			pipe.SAdd(ctx, m.studentsKey(), ev.StudentID)
			pipe.Set(ctx, m.lastSeenKey(ev.StudentID), ev.At.Unix(), m.cfg.LastSeenTTL)
			_, pErr := pipe.Exec(ctx)
			return pErr
		})

	case messaging.EventStudentOffline:
		err = m.write(ctx, func(ctx context.Context) error {
			pipe := m.client.Pipeline()
			pipe.SRem(ctx, m.studentsKey(), ev.StudentID)
			pipe.Set(ctx, m.lastSeenKey(ev.StudentID), ev.At.Unix(), m.cfg.LastSeenTTL)
			_, pErr := pipe.Exec(ctx)
			return pErr
		})

	case messaging.EventStaffOnline:
		err = m.write(ctx, func(ctx context.Context) error {
			return m.client.SAdd(ctx, m.staffKey(ev.StaffRole), ev.UserID).Err()
		})

	case messaging.EventStaffOffline:
		// Other sessions of the same user may remain; only a full
		// user-offline transition clears the membership.
		if ev.UserStillOnline {
			return
		}
		err = m.write(ctx, func(ctx context.Context) error {
			return m.client.SRem(ctx, m.staffKey(ev.StaffRole), ev.UserID).Err()
		})
	}

	if err != nil {
		m.log.Warn("mirror write failed",
			logger.String("event_type", string(ev.Type)),
			logger.Err(err),
		)
	}
}

// write runs one mirror mutation with bounded retries.
func (m *PresenceMirror) write(ctx context.Context, op func(ctx context.Context) error) error {
	return m.retrier.Do(ctx, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return retry.Retryable(err)
		}
		return nil
	})
}

// OnlineStudents reads the mirrored set of online student ids. Intended
// for sibling processes; inside the hub process the registry is the
// authority.
func (m *PresenceMirror) OnlineStudents(ctx context.Context) ([]int64, error) {
	members, err := m.client.SMembers(ctx, m.studentsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("presence mirror: read students: %w", err)
	}
	out := make([]int64, 0, len(members))
	for _, s := range members {
		id, convErr := strconv.ParseInt(s, 10, 64)
		if convErr != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// IsStaffRoleOnline reads whether any user of the sub-role is mirrored
// online.
func (m *PresenceMirror) IsStaffRoleOnline(ctx context.Context, role presence.StaffRole) (bool, error) {
	n, err := m.client.SCard(ctx, m.staffKey(role)).Result()
	if err != nil {
		return false, fmt.Errorf("presence mirror: read staff role: %w", err)
	}
	return n > 0, nil
}

func (m *PresenceMirror) studentsKey() string {
	return m.cfg.KeyPrefix + "online:students"
}

func (m *PresenceMirror) staffKey(role presence.StaffRole) string {
	return m.cfg.KeyPrefix + "online:staff:" + string(role)
}

func (m *PresenceMirror) lastSeenKey(studentID int64) string {
	return m.cfg.KeyPrefix + "last_seen:student:" + strconv.FormatInt(studentID, 10)
}
