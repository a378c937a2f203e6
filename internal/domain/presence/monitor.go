package presence

import (
	"context"
	"time"

	"github.com/mqerk/academy-live-hub/pkg/logger"
)

// DefaultProbeInterval is how often the monitor sweeps all sessions.
const DefaultProbeInterval = 30 * time.Second

// EvictFunc is invoked for every session the monitor declares dead.
// The hub wires its close handler here so a liveness eviction follows the
// exact same path as an explicit disconnect: deregistration plus the
// presence-change broadcast.
type EvictFunc func(s *Session)

// Monitor is the periodic prober that detects unresponsive peers. A peer
// that never received a TCP close (network partition, killed laptop) holds
// its registry entry forever without this; online queries would report
// phantom sessions indefinitely.
//
// Per-session cycle: each sweep checks whether the previous probe was
// acknowledged. If not, the session is terminated and evicted; otherwise
// the alive flag is cleared and a new probe goes out, to be re-set by the
// transport's pong handler before the next sweep.
type Monitor struct {
	registry *Registry
	interval time.Duration
	onEvict  EvictFunc
	log      *logger.Logger
}

// NewMonitor creates a liveness monitor over the registry. A zero interval
// falls back to DefaultProbeInterval.
func NewMonitor(registry *Registry, interval time.Duration, onEvict EvictFunc, log *logger.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if log == nil {
		log = logger.Default()
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		onEvict:  onEvict,
		log:      log.With(logger.Component("liveness")),
	}
}

// Interval returns the probe interval.
func (m *Monitor) Interval() time.Duration {
	return m.interval
}

// Run sweeps all sessions on every tick until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep performs one probe pass over a snapshot of all sessions. Exposed
// separately from Run so the eviction decision is testable without timers.
func (m *Monitor) Sweep() {
	for _, s := range m.registry.Sessions() {
		if !s.ExpireProbe() {
			// No pong since the previous sweep: the peer is gone.
			m.evict(s, "probe unanswered")
			continue
		}
		if err := s.Ping(); err != nil {
			// A probe that cannot even be written is the same as a missed
			// pong. No retries; the session simply will not be found on
			// the next sweep.
			m.evict(s, "probe send failed")
		}
	}
}

func (m *Monitor) evict(s *Session, reason string) {
	m.log.Info("evicting dead session",
		logger.SessionID(s.ID.String()),
		logger.UserID(s.UserID),
		logger.Role(s.Role.String()),
		logger.String("reason", reason),
	)
	s.Terminate()
	if m.onEvict != nil {
		m.onEvict(s)
	}
}
