// Package healthmonitor implements spec.md §4.6: a periodic scan that
// dispatches a worker to any room containing humans but no agent, and an
// orthogonal stale-cleanup sweep that reaps empty rooms and abandoned agent
// participants. It only dispatches; joining a room remains the sole
// responsibility of the worker's JobRequest handler (package worker).
package healthmonitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lookatitude/letta-voice-gateway/o11y"
	"github.com/lookatitude/letta-voice-gateway/roomfabric"
)

// Defaults mirror spec.md §4.6/§5: a 20s scan cadence, a 20s dispatch
// cooldown per room, and the hourly/5-minute/10-minute stale-cleanup
// thresholds from the "Stale cleanup" paragraph.
const (
	DefaultScanInterval     = 20 * time.Second
	DefaultDispatchCooldown = 20 * time.Second
	sweepInterval           = time.Hour
	staleRoomAge            = 5 * time.Minute
	staleAgentAge           = 10 * time.Minute
)

// agentMarkers is the identity heuristic from spec.md §4.6: "names
// containing agent, bot, or a well-known worker prefix". workerPrefix is
// the worker's own dispatch name, supplied by the caller since it varies by
// deployment (PRIMARY_AGENT_NAME-derived).
var agentMarkers = []string{"agent", "bot"}

// Fabric is the subset of *roomfabric.Client the monitor needs. Defined
// locally so tests can substitute a fake fabric.
type Fabric interface {
	ListRooms(ctx context.Context) ([]roomfabric.RoomInfo, error)
	Participants(ctx context.Context, room string) ([]roomfabric.Participant, error)
	CreateDispatch(ctx context.Context, room, agentName string) (string, error)
	DeleteRoom(ctx context.Context, room string) error
	RemoveParticipant(ctx context.Context, room, identity string) error
}

// Monitor runs the room-scan and stale-cleanup loops described in spec.md
// §4.6. It holds its own cooldown table, independent of any other
// in-process registry.
type Monitor struct {
	fabric       Fabric
	workerName   string
	workerPrefix string
	scanInterval time.Duration
	cooldown     time.Duration
	logger       *o11y.Logger

	mu         sync.Mutex
	lastDispatch map[string]time.Time
}

// Option configures a Monitor at construction.
type Option func(*Monitor)

// WithScanInterval overrides DefaultScanInterval.
func WithScanInterval(d time.Duration) Option {
	return func(m *Monitor) { m.scanInterval = d }
}

// WithCooldown overrides DefaultDispatchCooldown.
func WithCooldown(d time.Duration) Option {
	return func(m *Monitor) { m.cooldown = d }
}

// WithLogger overrides the Monitor's logger.
func WithLogger(l *o11y.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor that dispatches workerName to rooms with humans and
// no agent. workerPrefix additionally marks identities bearing it as agents
// (alongside the "agent"/"bot" substrings spec.md §4.6 names), letting a
// deployment's actual worker identity prefix participate in the heuristic.
func New(fabric Fabric, workerName, workerPrefix string, opts ...Option) *Monitor {
	m := &Monitor{
		fabric:       fabric,
		workerName:   workerName,
		workerPrefix: workerPrefix,
		scanInterval: DefaultScanInterval,
		cooldown:     DefaultDispatchCooldown,
		logger:       o11y.NewLogger(),
		lastDispatch: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run blocks, scanning every ScanInterval and sweeping stale state at start
// and every hour, until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.sweepStale(ctx)

	scanTicker := time.NewTicker(m.scanInterval)
	defer scanTicker.Stop()
	sweepTicker := time.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			m.scanOnce(ctx)
		case <-sweepTicker.C:
			m.sweepStale(ctx)
		}
	}
}

// scanOnce implements spec.md §4.6's algorithm for one pass over every room.
func (m *Monitor) scanOnce(ctx context.Context) {
	rooms, err := m.fabric.ListRooms(ctx)
	if err != nil {
		m.logger.Warn(ctx, "health scan: list rooms failed", "error", err)
		return
	}

	for _, room := range rooms {
		participants, err := m.fabric.Participants(ctx, room.Name)
		if err != nil {
			m.logger.Warn(ctx, "health scan: list participants failed", "room", room.Name, "error", err)
			continue
		}

		humans, agents := m.partition(participants)
		if humans == 0 || agents > 0 {
			continue
		}

		if !m.coolingDown(room.Name) {
			m.dispatch(ctx, room.Name)
		}
	}
}

func (m *Monitor) partition(participants []roomfabric.Participant) (humans, agents int) {
	for _, p := range participants {
		if m.isAgentIdentity(p.Identity) {
			agents++
		} else {
			humans++
		}
	}
	return humans, agents
}

func (m *Monitor) isAgentIdentity(identity string) bool {
	lower := strings.ToLower(identity)
	if m.workerPrefix != "" && strings.HasPrefix(lower, strings.ToLower(m.workerPrefix)) {
		return true
	}
	for _, marker := range agentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (m *Monitor) coolingDown(room string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastDispatch[room]
	return ok && time.Since(last) < m.cooldown
}

func (m *Monitor) dispatch(ctx context.Context, room string) {
	if _, err := m.fabric.CreateDispatch(ctx, room, m.workerName); err != nil {
		m.logger.Warn(ctx, "health scan: dispatch failed", "room", room, "error", err)
		return
	}
	m.mu.Lock()
	m.lastDispatch[room] = time.Now()
	m.mu.Unlock()
	m.logger.Info(ctx, "health scan: dispatched worker to unattended room", "room", room, "agent_name", m.workerName)
}

// sweepStale implements spec.md §4.6's "Stale cleanup" paragraph: rooms
// empty for at least staleRoomAge are deleted outright; agent-identity
// participants older than staleAgentAge in a room with no humans are evicted
// individually, leaving the room itself (and any other, still-fresh
// occupant) untouched.
func (m *Monitor) sweepStale(ctx context.Context) {
	rooms, err := m.fabric.ListRooms(ctx)
	if err != nil {
		m.logger.Warn(ctx, "stale sweep: list rooms failed", "error", err)
		return
	}

	for _, room := range rooms {
		if room.NumParticipants == 0 && time.Since(room.CreatedAt) >= staleRoomAge {
			m.reap(ctx, room.Name, "empty_room")
			continue
		}

		participants, err := m.fabric.Participants(ctx, room.Name)
		if err != nil {
			m.logger.Warn(ctx, "stale sweep: list participants failed", "room", room.Name, "error", err)
			continue
		}
		humans, _ := m.partition(participants)
		if humans > 0 {
			continue
		}
		for _, p := range participants {
			if m.isAgentIdentity(p.Identity) && time.Since(p.JoinedAt) >= staleAgentAge {
				m.evictStaleAgent(ctx, room.Name, p.Identity)
			}
		}
	}
}

func (m *Monitor) reap(ctx context.Context, room, reason string) {
	if err := m.fabric.DeleteRoom(ctx, room); err != nil {
		m.logger.Warn(ctx, "stale sweep: delete room failed", "room", room, "reason", reason, "error", err)
		return
	}
	m.mu.Lock()
	delete(m.lastDispatch, room)
	m.mu.Unlock()
	m.logger.Info(ctx, "stale sweep: deleted room", "room", room, "reason", reason)
}

// evictStaleAgent removes a single abandoned agent-identity participant from
// room, leaving the room itself intact for reuse by a fresh dispatch.
func (m *Monitor) evictStaleAgent(ctx context.Context, room, identity string) {
	if err := m.fabric.RemoveParticipant(ctx, room, identity); err != nil {
		m.logger.Warn(ctx, "stale sweep: remove participant failed", "room", room, "identity", identity, "error", err)
		return
	}
	m.logger.Info(ctx, "stale sweep: removed stale agent participant", "room", room, "identity", identity)
}
