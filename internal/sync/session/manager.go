package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/duyttran/syncline/internal/core/domain"
)

// ErrCycleInProgress is returned when a second cycle is started for a
// store that already has one in flight.
var ErrCycleInProgress = errors.New("existing cycle in progress")

// Service is the cloud session boundary. Both calls may fail with a
// network-style error.
type Service interface {
	StartSyncSession(ctx context.Context, storeID string) (*domain.SessionInfo, error)
	CompleteSyncSession(ctx context.Context, sessionID string, lastSequence int64, stats domain.CycleStats) error
}

// Cycle is the live context of one in-flight sync cycle for one store.
// StoreID and StartedAt are fixed at creation; the session fields are
// filled in once the remote session starts and must be read through the
// accessors, since observers can hold a Cycle before that happens.
type Cycle struct {
	StoreID   string
	StartedAt time.Time

	mu               sync.Mutex
	sessionID        string
	revocationStatus domain.RevocationStatus
	pullPendingCount int
	stats            domain.CycleStats
	lastSequence     int64
}

// SessionID returns the remote session id, empty until the session has
// started.
func (c *Cycle) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RevocationStatus returns the credential state reported at session start.
func (c *Cycle) RevocationStatus() domain.RevocationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revocationStatus
}

// PullPendingCount returns the cloud-side pending pull count reported at
// session start.
func (c *Cycle) PullPendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pullPendingCount
}

// RecordOperationStats accumulates a delta into the cycle's running
// totals. label is for logging only.
func (c *Cycle) RecordOperationStats(label string, delta domain.CycleStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Add(delta)
	slog.Debug("Recorded cycle stats",
		"store", c.StoreID, "op", label,
		"pushed", delta.Pushed, "pulled", delta.Pulled, "conflicts", delta.ConflictsResolved)
}

// SetLastSequence records the highest sequence number processed, reported
// to the cloud on completion.
func (c *Cycle) SetLastSequence(seq int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq > c.lastSequence {
		c.lastSequence = seq
	}
}

// Stats returns a copy of the running totals.
func (c *Cycle) Stats() domain.CycleStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LastSequence returns the highest recorded sequence number.
func (c *Cycle) LastSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSequence
}

// Manager coordinates one logical sync cycle per store: it starts a remote
// session, runs the caller-supplied body with the live cycle context, and
// completes the session exactly once regardless of how many operations the
// body performs.
type Manager struct {
	mu     sync.Mutex
	svc    Service
	active map[string]*Cycle
	log    *slog.Logger
	now    func() time.Time
}

// NewManager creates a session manager around the given cloud service.
func NewManager(svc Service, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		svc:    svc,
		active: make(map[string]*Cycle),
		log:    log,
		now:    time.Now,
	}
}

// RunSyncCycle runs body inside exactly one start/complete session pair
// for storeID. It rejects immediately with ErrCycleInProgress if a cycle
// is already running for that store, and always clears the in-process
// cycle state on exit.
func (m *Manager) RunSyncCycle(ctx context.Context, storeID string, body func(ctx context.Context, c *Cycle) error) error {
	// Reserve the store slot before the network call so two concurrent
	// callers cannot both start a remote session.
	m.mu.Lock()
	if _, running := m.active[storeID]; running {
		m.mu.Unlock()
		return fmt.Errorf("store %s: %w", storeID, ErrCycleInProgress)
	}
	cycle := &Cycle{StoreID: storeID, StartedAt: m.now()}
	m.active[storeID] = cycle
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		// Only clear our own registration: ForceCleanup may already
		// have released the store to a newer cycle.
		if m.active[storeID] == cycle {
			delete(m.active, storeID)
		}
		m.mu.Unlock()
	}()

	info, err := m.svc.StartSyncSession(ctx, storeID)
	if err != nil {
		return fmt.Errorf("start sync session: %w", err)
	}

	cycle.mu.Lock()
	cycle.sessionID = info.SessionID
	cycle.revocationStatus = info.RevocationStatus
	cycle.pullPendingCount = info.PullPendingCount
	cycle.mu.Unlock()

	if info.RevocationStatus != domain.RevocationValid {
		// The store is locked out; do not run the body, but still
		// complete the session for cloud-side bookkeeping.
		m.complete(ctx, cycle)
		msg := info.LockoutMessage
		if msg == "" {
			msg = fmt.Sprintf("store credentials %s", info.RevocationStatus)
		}
		return fmt.Errorf("sync cycle rejected for store %s: %s", storeID, msg)
	}

	// Complete via defer so the session is closed exactly once even if
	// the body returns an error or panics.
	defer m.complete(ctx, cycle)

	return body(ctx, cycle)
}

// complete closes the remote session. A completion failure is logged, not
// propagated: all queue-state mutations are already durable, and the
// in-process state must never reuse a stale session on the next cycle.
func (m *Manager) complete(ctx context.Context, c *Cycle) {
	sessionID := c.SessionID()
	if err := m.svc.CompleteSyncSession(ctx, sessionID, c.LastSequence(), c.Stats()); err != nil {
		m.log.Warn("Failed to complete sync session",
			"store", c.StoreID, "session", sessionID, "error", err)
	}
}

// HasActiveSession reports whether a cycle is in flight for storeID.
func (m *Manager) HasActiveSession(storeID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[storeID]
	return ok
}

// ActiveSession returns the live cycle context, if any. Unrelated code
// uses this to observe the current session id instead of starting a
// redundant one.
func (m *Manager) ActiveSession(storeID string) (*Cycle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[storeID]
	return c, ok
}

// CycleStats returns the running totals for the in-flight cycle, or zero
// stats when none is active.
func (m *Manager) CycleStats(storeID string) domain.CycleStats {
	m.mu.Lock()
	c, ok := m.active[storeID]
	m.mu.Unlock()
	if !ok {
		return domain.CycleStats{}
	}
	return c.Stats()
}

// ForceCleanup clears the in-process cycle state for storeID. Safe to call
// when no cycle is active; used by error-recovery paths.
func (m *Manager) ForceCleanup(storeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, storeID)
}
