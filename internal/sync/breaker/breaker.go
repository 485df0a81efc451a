package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker state machine position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config defines breaker thresholds.
type Config struct {
	FailureThreshold int
	FailureWindow    time.Duration
	ResetTimeout     time.Duration
	SuccessThreshold int
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	FailureThreshold: 5,
	FailureWindow:    60 * time.Second,
	ResetTimeout:     30 * time.Second,
	SuccessThreshold: 2,
}

// Breaker guards an operation against a failing remote resource. One
// long-lived instance per logical endpoint group; a fresh breaker per call
// would defeat the failure-window accounting.
type Breaker struct {
	mu sync.Mutex

	name string
	cfg  Config

	state    State
	failures []time.Time // failure timestamps within the window (CLOSED)
	openedAt time.Time   // set on transition to OPEN
	probes   int         // consecutive successes while HALF_OPEN

	now func() time.Time
}

// New creates a breaker for the named resource.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = DefaultConfig.FailureWindow
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig.ResetTimeout
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = DefaultConfig.SuccessThreshold
	}

	return &Breaker{
		name: name,
		cfg:  cfg,
		now:  time.Now,
	}
}

// Execute runs op unless the breaker is OPEN, in which case it fails fast
// with ErrCircuitOpen without invoking op.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	b.maybeHalfOpen()
	if b.state == StateOpen {
		b.mu.Unlock()
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State reports the current state, lazily applying the OPEN → HALF_OPEN
// transition once the reset timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Name returns the resource name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// ForceOpen trips the breaker administratively.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open()
}

// Reset returns the breaker to CLOSED and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = nil
	b.probes = 0
}

// maybeHalfOpen transitions OPEN → HALF_OPEN after the reset timeout.
// Caller holds the lock.
func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = StateHalfOpen
		b.probes = 0
	}
}

func (b *Breaker) recordFailure() {
	switch b.state {
	case StateHalfOpen:
		// A failed probe reopens immediately.
		b.open()
	case StateClosed:
		now := b.now()
		b.failures = append(b.failures, now)
		b.pruneWindow(now)
		if len(b.failures) >= b.cfg.FailureThreshold {
			b.open()
		}
	}
}

func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateHalfOpen:
		b.probes++
		if b.probes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = nil
			b.probes = 0
		}
	case StateClosed:
		// Successes do not clear the window; only time does.
	}
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.failures = nil
	b.probes = 0
}

func (b *Breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.FailureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}
