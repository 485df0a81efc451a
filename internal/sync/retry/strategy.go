package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/duyttran/syncline/internal/core/domain"
	"github.com/duyttran/syncline/internal/sync/classify"
)

// Config defines retry and adaptive batch sizing behavior.
type Config struct {
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	JitterFraction  float64
	MinBatchSize    int
	MaxBatchSize    int
	InitialBatch    int
	GrowthThreshold int // consecutive clean batches before growing
	GrowthStep      int
}

// DefaultConfig provides sensible defaults: 1s, 2s, 4s... capped at 5min.
var DefaultConfig = Config{
	BaseDelay:       1 * time.Second,
	MaxDelay:        5 * time.Minute,
	JitterFraction:  0.3,
	MinBatchSize:    1,
	MaxBatchSize:    50,
	InitialBatch:    20,
	GrowthThreshold: 3,
	GrowthStep:      5,
}

// categoryMultipliers scale the backoff per error category. Transient
// failures resolve faster, so they get a gentler curve.
var categoryMultipliers = map[domain.ErrorCategory]float64{
	domain.CategoryTransient: 1.0,
	domain.CategoryConflict:  1.5,
	domain.CategoryPermanent: 2.0,
	domain.CategoryUnknown:   2.0,
}

// Strategy computes backoff delays and retry/dead-letter decisions, and
// tracks an adaptive batch size from recent batch outcomes. One instance
// is shared per process: the batch size reflects overall network health,
// not a single store's.
type Strategy struct {
	mu sync.Mutex

	cfg           Config
	batchSize     int
	consecutiveOK int

	// Fixed-size ring of recent batch failure rates, for metrics and
	// for keeping the component O(1) regardless of run length.
	window [16]float64
	widx   int
	wlen   int

	rng *rand.Rand
}

// NewStrategy creates a strategy with bounds taken from cfg; zero values
// fall back to DefaultConfig.
func NewStrategy(cfg Config) *Strategy {
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = DefaultConfig.BaseDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = DefaultConfig.MaxDelay
	}
	if cfg.JitterFraction == 0 {
		cfg.JitterFraction = DefaultConfig.JitterFraction
	}
	if cfg.MinBatchSize == 0 {
		cfg.MinBatchSize = DefaultConfig.MinBatchSize
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = DefaultConfig.MaxBatchSize
	}
	if cfg.InitialBatch == 0 {
		cfg.InitialBatch = DefaultConfig.InitialBatch
	}
	if cfg.GrowthThreshold == 0 {
		cfg.GrowthThreshold = DefaultConfig.GrowthThreshold
	}
	if cfg.GrowthStep == 0 {
		cfg.GrowthStep = DefaultConfig.GrowthStep
	}
	if cfg.InitialBatch > cfg.MaxBatchSize {
		cfg.InitialBatch = cfg.MaxBatchSize
	}

	return &Strategy{
		cfg:       cfg,
		batchSize: cfg.InitialBatch,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// BackoffDelay computes the delay before the given attempt (1-indexed):
// base * 2^(attempt-1) * category multiplier, capped at MaxDelay, with
// randomized jitter to avoid synchronized retry storms.
func (s *Strategy) BackoffDelay(attempt int, category domain.ErrorCategory) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	mult, ok := categoryMultipliers[category]
	if !ok {
		mult = 1.0
	}

	delay := float64(s.cfg.BaseDelay) * math.Pow(2, float64(attempt-1)) * mult
	if delay > float64(s.cfg.MaxDelay) {
		delay = float64(s.cfg.MaxDelay)
	}

	s.mu.Lock()
	jitter := (s.rng.Float64()*2 - 1) * s.cfg.JitterFraction
	s.mu.Unlock()

	return time.Duration(delay * (1 + jitter))
}

// Decision is the verdict for one failed item.
type Decision struct {
	ShouldRetry      bool
	ShouldDeadLetter bool
	Reason           domain.DeadLetterReason
	Delay            time.Duration
}

// RetryDecision decides retry-vs-dead-letter for an item that just failed
// its attempt'th attempt. A server Retry-After hint acts as a floor on the
// returned delay.
func (s *Strategy) RetryDecision(
	attempts, maxAttempts int,
	category domain.ErrorCategory,
	retryAfter *time.Time,
) Decision {
	if dl := classify.ShouldDeadLetter(attempts, maxAttempts, category); dl.ShouldDeadLetter {
		return Decision{ShouldDeadLetter: true, Reason: dl.Reason}
	}

	delay := s.BackoffDelay(attempts, category)
	if retryAfter != nil {
		if hinted := time.Until(*retryAfter); hinted > delay {
			delay = hinted
		}
	}

	return Decision{ShouldRetry: true, Delay: delay}
}

// RecordBatchFailure shrinks the batch size proportionally to how badly
// the batch went. failureRate is clamped to 0..1.
func (s *Strategy) RecordBatchFailure(failureRate float64) {
	if failureRate < 0 {
		failureRate = 0
	}
	if failureRate > 1 {
		failureRate = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.consecutiveOK = 0
	s.push(failureRate)

	next := int(float64(s.batchSize) * (1 - 0.5*failureRate))
	if next < s.cfg.MinBatchSize {
		next = s.cfg.MinBatchSize
	}
	s.batchSize = next
}

// RecordBatchSuccess grows the batch size back toward the ceiling after
// enough consecutive clean batches. Recovery is gradual to avoid
// oscillation.
func (s *Strategy) RecordBatchSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.push(0)
	s.consecutiveOK++
	if s.consecutiveOK < s.cfg.GrowthThreshold {
		return
	}

	s.consecutiveOK = 0
	s.batchSize += s.cfg.GrowthStep
	if s.batchSize > s.cfg.MaxBatchSize {
		s.batchSize = s.cfg.MaxBatchSize
	}
}

// BatchSize returns the live batch size used to size the next queue fetch.
func (s *Strategy) BatchSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchSize
}

// RecentFailureRate averages the rolling outcome window (for metrics).
func (s *Strategy) RecentFailureRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wlen == 0 {
		return 0
	}
	var total float64
	for i := 0; i < s.wlen; i++ {
		total += s.window[i]
	}
	return total / float64(s.wlen)
}

func (s *Strategy) push(rate float64) {
	s.window[s.widx] = rate
	s.widx = (s.widx + 1) % len(s.window)
	if s.wlen < len(s.window) {
		s.wlen++
	}
}
