package reconciler

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	circuitClosed   uint32 = 0
	circuitOpen     uint32 = 1
	circuitHalfOpen uint32 = 2
)

// CircuitBreaker protects against repeated reconciliation failures.
type CircuitBreaker struct {
	failures    atomic.Int32
	threshold   int32
	resetAfter  time.Duration
	state       atomic.Uint32
	lastFailure atomic.Int64
}

// NewCircuitBreaker creates a circuit breaker.
func NewCircuitBreaker(threshold int32, resetAfter time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:  threshold,
		resetAfter: resetAfter,
	}
}

// Allow returns true if the operation is allowed.
func (cb *CircuitBreaker) Allow() bool {
	for {
		switch cb.state.Load() {
		case circuitOpen:
			lastFail := time.Unix(0, cb.lastFailure.Load())
			if time.Since(lastFail) > cb.resetAfter {
				// Only one goroutine wins the transition and gets the
				// test request.
				if cb.state.CompareAndSwap(circuitOpen, circuitHalfOpen) {
					return true
				}
				continue
			}
			return false
		case circuitHalfOpen:
			return false
		default:
			return true
		}
	}
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failures.Store(0)
	cb.state.Store(circuitClosed)
}

// RecordFailure records a failed operation.
func (cb *CircuitBreaker) RecordFailure() {
	for {
		current := cb.failures.Load()
		if current == math.MaxInt32 {
			return
		}
		if !cb.failures.CompareAndSwap(current, current+1) {
			continue
		}
		if current+1 >= cb.threshold {
			if cb.state.CompareAndSwap(circuitClosed, circuitOpen) ||
				cb.state.CompareAndSwap(circuitHalfOpen, circuitOpen) {
				cb.lastFailure.Store(time.Now().UnixNano())
			}
		}
		return
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() string {
	switch cb.state.Load() {
	case circuitClosed:
		return "closed"
	case circuitOpen:
		return "open"
	case circuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// SchedulerConfig configures the reconciliation scheduler.
type SchedulerConfig struct {
	// Interval between periodic runs. Zero disables the ticker; runs then
	// happen only via Trigger.
	Interval time.Duration

	// RemoveOrphans is passed through to each scheduled run.
	RemoveOrphans bool

	// FailureThreshold opens the circuit after this many consecutive
	// failed runs. Default: 5.
	FailureThreshold int32

	// ResetAfter is how long the circuit stays open. Default: 5m.
	ResetAfter time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *SchedulerConfig) ApplyDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetAfter == 0 {
		c.ResetAfter = 5 * time.Minute
	}
}

// Scheduler runs reconciliation periodically and on demand. The core
// reconciler is request/response; owning the schedule is the daemon's job,
// and this type is that owner.
type Scheduler struct {
	service Service
	config  SchedulerConfig
	cb      *CircuitBreaker
	logger  *zap.Logger

	triggerCh chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	mu         sync.RWMutex
	lastReport *SyncReport
}

// NewScheduler creates a scheduler around a reconciler service.
func NewScheduler(ctx context.Context, service Service, config SchedulerConfig, logger *zap.Logger) *Scheduler {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		service:   service,
		config:    config,
		cb:        NewCircuitBreaker(config.FailureThreshold, config.ResetAfter),
		logger:    logger,
		triggerCh: make(chan struct{}, 16),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins the background loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

func (s *Scheduler) run() {
	var tickCh <-chan time.Time
	if s.config.Interval > 0 {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("reconciler scheduler: shutdown requested")
			return
		case <-tickCh:
			s.runOnce()
		case <-s.triggerCh:
			s.runOnce()
		}
	}
}

// Trigger requests a run without blocking. Requests beyond the queue bound
// are dropped.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
		s.logger.Warn("reconciler scheduler: trigger queue full, skipping")
	}
}

func (s *Scheduler) runOnce() {
	if !s.cb.Allow() {
		s.logger.Debug("reconciler scheduler: circuit breaker open, skipping run")
		return
	}

	report, err := s.service.Reconcile(s.ctx, Options{RemoveOrphans: s.config.RemoveOrphans})
	if err != nil {
		s.cb.RecordFailure()
		s.logger.Error("reconciler scheduler: run failed", zap.Error(err))
		return
	}
	if report.Success {
		s.cb.RecordSuccess()
	} else {
		s.cb.RecordFailure()
	}

	s.mu.Lock()
	s.lastReport = report
	s.mu.Unlock()
}

// LastReport returns the most recent completed report, or nil.
func (s *Scheduler) LastReport() *SyncReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// CircuitState returns the breaker state for observability endpoints.
func (s *Scheduler) CircuitState() string {
	return s.cb.State()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("reconciler scheduler stopped")
}
