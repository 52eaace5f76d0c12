package orchestrator

import (
	"log"
	"sync"
	"time"

	"github.com/ShayCichocki/warden/pkg/models"
)

// BreakerState identifies the circuit breaker state.
type BreakerState string

const (
	// BreakerClosed means calls flow through normally.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen means calls are rejected without being attempted.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen means a limited number of probe calls are allowed.
	BreakerHalfOpen BreakerState = "half_open"
)

// CircuitBreakerConfig contains configuration options for the CircuitBreaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before allowing probes.
	ResetTimeout time.Duration
	// HalfOpenMaxCalls is how many concurrent probe calls half-open admits;
	// that many consecutive successes close the circuit.
	HalfOpenMaxCalls int
}

// DefaultCircuitBreakerConfig returns the default breaker settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// BreakerSnapshot is a point-in-time view of the breaker's counters.
type BreakerSnapshot struct {
	// State is the current breaker state.
	State BreakerState
	// ConsecutiveFailures is the closed-state failure streak.
	ConsecutiveFailures int
	// HalfOpenSuccesses is the half-open success streak.
	HalfOpenSuccesses int
	// LastFailure is when the most recent failure occurred.
	LastFailure time.Time
}

// CircuitBreaker guards task-creation calls against a persistently
// failing backing store. Failures trip it open; after ResetTimeout it
// admits a bounded number of probes before closing again.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	// mu protects all mutable state
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenSuccesses   int
	halfOpenInFlight    int

	// now is injectable for tests
	now func() time.Time
}

// NewCircuitBreaker creates a CircuitBreaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// Execute runs fn under the breaker. When the circuit is open, fn is not
// called and a CIRCUIT_OPEN error is returned.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

// State returns a snapshot of the breaker's state and counters.
func (cb *CircuitBreaker) State() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionLocked()
	return BreakerSnapshot{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		HalfOpenSuccesses:   cb.halfOpenSuccesses,
		LastFailure:         cb.lastFailure,
	}
}

// beforeCall admits or rejects a call and reserves a half-open slot when
// probing.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeTransitionLocked()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		return models.NewCircuitOpen()
	default: // half-open
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxCalls {
			return models.NewCircuitOpen()
		}
		cb.halfOpenInFlight++
		return nil
	}
}

// afterCall records the outcome of an admitted call.
func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		if err != nil {
			cb.consecutiveFailures++
			cb.lastFailure = cb.now()
			if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
				cb.state = BreakerOpen
				log.Printf("[breaker] circuit opened after %d consecutive failures", cb.consecutiveFailures)
			}
		} else {
			cb.consecutiveFailures = 0
		}

	case BreakerHalfOpen:
		cb.halfOpenInFlight--
		if err != nil {
			cb.lastFailure = cb.now()
			cb.state = BreakerOpen
			cb.halfOpenSuccesses = 0
			log.Printf("[breaker] probe failed, circuit re-opened")
		} else {
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.cfg.HalfOpenMaxCalls {
				cb.state = BreakerClosed
				cb.consecutiveFailures = 0
				cb.halfOpenSuccesses = 0
				cb.halfOpenInFlight = 0
				log.Printf("[breaker] circuit closed after %d successful probes", cb.cfg.HalfOpenMaxCalls)
			}
		}

	case BreakerOpen:
		// A call admitted before the circuit opened; record failures so
		// lastFailure stays current, otherwise ignore.
		if err != nil {
			cb.lastFailure = cb.now()
		}
	}
}

// maybeTransitionLocked moves open to half-open once ResetTimeout has
// elapsed since the last failure. Caller must hold mu.
func (cb *CircuitBreaker) maybeTransitionLocked() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.cfg.ResetTimeout {
		cb.state = BreakerHalfOpen
		cb.halfOpenSuccesses = 0
		cb.halfOpenInFlight = 0
		log.Printf("[breaker] reset timeout elapsed, circuit half-open")
	}
}
