package circuit

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/project-AI39/artfave/pkg/errors"
	"github.com/project-AI39/artfave/pkg/types"
	"github.com/project-AI39/artfave/pkg/utils"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - requests pass through
	StateClosed State = iota
	// StateOpen - requests are rejected without reaching the source
	StateOpen
	// StateHalfOpen - a limited number of probe requests may pass
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config contains circuit breaker configuration
type Config struct {
	// Consecutive failures that open the breaker
	FailureThreshold uint32 `yaml:"failure_threshold" toml:"failure_threshold"`

	// Period of the open state after which the breaker probes again
	OpenTimeout time.Duration `yaml:"open_timeout" toml:"open_timeout"`

	// Probe requests allowed while half-open
	HalfOpenRequests uint32 `yaml:"half_open_requests" toml:"half_open_requests"`

	// Function called when state changes
	OnStateChange func(name string, from State, to State) `yaml:"-" toml:"-"`

	// Function to determine if an error counts against the source
	IsFailure func(err error) bool `yaml:"-" toml:"-"`

	Clock func() time.Time `yaml:"-" toml:"-"`
}

// Counts holds the numbers of requests and their successes/failures
type Counts struct {
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	Rejected             uint32    `json:"rejected"`
	LastActivity         time.Time `json:"last_activity"`
}

// CircuitBreaker stops calls to a source that keeps failing, e.g. a folder
// on a drive that was unplugged while browsing.
type CircuitBreaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker creates a new circuit breaker instance
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 10 * time.Second
	}
	if config.HalfOpenRequests == 0 {
		config.HalfOpenRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = IsSourceFailure
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
	}
}

// IsSourceFailure reports whether err says the folder itself is failing.
// Context errors say nothing about the folder, and coded per-image errors
// (missing, too large, undecodable) leave the other images readable. Only
// SOURCE_UNAVAILABLE and errors without a code count.
func IsSourceFailure(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return false
	}
	switch errors.CodeOf(err) {
	case "", errors.ErrCodeSourceUnavailable:
		return true
	default:
		return false
	}
}

// Execute runs fn if the breaker allows it and records the outcome.
// A rejected call returns a CIRCUIT_OPEN error without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState(cb.config.Clock())
	if state == StateOpen || (state == StateHalfOpen && cb.counts.Requests >= cb.config.HalfOpenRequests) {
		cb.counts.Rejected++
		return errors.Newf(errors.ErrCodeCircuitOpen, "source %s is failing, retry after %s",
			cb.name, cb.expiry.Format(time.RFC3339)).
			WithComponent("circuit").
			WithContext("state", state.String())
	}

	cb.counts.onRequest(cb.config.Clock())
	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.config.Clock()
	state := cb.currentState(now)

	if !cb.config.IsFailure(err) {
		cb.counts.onSuccess()
		if state == StateHalfOpen {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.onFailure()
	switch state {
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.config.FailureThreshold {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) currentState(now time.Time) State {
	if cb.state == StateOpen && !cb.expiry.After(now) {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	prev := cb.state
	if prev == state {
		return
	}

	cb.state = state
	rejected := cb.counts.Rejected
	cb.counts = Counts{Rejected: rejected}

	if state == StateOpen {
		cb.expiry = now.Add(cb.config.OpenTimeout)
	} else {
		cb.expiry = time.Time{}
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(cb.config.Clock())
}

// GetCounts returns a copy of the current counts
func (cb *CircuitBreaker) GetCounts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counts.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed, cb.config.Clock())
	cb.counts = Counts{}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (c *Counts) onRequest(now time.Time) {
	c.Requests++
	c.LastActivity = now
}

func (c *Counts) onSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) onFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// GuardFetcher routes every fetch of an inner Fetcher through a breaker.
type GuardFetcher[K comparable, V any] struct {
	inner   types.Fetcher[K, V]
	breaker *CircuitBreaker
}

// Guard wraps inner with breaker.
func Guard[K comparable, V any](inner types.Fetcher[K, V], breaker *CircuitBreaker) *GuardFetcher[K, V] {
	return &GuardFetcher[K, V]{inner: inner, breaker: breaker}
}

// Fetch implements types.Fetcher.
func (g *GuardFetcher[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var out V
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		v, err := g.inner.Fetch(ctx, key)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// Breaker returns the breaker guarding the fetcher.
func (g *GuardFetcher[K, V]) Breaker() *CircuitBreaker {
	return g.breaker
}

// LogStateChanges returns an OnStateChange hook writing to logger.
func LogStateChanges(logger *utils.StructuredLogger) func(string, State, State) {
	logger = logger.WithComponent("circuit")
	return func(name string, from, to State) {
		fields := map[string]interface{}{"breaker": name, "from": from.String(), "to": to.String()}
		if to == StateOpen {
			logger.Warn("circuit opened", fields)
			return
		}
		logger.Info("circuit state changed", fields)
	}
}
