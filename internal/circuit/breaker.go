// Package circuit implements the per-pool circuit breaker: after repeated
// backend health failures a pool temporarily refuses to serve, then probes
// recovery through a half-open state.
package circuit

import (
	"sync"
	"time"

	fperrors "github.com/fastpath/fastpath/pkg/errors"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed - requests pass through.
	StateClosed State = iota
	// StateOpen - requests are rejected.
	StateOpen
	// StateHalfOpen - a limited number of probe requests test recovery.
	StateHalfOpen
)

// String returns the string representation of a state.
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

// Config contains circuit breaker configuration.
type Config struct {
	// MaxProbes is the number of requests allowed through in half-open
	// state.
	MaxProbes uint32 `yaml:"max_probes"`

	// Interval is the closed-state counting window after which counts
	// reset.
	Interval time.Duration `yaml:"interval"`

	// OpenTimeout is how long the breaker stays open before moving to
	// half-open.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// MinRequests is the minimum number of observations in the window
	// before the failure rate is considered meaningful.
	MinRequests uint32 `yaml:"min_requests"`

	// FailureRateToTrip opens the breaker when the windowed failure rate
	// reaches this fraction.
	FailureRateToTrip float64 `yaml:"failure_rate_to_trip"`

	// OnStateChange is called on every transition.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// Counts holds the windowed request observations.
type Counts struct {
	Requests            uint32 `json:"requests"`
	TotalSuccesses      uint32 `json:"total_successes"`
	TotalFailures       uint32 `json:"total_failures"`
	ConsecutiveFailures uint32 `json:"consecutive_failures"`
}

// Breaker implements the circuit breaker pattern for a single pool.
type Breaker struct {
	name   string
	config Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time

	now func() time.Time
}

// New creates a breaker with defaults applied for zero config values.
func New(name string, config Config) *Breaker {
	if config.MaxProbes == 0 {
		config.MaxProbes = 1
	}
	if config.Interval <= 0 {
		config.Interval = 60 * time.Second
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 30 * time.Second
	}
	if config.MinRequests == 0 {
		config.MinRequests = 5
	}
	if config.FailureRateToTrip <= 0 {
		config.FailureRateToTrip = 0.5
	}

	b := &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
	b.expiry = b.now().Add(config.Interval)
	return b
}

// Allow reports whether a request may proceed. When the breaker is open it
// returns a CIRCUIT_OPEN error the caller surfaces as fail-fast.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.currentState(now)

	if state == StateOpen {
		return fperrors.NewError(fperrors.ErrCodeCircuitOpen, "circuit breaker is open").
			WithComponent("circuit").WithContext("breaker", b.name)
	}
	if state == StateHalfOpen && b.counts.Requests >= b.config.MaxProbes {
		return fperrors.NewError(fperrors.ErrCodeCircuitOpen, "half-open probe budget exhausted").
			WithComponent("circuit").WithContext("breaker", b.name)
	}

	b.counts.Requests++
	return nil
}

// RecordSuccess notes a successful request. A success in half-open state
// closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.currentState(now)

	b.counts.TotalSuccesses++
	b.counts.ConsecutiveFailures = 0

	if state == StateHalfOpen {
		b.setState(StateClosed, now)
	}
}

// RecordFailure notes a failed request, tripping the breaker when the
// windowed failure rate crosses the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	state := b.currentState(now)

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++

	switch state {
	case StateClosed:
		if b.readyToTrip() {
			b.setState(StateOpen, now)
		}
	case StateHalfOpen:
		b.setState(StateOpen, now)
	}
}

// Execute runs fn through the breaker, recording its outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// GetState returns the current state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(b.now())
}

// GetCounts returns a copy of the windowed counts.
func (b *Breaker) GetCounts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset returns the breaker to closed with cleared counts.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = Counts{}
	b.setState(StateClosed, b.now())
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

func (b *Breaker) readyToTrip() bool {
	if b.counts.Requests < b.config.MinRequests {
		return false
	}
	rate := float64(b.counts.TotalFailures) / float64(b.counts.Requests)
	return rate >= b.config.FailureRateToTrip
}

// currentState advances window expiry and open→half-open transitions.
// Caller holds mu.
func (b *Breaker) currentState(now time.Time) State {
	switch b.state {
	case StateClosed:
		if !b.expiry.IsZero() && b.expiry.Before(now) {
			b.counts = Counts{}
			b.expiry = now.Add(b.config.Interval)
		}
	case StateOpen:
		if b.expiry.Before(now) {
			b.setState(StateHalfOpen, now)
		}
	}
	return b.state
}

// setState transitions state and resets counts. Caller holds mu.
func (b *Breaker) setState(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts = Counts{}

	switch state {
	case StateClosed:
		b.expiry = now.Add(b.config.Interval)
	case StateOpen:
		b.expiry = now.Add(b.config.OpenTimeout)
	case StateHalfOpen:
		b.expiry = time.Time{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}
