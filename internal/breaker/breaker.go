package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/23skdu/qkernels/internal/metrics"
)

// State of a Breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Do while the breaker refuses calls.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configures a Breaker.
type Settings struct {
	Name string
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before a trial call.
	Cooldown time.Duration
	// IsFailure decides whether an error counts against the breaker.
	// Defaults to every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called with the lock held; keep it short.
	OnStateChange func(name string, from, to State)
	// Now is the clock, for tests.
	Now func() time.Time
}

// Breaker stops calling a dependency after repeated failures and lets a
// single trial call through once the cooldown has passed.
type Breaker struct {
	s Settings

	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	trialActive bool
}

func New(s Settings) *Breaker {
	if s.Threshold <= 0 {
		s.Threshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.IsFailure == nil {
		s.IsFailure = func(err error) bool { return err != nil }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	b := &Breaker{s: s}
	metrics.CircuitBreakerState.WithLabelValues(s.Name).Set(float64(StateClosed))
	return b
}

func (b *Breaker) Name() string { return b.s.Name }

// State returns the current state, moving open to half-open once the
// cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current()
}

func (b *Breaker) current() State {
	if b.state == StateOpen && b.s.Now().Sub(b.openedAt) >= b.s.Cooldown {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.failures = 0
	b.trialActive = false
	if to == StateOpen {
		b.openedAt = b.s.Now()
	}
	metrics.CircuitBreakerState.WithLabelValues(b.s.Name).Set(float64(to))
	if b.s.OnStateChange != nil {
		b.s.OnStateChange(b.s.Name, from, to)
	}
}

// acquire reports whether a call may proceed.
func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.current() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.trialActive {
			return false
		}
		b.trialActive = true
	}
	return true
}

func (b *Breaker) record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		switch b.state {
		case StateHalfOpen:
			b.setState(StateOpen)
		case StateClosed:
			b.failures++
			if b.failures >= b.s.Threshold {
				b.setState(StateOpen)
			}
		}
		return
	}

	switch b.state {
	case StateHalfOpen:
		b.setState(StateClosed)
	case StateClosed:
		b.failures = 0
	}
}

// Do runs fn unless the breaker is open, in which case it returns ErrOpen.
// A panic in fn counts as a failure and is re-raised.
func (b *Breaker) Do(fn func() error) (err error) {
	if !b.acquire() {
		metrics.CircuitBreakerRejectionsTotal.WithLabelValues(b.s.Name).Inc()
		return ErrOpen
	}
	settled := false
	defer func() {
		if !settled {
			b.record(true)
		}
	}()
	err = fn()
	failed := b.s.IsFailure(err)
	settled = true
	b.record(failed)
	return err
}
