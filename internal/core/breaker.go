package core

// breaker.go guards calls to external services.
//
// A Breaker counts consecutive failures. Once FailureThreshold is reached it
// opens and rejects calls with ErrCircuitOpen until ResetTimeout has passed
// since the last failure. It then lets a single probe through (half-open):
// success closes the circuit, failure opens it again. Every call is bounded
// by RequestTimeout.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// BreakerState is the state of a circuit.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half-open"
)

// Breaker defaults.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
	DefaultRequestTimeout   = 5 * time.Second
)

// ErrCircuitOpen is matched by errors.Is for every rejection.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrRequestTimeout is wrapped by calls that exceed RequestTimeout.
var ErrRequestTimeout = errors.New("request timeout")

// CircuitOpenError reports a rejected call and when the next probe is allowed.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open. Retry after %dms", e.RetryAfter.Milliseconds())
}

// Is makes errors.Is(err, ErrCircuitOpen) true.
func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// BreakerOptions configures a Breaker. Zero values take the defaults.
type BreakerOptions struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	RequestTimeout   time.Duration

	// OnStateChange runs after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to BreakerState)

	// Now is the clock; tests replace it.
	Now func() time.Time
}

// Breaker is a circuit breaker. The zero value is not usable; call NewBreaker.
type Breaker struct {
	name string
	opts BreakerOptions

	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(name string, opts BreakerOptions) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.ResetTimeout <= 0 {
		opts.ResetTimeout = DefaultResetTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Breaker{name: name, opts: opts, state: StateClosed}
}

// Name returns the service name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// Execute runs fn through the breaker with a RequestTimeout deadline.
// fn should honor ctx; if it does not, Execute still returns at the deadline
// and the late result is discarded.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Value: r}
			}
		}()
		done <- fn(callCtx)
	}()

	var err error
	select {
	case err = <-done:
	case <-callCtx.Done():
		err = callCtx.Err()
	}

	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = Transient(KindNetwork, fmt.Errorf("%w after %dms", ErrRequestTimeout, b.opts.RequestTimeout.Milliseconds()))
	}

	b.record(err)
	return err
}

// allow decides whether a call may proceed, moving open to half-open when the
// reset timeout has passed.
func (b *Breaker) allow() error {
	b.mu.Lock()
	from := b.state

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil
	case StateOpen:
		remaining := b.remainingLocked()
		if remaining > 0 {
			b.mu.Unlock()
			return &CircuitOpenError{Name: b.name, RetryAfter: remaining}
		}
		b.state = StateHalfOpen
		b.probing = true
		b.mu.Unlock()
		b.notify(from, StateHalfOpen)
		return nil
	default: // half-open
		if b.probing {
			b.mu.Unlock()
			return &CircuitOpenError{Name: b.name}
		}
		b.probing = true
		b.mu.Unlock()
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	b.probing = false

	if err == nil {
		b.failures = 0
		b.state = StateClosed
	} else {
		b.failures++
		b.lastFailure = b.opts.Now()
		if from == StateHalfOpen || b.failures >= b.opts.FailureThreshold {
			b.state = StateOpen
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to BreakerState) {
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) remainingLocked() time.Duration {
	if b.state != StateOpen {
		return 0
	}
	return max(0, b.opts.ResetTimeout-b.opts.Now().Sub(b.lastFailure))
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// RemainingResetTime returns how long until an open circuit admits a probe.
// It is zero unless the circuit is open.
func (b *Breaker) RemainingResetTime() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remainingLocked()
}

// Reset closes the circuit and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()

	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// BreakerStatus is a snapshot for monitoring.
type BreakerStatus struct {
	Name             string       `json:"name"`
	State            BreakerState `json:"state"`
	Failures         int          `json:"failures"`
	RemainingResetMs int64        `json:"remainingResetMs"`
}

// Status returns a snapshot of the breaker.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{
		Name:             b.name,
		State:            b.state,
		Failures:         b.failures,
		RemainingResetMs: b.remainingLocked().Milliseconds(),
	}
}

// BreakerSet hands out one breaker per service name.
type BreakerSet struct {
	opts BreakerOptions

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerSet creates breakers on demand with opts.
func NewBreakerSet(opts BreakerOptions) *BreakerSet {
	return &BreakerSet{opts: opts, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (s *BreakerSet) Get(name string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[name]
	if !ok {
		b = NewBreaker(name, s.opts)
		s.breakers[name] = b
	}
	return b
}

// ResetAll closes every breaker.
func (s *BreakerSet) ResetAll() {
	s.mu.Lock()
	all := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		all = append(all, b)
	}
	s.mu.Unlock()

	for _, b := range all {
		b.Reset()
	}
}

// Status returns a snapshot of every breaker, sorted by name.
func (s *BreakerSet) Status() []BreakerStatus {
	s.mu.Lock()
	all := make([]*Breaker, 0, len(s.breakers))
	for _, b := range s.breakers {
		all = append(all, b)
	}
	s.mu.Unlock()

	out := make([]BreakerStatus, len(all))
	for i, b := range all {
		out[i] = b.Status()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
