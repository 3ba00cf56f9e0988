package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTooManyImports is returned when no import slot frees up in time.
var ErrTooManyImports = errors.New("too many imports in progress, please try again later")

const (
	// DefaultMaxConcurrentImports is the default number of parallel imports.
	DefaultMaxConcurrentImports = 4
	// DefaultImportWait is how long a request queues for a slot.
	DefaultImportWait = 30 * time.Second
)

// ImportGate admits whole synchronous imports. Item concurrency inside an
// import is bounded separately by its Limiter; the gate caps how many of
// those limiters run side by side against the pool.
type ImportGate struct {
	sem     *semaphore.Weighted
	slots   int
	maxWait time.Duration

	mu      sync.Mutex
	active  int
	waiting int
	idle    chan struct{} // closed while active == 0
}

// NewImportGate allows at most maxConcurrent imports. Non-positive values
// fall back to the defaults.
func NewImportGate(maxConcurrent int, maxWait time.Duration) *ImportGate {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentImports
	}
	if maxWait <= 0 {
		maxWait = DefaultImportWait
	}

	idle := make(chan struct{})
	close(idle)
	return &ImportGate{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		slots:   maxConcurrent,
		maxWait: maxWait,
		idle:    idle,
	}
}

// Acquire queues for a slot for at most the gate's wait time. It returns
// ctx's error when ctx ends first and ErrTooManyImports when the wait runs
// out. Every nil return must be paired with Release.
func (g *ImportGate) Acquire(ctx context.Context) error {
	if g.TryAcquire() {
		return nil
	}

	g.mu.Lock()
	g.waiting++
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.waiting--
		g.mu.Unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyImports
	}
	g.enter()
	return nil
}

// TryAcquire takes a slot only if one is free.
func (g *ImportGate) TryAcquire() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}
	g.enter()
	return true
}

func (g *ImportGate) enter() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active == 0 {
		g.idle = make(chan struct{})
	}
	g.active++
}

// Release returns a slot.
func (g *ImportGate) Release() {
	g.mu.Lock()
	g.active--
	if g.active == 0 {
		close(g.idle)
	}
	g.mu.Unlock()

	g.sem.Release(1)
}

// ActiveCount returns the number of imports holding a slot.
func (g *ImportGate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// WaitForDrain blocks until no import holds a slot or ctx ends.
func (g *ImportGate) WaitForDrain(ctx context.Context) error {
	g.mu.Lock()
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ImportGateStatus is a snapshot of the gate.
type ImportGateStatus struct {
	Active        int `json:"active"`
	Waiting       int `json:"waiting"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status reports slot usage for /api/status and metrics.
func (g *ImportGate) Status() ImportGateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ImportGateStatus{
		Active:        g.active,
		Waiting:       g.waiting,
		Available:     g.slots - g.active,
		MaxConcurrent: g.slots,
	}
}
