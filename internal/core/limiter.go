package core

// limiter.go implements the concurrency limiter used by every batch operation.
//
// Tasks are queued in submission order and admitted while fewer than the
// configured number are running. A finishing task, successful, failed or
// panicking, frees its slot and admits the next queued task. There is no
// per-task timeout: a task that never returns keeps its slot.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultConcurrency is the limit used when a non-positive value is given.
const DefaultConcurrency = 5

// PanicError is returned by Limit when the task panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task panicked: %v", e.Value)
}

// Limiter admits at most Concurrency tasks at a time in FIFO order.
// Each caller owns its limiter; limiters share nothing.
type Limiter struct {
	concurrency int

	mu     sync.Mutex
	active int
	queue  []func()
}

// NewLimiter creates a limiter that runs at most concurrency tasks at once.
func NewLimiter(concurrency int) *Limiter {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Limiter{concurrency: concurrency}
}

// Go queues fn and returns immediately. fn runs on its own goroutine once a
// slot is free. A panic in fn is logged and the slot is released.
func (l *Limiter) Go(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.next()
}

// next admits queued tasks while slots are free.
func (l *Limiter) next() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.active < l.concurrency && len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.active++
		go l.run(fn)
	}
}

func (l *Limiter) run(fn func()) {
	defer func() {
		l.mu.Lock()
		l.active--
		l.mu.Unlock()
		l.next()
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in limited task", "panic", r)
		}
	}()
	fn()
}

// Limit runs fn through the limiter and blocks until it settles, returning
// fn's result. A panic in fn is returned as a *PanicError.
func Limit[T any](l *Limiter, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)

	l.Go(func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o.err = &PanicError{Value: r}
			}
			done <- o
		}()
		o.value, o.err = fn()
	})

	o := <-done
	return o.value, o.err
}

// ActiveCount returns the number of running tasks.
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// PendingCount returns the number of queued tasks not yet admitted.
func (l *Limiter) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Concurrency returns the configured limit.
func (l *Limiter) Concurrency() int {
	return l.concurrency
}

// LimiterStatus is a snapshot of a limiter's state.
type LimiterStatus struct {
	Active      int `json:"active"`
	Pending     int `json:"pending"`
	Concurrency int `json:"concurrency"`
}

// Status returns the current limiter state for monitoring.
func (l *Limiter) Status() LimiterStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStatus{
		Active:      l.active,
		Pending:     len(l.queue),
		Concurrency: l.concurrency,
	}
}

// WaitForDrain blocks until no task is running or queued, or ctx is done.
// Used for graceful shutdown.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s := l.Status(); s.Active == 0 && s.Pending == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
