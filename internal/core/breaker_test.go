package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errUpstream = errors.New("upstream 502")

func fail(context.Context) error    { return errUpstream }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAtThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("17track", BreakerOptions{FailureThreshold: 3, ResetTimeout: 30 * time.Second, Now: clock.Now})

	for i := 0; i < 3; i++ {
		if err := b.Execute(context.Background(), fail); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d err = %v, want upstream error", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("State = %s, want open", b.State())
	}

	called := false
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	if called {
		t.Error("open breaker let a call through")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if err.Error() != "circuit breaker is open. Retry after 30000ms" {
		t.Errorf("err = %q", err.Error())
	}

	clock.Advance(10 * time.Second)
	if got := b.RemainingResetTime(); got != 20*time.Second {
		t.Errorf("RemainingResetTime = %v, want 20s", got)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	var transitions []BreakerState
	b := NewBreaker("17track", BreakerOptions{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		Now:              clock.Now,
		OnStateChange: func(_ string, _, to BreakerState) {
			transitions = append(transitions, to)
		},
	})

	_ = b.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	// Failed probe reopens.
	_ = b.Execute(context.Background(), fail)
	if b.State() != StateOpen {
		t.Fatalf("State after failed probe = %s, want open", b.State())
	}

	clock.Advance(time.Second)
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Errorf("after probe: state %s failures %d", b.State(), b.Failures())
	}

	want := []BreakerState{StateOpen, StateHalfOpen, StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transitions[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_SingleProbeInHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	b := NewBreaker("svc", BreakerOptions{FailureThreshold: 1, ResetTimeout: time.Second, Now: clock.Now})
	_ = b.Execute(context.Background(), fail)
	clock.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(context.Background(), succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestBreaker_RequestTimeout(t *testing.T) {
	b := NewBreaker("slow", BreakerOptions{RequestTimeout: 20 * time.Millisecond})

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("err = %v, want ErrRequestTimeout", err)
	}
	if !IsRetryable(err, nil) {
		t.Error("request timeout should be retryable")
	}
	if b.Failures() != 1 {
		t.Errorf("Failures = %d, want 1", b.Failures())
	}
}

func TestBreaker_ParentCancelNotConvertedToTimeout(t *testing.T) {
	b := NewBreaker("svc", BreakerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("svc", BreakerOptions{FailureThreshold: 3})
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), succeed)
	if b.Failures() != 0 || b.State() != StateClosed {
		t.Errorf("failures %d state %s", b.Failures(), b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("svc", BreakerOptions{FailureThreshold: 1})
	_ = b.Execute(context.Background(), fail)
	b.Reset()
	if b.State() != StateClosed || b.RemainingResetTime() != 0 {
		t.Errorf("after Reset: %+v", b.Status())
	}
}

func TestBreakerSet(t *testing.T) {
	set := NewBreakerSet(BreakerOptions{FailureThreshold: 1})
	a := set.Get("b-service")
	if set.Get("b-service") != a {
		t.Error("Get should return the same breaker for a name")
	}
	_ = set.Get("a-service").Execute(context.Background(), fail)

	st := set.Status()
	if len(st) != 2 || st[0].Name != "a-service" || st[0].State != StateOpen {
		t.Errorf("Status = %+v", st)
	}

	set.ResetAll()
	if set.Get("a-service").State() != StateClosed {
		t.Error("ResetAll did not close a-service")
	}
}
