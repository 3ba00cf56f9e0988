package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestImportGate_AcquireRelease(t *testing.T) {
	gate := NewImportGate(2, time.Second)
	ctx := context.Background()

	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := gate.Acquire(ctx); err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}

	st := gate.Status()
	if st.Active != 2 || st.Available != 0 || st.MaxConcurrent != 2 {
		t.Errorf("Status = %+v", st)
	}

	gate.Release()
	gate.Release()
	if got := gate.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestImportGate_RejectsWhenFull(t *testing.T) {
	gate := NewImportGate(1, 50*time.Millisecond)
	if !gate.TryAcquire() {
		t.Fatal("TryAcquire on empty gate failed")
	}
	defer gate.Release()

	if gate.TryAcquire() {
		t.Error("TryAcquire on full gate succeeded")
	}

	start := time.Now()
	err := gate.Acquire(context.Background())
	if !errors.Is(err, ErrTooManyImports) {
		t.Errorf("Acquire err = %v, want ErrTooManyImports", err)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected to wait", elapsed)
	}
}

func TestImportGate_ContextCancelled(t *testing.T) {
	gate := NewImportGate(1, time.Minute)
	gate.TryAcquire()
	defer gate.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gate.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire err = %v, want context.Canceled", err)
	}
}

func TestImportGate_UnblocksWaiter(t *testing.T) {
	gate := NewImportGate(1, time.Second)
	gate.TryAcquire()

	done := make(chan error, 1)
	go func() { done <- gate.Acquire(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	if st := gate.Status(); st.Waiting != 1 || st.Available != 0 {
		t.Errorf("Status while queued = %+v, want 1 waiting and no slot available", st)
	}
	gate.Release()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("waiter err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired")
	}
	gate.Release()
}

func TestImportGate_WaitForDrain(t *testing.T) {
	gate := NewImportGate(0, 0)
	if gate.Status().MaxConcurrent != DefaultMaxConcurrentImports {
		t.Errorf("default MaxConcurrent = %d", gate.Status().MaxConcurrent)
	}

	gate.TryAcquire()
	go func() {
		time.Sleep(150 * time.Millisecond)
		gate.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := gate.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain err = %v", err)
	}
	if st := gate.Status(); st.Active != 0 || st.Waiting != 0 || st.Available != DefaultMaxConcurrentImports {
		t.Errorf("Status after drain = %+v", st)
	}
}

func TestImportGate_WaitForDrainTimesOut(t *testing.T) {
	gate := NewImportGate(1, time.Second)
	gate.TryAcquire()
	defer gate.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := gate.WaitForDrain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForDrain err = %v, want context.DeadlineExceeded", err)
	}
}
