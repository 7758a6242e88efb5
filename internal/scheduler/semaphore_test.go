package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestTryAcquireRespectsCapacity(t *testing.T) {
	s := NewSemaphore(2)
	if !s.TryAcquire() || !s.TryAcquire() {
		t.Fatal("expected first two acquires to succeed")
	}
	if s.TryAcquire() {
		t.Fatal("expected third acquire to fail at capacity")
	}
	if s.Available() != 0 {
		t.Fatalf("expected 0 available slots, got %d", s.Available())
	}
}

func TestReleaseFreesASlot(t *testing.T) {
	s := NewSemaphore(1)
	if !s.TryAcquire() {
		t.Fatal("expected acquire to succeed")
	}
	s.Release()
	if !s.TryAcquire() {
		t.Fatal("expected acquire to succeed again after release")
	}
}

func TestCapReportsConfiguredCapacity(t *testing.T) {
	s := NewSemaphore(5)
	if s.Cap() != 5 {
		t.Fatalf("expected cap 5, got %d", s.Cap())
	}
}

func TestNewSemaphoreClampsNonPositiveCapacity(t *testing.T) {
	s := NewSemaphore(0)
	if s.Cap() != 1 {
		t.Fatalf("expected capacity clamped to 1, got %d", s.Cap())
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		_ = s.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("expected second Acquire to block while slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	s.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("expected second Acquire to unblock after Release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	s := NewSemaphore(1)
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Acquire(ctx); err == nil {
		t.Fatal("expected Acquire to fail once context is canceled")
	}
}
