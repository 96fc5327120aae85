package waitlist

import (
	"context"
	"testing"
	"time"

	"pkt.systems/waitlist/internal/clock"
	"pkt.systems/waitlist/internal/storage/memory"
)

func TestWaitResolvesOnPromotion(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	uuid, _, err := svc.Manager.Create(ctx, CreateParams{ServerUUID: "s1", Scope: "vm", ID: "A", ExpiresAt: clk.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	resultCh := make(chan Status, 1)
	errCh := make(chan error, 1)
	go func() {
		status, err := svc.Wait(ctx, uuid)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- status
	}()

	// give the waiting goroutine a chance to register before sweeping.
	time.Sleep(10 * time.Millisecond)
	if err := svc.Director.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	select {
	case status := <-resultCh:
		if status != StatusActive {
			t.Fatalf("expected active, got %s", status)
		}
	case err := <-errCh:
		t.Fatalf("wait failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not resolve within T_sweep + margin")
	}
}

func TestWaitCancellationDoesNotDisturbSiblingWaiters(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	uuid, _, err := svc.Manager.Create(ctx, CreateParams{ServerUUID: "s1", Scope: "vm", ID: "A", ExpiresAt: clk.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	cancelErrCh := make(chan error, 1)
	go func() {
		_, err := svc.Wait(cancelCtx, uuid)
		cancelErrCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := <-cancelErrCh; err == nil {
		t.Fatal("expected cancellation error")
	}

	resultCh := make(chan Status, 1)
	go func() {
		status, err := svc.Wait(ctx, uuid)
		if err == nil {
			resultCh <- status
		}
	}()
	time.Sleep(10 * time.Millisecond)
	if err := svc.Director.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	select {
	case status := <-resultCh:
		if status != StatusActive {
			t.Fatalf("expected active, got %s", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("surviving waiter never resolved")
	}
}

func TestMonotonicStatusNeverLeavesTerminal(t *testing.T) {
	svc, clk := newTestService(t)
	ctx := context.Background()

	uuid, _, err := svc.Manager.Create(ctx, CreateParams{ServerUUID: "s1", Scope: "vm", ID: "A", ExpiresAt: clk.Now().Add(time.Second)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clk.Advance(2 * time.Second)
	if err := svc.Director.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got, _ := svc.Manager.Get(ctx, uuid)
	if got.Status != StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		if err := svc.Director.Sweep(ctx); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
		got, _ = svc.Manager.Get(ctx, uuid)
		if got.Status != StatusExpired {
			t.Fatalf("expired ticket transitioned out of terminal state to %s", got.Status)
		}
	}

	if err := svc.Manager.Release(ctx, uuid); err != nil {
		t.Fatalf("release on expired ticket should be a no-op success: %v", err)
	}
	got, _ = svc.Manager.Get(ctx, uuid)
	if got.Status != StatusExpired {
		t.Fatalf("release mutated a terminal ticket: %s", got.Status)
	}
}

func TestConcurrentDirectorsDoNotDoublePromote(t *testing.T) {
	store := memory.New()
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	registry := NewRegistry()
	dirA := NewDirector(store, clk, registry)
	dirB := NewDirector(store, clk, registry)
	manager := NewManager(store, clk, nil, dirA)
	ctx := context.Background()

	_, _, err := manager.Create(ctx, CreateParams{ServerUUID: "s1", Scope: "vm", ID: "A", ExpiresAt: clk.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("create t1: %v", err)
	}
	_, _, err = manager.Create(ctx, CreateParams{ServerUUID: "s1", Scope: "vm", ID: "A", ExpiresAt: clk.Now().Add(time.Minute)})
	if err != nil {
		t.Fatalf("create t2: %v", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- dirA.Sweep(ctx) }()
	go func() { errCh <- dirB.Sweep(ctx) }()
	if err := <-errCh; err != nil {
		t.Fatalf("sweep a: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("sweep b: %v", err)
	}

	tickets, err := manager.List(ctx, ListParams{ServerUUID: "s1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	activeCount := 0
	for _, tk := range tickets {
		if tk.Status == StatusActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Fatalf("expected exactly one active ticket across concurrent directors, got %d", activeCount)
	}
}
