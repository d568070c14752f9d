package daemon_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tonearm/internal/daemon"
	"tonearm/internal/services"
)

type blockingEngine struct {
	started chan struct{}
}

func (e *blockingEngine) Run(ctx context.Context) error {
	close(e.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestRunHoldsAndReleasesLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "tonearm.lock")
	eng := &blockingEngine{started: make(chan struct{})}
	d, err := daemon.New(eng, lockPath, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case <-eng.started:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never started")
	}
	if !d.Running() {
		t.Fatal("daemon should report running")
	}

	// A second instance against the same lock must be refused.
	second, err := daemon.New(&blockingEngine{started: make(chan struct{})}, lockPath, nil)
	if err != nil {
		t.Fatalf("new second: %v", err)
	}
	if err := second.Run(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected lock refusal, got %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancellation should be a clean stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never stopped")
	}
	if d.Running() {
		t.Fatal("daemon should report stopped")
	}

	// Lock released: a new instance can start.
	third, err := daemon.New(&blockingEngine{started: make(chan struct{})}, lockPath, nil)
	if err != nil {
		t.Fatalf("new third: %v", err)
	}
	thirdCtx, thirdCancel := context.WithCancel(context.Background())
	thirdDone := make(chan error, 1)
	go func() { thirdDone <- third.Run(thirdCtx) }()
	time.Sleep(100 * time.Millisecond)
	thirdCancel()
	if err := <-thirdDone; err != nil {
		t.Fatalf("third run: %v", err)
	}
}

func TestNewRequiresEngine(t *testing.T) {
	if _, err := daemon.New(nil, "/tmp/x.lock", nil); err == nil {
		t.Fatal("expected error for nil engine")
	}
}
