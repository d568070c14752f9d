package stability_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"tonearm/internal/services"
	"tonearm/internal/stability"
)

func TestDebouncerCoalescesBursts(t *testing.T) {
	d := stability.NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger("a.flac", func() { fired.Add(1) })
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Allow any stragglers to fire before counting.
	time.Sleep(100 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Fatalf("expected exactly one firing, got %d", got)
	}
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	d := stability.NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var a, b atomic.Int32
	d.Trigger("a", func() { a.Add(1) })
	d.Trigger("b", func() { b.Add(1) })

	time.Sleep(200 * time.Millisecond)
	if a.Load() != 1 || b.Load() != 1 {
		t.Fatalf("expected both keys to fire once: a=%d b=%d", a.Load(), b.Load())
	}
}

func TestDebouncerCancel(t *testing.T) {
	d := stability.NewDebouncer(30 * time.Millisecond)
	defer d.Stop()

	var fired atomic.Int32
	d.Trigger("a", func() { fired.Add(1) })
	d.Cancel("a")

	time.Sleep(150 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatal("cancelled timer should not fire")
	}
}

func TestWaitForStableSettles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.flac")
	if err := os.WriteFile(path, []byte("settled"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	det := stability.Detector{
		MinStable:     30 * time.Millisecond,
		Timeout:       2 * time.Second,
		ProbeInterval: 10 * time.Millisecond,
	}
	if err := det.WaitForStable(context.Background(), path); err != nil {
		t.Fatalf("expected stable, got %v", err)
	}
}

func TestWaitForStableTimesOutOnGrowingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.flac")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return
		}
		defer f.Close()
		for {
			select {
			case <-stop:
				return
			case <-time.After(5 * time.Millisecond):
				_, _ = f.Write([]byte("grow"))
			}
		}
	}()
	defer func() { close(stop); <-done }()

	det := stability.Detector{
		MinStable:     100 * time.Millisecond,
		Timeout:       200 * time.Millisecond,
		ProbeInterval: 10 * time.Millisecond,
	}
	err := det.WaitForStable(context.Background(), path)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestWaitForStableMissingFile(t *testing.T) {
	det := stability.Detector{MinStable: 10 * time.Millisecond, Timeout: time.Second}
	err := det.WaitForStable(context.Background(), filepath.Join(t.TempDir(), "gone.flac"))
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestWaitForStableHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.flac")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	det := stability.Detector{
		MinStable:     time.Hour,
		Timeout:       time.Hour,
		ProbeInterval: 10 * time.Millisecond,
	}
	if err := det.WaitForStable(ctx, path); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
