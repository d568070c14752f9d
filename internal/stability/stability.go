// Package stability decides when a filesystem entry has stopped changing
// long enough to be safely read. Files arriving over slow or network-backed
// volumes produce long bursts of write events; acting on each one wastes
// encode work and risks reading a half-written file.
package stability

import (
	"context"
	"os"
	"sync"
	"time"

	"tonearm/internal/services"
)

// Debouncer coalesces bursts of change notifications per key. The callback
// fires only after the key has been quiet for the configured delay.
type Debouncer struct {
	delay  time.Duration
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewDebouncer creates a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{
		delay:  delay,
		timers: make(map[string]*time.Timer),
	}
}

// Trigger (re)starts the quiet-period timer for key. If another trigger for
// the same key arrives before the delay elapses, the timer resets.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timers == nil {
		return
	}
	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}
	d.timers[key] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops any pending timer for key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.timers[key]; ok {
		timer.Stop()
		delete(d.timers, key)
	}
}

// Stop cancels all pending timers. The debouncer is unusable afterwards.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, timer := range d.timers {
		timer.Stop()
	}
	d.timers = nil
}

// Detector probes a file's size until it stops changing.
type Detector struct {
	MinStable time.Duration
	Timeout   time.Duration
	// ProbeInterval overrides the 200ms default, for tests.
	ProbeInterval time.Duration
}

// WaitForStable blocks until path's size has been unchanged for MinStable.
// It returns nil once stable, a not-found error when the file disappears,
// and a timeout error when Timeout elapses first. A timeout is advisory:
// callers log it and attempt the file anyway rather than dropping it.
func (d Detector) WaitForStable(ctx context.Context, path string) error {
	probe := d.ProbeInterval
	if probe <= 0 {
		probe = 200 * time.Millisecond
	}

	info, err := os.Stat(path)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "stability", "stat", path, err)
	}
	lastSize := info.Size()
	lastChange := time.Now()
	deadline := time.Now().Add(d.Timeout)

	ticker := time.NewTicker(probe)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			return services.Wrap(services.ErrNotFound, "stability", "stat", path, err)
		}
		if size := info.Size(); size != lastSize {
			lastSize = size
			lastChange = time.Now()
		} else if time.Since(lastChange) >= d.MinStable {
			return nil
		}

		if time.Now().After(deadline) {
			return services.Wrap(services.ErrTimeout, "stability", "wait for stable", path, nil)
		}
	}
}
