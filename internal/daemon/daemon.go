// Package daemon enforces single-instance execution and runs the sync
// engine for the lifetime of the process.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tonearm/internal/logging"
	"tonearm/internal/services"
)

// Engine is the long-running work the daemon supervises.
type Engine interface {
	Run(ctx context.Context) error
}

// Daemon wraps an engine with a filesystem lock so two instances never sync
// the same library concurrently.
type Daemon struct {
	engine   Engine
	logger   *slog.Logger
	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// New constructs a daemon holding its lock at lockPath.
func New(engine Engine, lockPath string, logger *slog.Logger) (*Daemon, error) {
	if engine == nil {
		return nil, errors.New("daemon requires an engine")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Daemon{
		engine:   engine,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// LockPath returns the lock file location.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// Running reports whether the daemon currently holds the lock and is
// supervising the engine.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Run acquires the instance lock, runs the engine until the context is
// canceled, and releases the lock on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "start", "acquire instance lock", err)
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "daemon", "start",
			"another tonearm instance is already running", nil)
	}
	defer func() {
		if unlockErr := d.lock.Unlock(); unlockErr != nil {
			d.logger.Warn("failed to release instance lock", logging.Error(unlockErr))
		}
	}()

	d.running.Store(true)
	defer d.running.Store(false)

	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	err = d.engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error("engine stopped with error", logging.Error(err))
		return err
	}
	d.logger.Info("daemon stopped")
	return nil
}
