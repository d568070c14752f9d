// Package dispatch executes a planned pass: encodes run on a bounded worker
// pool, deletes run after every encode has settled.
package dispatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tonearm/internal/fileutil"
	"tonearm/internal/index"
	"tonearm/internal/logging"
	"tonearm/internal/plan"
	"tonearm/internal/services"
	"tonearm/internal/transcode"
)

const (
	maxEncodeAttempts = 3
	initialBackoff    = 500 * time.Millisecond
)

type jobKey struct {
	source string
	target string
}

// Dispatcher runs plan actions against the filesystem and records
// completions in the index.
type Dispatcher struct {
	workers    int
	runner     transcode.Runner
	store      *index.Store
	sourceRoot string
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight map[jobKey]struct{}
}

// New returns a dispatcher with the given parallelism. Workers below one are
// clamped to one.
func New(workers int, runner transcode.Runner, store *index.Store, sourceRoot string, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		workers:    workers,
		runner:     runner,
		store:      store,
		sourceRoot: sourceRoot,
		logger:     logger,
		inFlight:   map[jobKey]struct{}{},
	}
}

// Result tallies one executed pass.
type Result struct {
	Encoded   int
	Deleted   int
	Skipped   int
	Coalesced int
	Failed    int
	Vetoed    int
}

// Run executes the pass. Encode failures are logged and counted, not fatal;
// a canceled context aborts the pass and returns the context error. Deletes
// only run once all encodes have settled, and only when the guard decision
// permits them.
func (d *Dispatcher) Run(ctx context.Context, actions []plan.Action, decision plan.Decision) (Result, error) {
	var result Result
	var resultMu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.workers)

	for _, action := range actions {
		if action.Verb != plan.Encode {
			continue
		}
		action := action
		key := jobKey{source: action.Source.RelPath, target: action.Target.Name}
		if !d.claim(key) {
			resultMu.Lock()
			result.Coalesced++
			resultMu.Unlock()
			continue
		}
		group.Go(func() error {
			defer d.release(key)
			if groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			err := d.encode(groupCtx, action)
			resultMu.Lock()
			if err != nil {
				result.Failed++
			} else {
				result.Encoded++
			}
			resultMu.Unlock()
			if err != nil && groupCtx.Err() != nil {
				return groupCtx.Err()
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return result, err
	}

	for _, action := range actions {
		switch action.Verb {
		case plan.Skip:
			result.Skipped++
		case plan.Delete:
			if !decision.Allows(action) {
				result.Vetoed++
				d.logger.Warn("delete vetoed",
					logging.String(logging.FieldTarget, action.Target.Name),
					logging.String(logging.FieldOutput, action.OutputRel),
					logging.String(logging.FieldReason, decision.Reason))
				continue
			}
			if err := d.delete(ctx, action); err != nil {
				result.Failed++
				d.logger.Error("delete failed",
					logging.String(logging.FieldTarget, action.Target.Name),
					logging.String(logging.FieldOutput, action.OutputRel),
					logging.Error(err))
				continue
			}
			result.Deleted++
		}
	}

	return result, ctx.Err()
}

func (d *Dispatcher) claim(key jobKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[key]; busy {
		return false
	}
	d.inFlight[key] = struct{}{}
	return true
}

func (d *Dispatcher) release(key jobKey) {
	d.mu.Lock()
	delete(d.inFlight, key)
	d.mu.Unlock()
}

func (d *Dispatcher) encode(ctx context.Context, action plan.Action) error {
	job := transcode.Job{
		SourcePath:  filepath.Join(d.sourceRoot, action.Source.RelPath),
		OutputPath:  filepath.Join(action.Target.Root, action.OutputRel),
		Target:      action.Target,
		Passthrough: action.Passthrough,
	}

	var err error
	backoff := initialBackoff
	for attempt := 1; attempt <= maxEncodeAttempts; attempt++ {
		err = d.runner.Encode(ctx, job)
		if err == nil {
			break
		}
		if ctx.Err() != nil || !services.IsRetryable(err) || attempt == maxEncodeAttempts {
			break
		}
		d.logger.Warn("encode failed; retrying",
			logging.String(logging.FieldSource, action.Source.RelPath),
			logging.String(logging.FieldTarget, action.Target.Name),
			logging.Int(logging.FieldAttempt, attempt),
			logging.Error(err))
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff *= 2
	}
	if err != nil {
		d.logger.Error("encode failed",
			logging.String(logging.FieldSource, action.Source.RelPath),
			logging.String(logging.FieldTarget, action.Target.Name),
			logging.String(logging.FieldReason, action.Reason),
			logging.Error(err))
		return err
	}

	key := index.Key{SourcePath: action.Source.RelPath, TargetName: action.Target.Name}
	if err := d.store.Put(ctx, key, action.Source.ChangeToken()); err != nil {
		return err
	}

	d.logger.Info("encoded",
		logging.String(logging.FieldSource, action.Source.RelPath),
		logging.String(logging.FieldTarget, action.Target.Name),
		logging.String(logging.FieldOutput, action.OutputRel),
		logging.String(logging.FieldReason, action.Reason))
	return nil
}

// delete removes an orphaned output. Absence is success: a file already gone
// is the state we wanted.
func (d *Dispatcher) delete(ctx context.Context, action plan.Action) error {
	path := filepath.Join(action.Target.Root, action.OutputRel)
	if err := fileutil.RemoveIfExists(path); err != nil {
		return services.Wrap(services.ErrTransient, "dispatch", "delete", "remove orphan", err)
	}

	// A superseded passthrough copy has a live completion record keyed by
	// the mp3 source path; drop it so the copy is not considered current.
	if action.Reason == plan.ReasonRedundantLossyCp {
		key := index.Key{SourcePath: action.OutputRel, TargetName: action.Target.Name}
		if err := d.store.Delete(ctx, key); err != nil {
			return err
		}
	}

	d.logger.Info("removed orphan",
		logging.String(logging.FieldTarget, action.Target.Name),
		logging.String(logging.FieldOutput, action.OutputRel),
		logging.String(logging.FieldReason, action.Reason))
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
