// Package engine orchestrates the sync lifecycle: an initial full pass over
// the library, then a watch loop that turns filesystem events into
// incremental passes, with a periodic full re-sync as a backstop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tonearm/internal/config"
	"tonearm/internal/dispatch"
	"tonearm/internal/index"
	"tonearm/internal/logging"
	"tonearm/internal/lyrics"
	"tonearm/internal/pathmap"
	"tonearm/internal/plan"
	"tonearm/internal/services"
	"tonearm/internal/sidecar"
	"tonearm/internal/snapshot"
	"tonearm/internal/stability"
	"tonearm/internal/transcode"
	"tonearm/internal/watch"
)

// Engine drives planning and dispatch for one configured library.
type Engine struct {
	cfg        *config.Config
	store      *index.Store
	base       *slog.Logger
	logger     *slog.Logger
	targets    []pathmap.Target
	runner     transcode.Runner
	dispatcher *dispatch.Dispatcher
	guard      *plan.Guard
	detector   stability.Detector
	debouncer  *stability.Debouncer
	mirror     *sidecar.Mirror
	fetcher    *lyrics.Fetcher

	mu      sync.Mutex
	pending map[string]watch.Kind
	syncCh  chan struct{}
}

// Option customizes engine construction.
type Option func(*Engine)

// WithRunner substitutes the transcoder, for tests.
func WithRunner(runner transcode.Runner) Option {
	return func(e *Engine) {
		if runner != nil {
			e.runner = runner
		}
	}
}

// WithLyricsClient substitutes the lyrics catalog client.
func WithLyricsClient(client *lyrics.Client) Option {
	return func(e *Engine) {
		if client != nil && e.cfg.Settings.FetchLyrics {
			e.fetcher = lyrics.NewFetcher(client, e.cfg.Source.Path, logging.NewComponentLogger(e.base, "lyrics"))
		}
	}
}

// New assembles an engine from configuration and an open completion index.
func New(cfg *config.Config, store *index.Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	targets := cfg.Targets()

	e := &Engine{
		cfg:     cfg,
		store:   store,
		base:    logger,
		logger:  logging.NewComponentLogger(logger, "engine"),
		targets: targets,
		runner:  transcode.NewEncoder(cfg.FFmpegBinary(), logging.NewComponentLogger(logger, "transcode")),
		guard:   plan.NewGuard(),
		detector: stability.Detector{
			MinStable: cfg.MinStableDuration(),
			Timeout:   cfg.StabilityTimeoutDuration(),
		},
		debouncer: stability.NewDebouncer(cfg.MinStableDuration()),
		mirror:    sidecar.NewMirror(targets, logging.NewComponentLogger(logger, "sidecar")),
		pending:   map[string]watch.Kind{},
		syncCh:    make(chan struct{}, 1),
	}
	if cfg.Settings.FetchLyrics {
		e.fetcher = lyrics.NewFetcher(lyrics.NewClient(), cfg.Source.Path, logging.NewComponentLogger(logger, "lyrics"))
	}
	for _, opt := range opts {
		opt(e)
	}
	e.dispatcher = dispatch.New(cfg.Settings.ParallelWorkers, e.runner, store,
		cfg.Source.Path, logging.NewComponentLogger(logger, "dispatch"))
	return e
}

// Initialize prepares state for syncing: directories, stale temp cleanup,
// force-reencode purge, and the first-run bulk encode check.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.cfg.EnsureDirectories(); err != nil {
		return err
	}

	for _, target := range e.targets {
		removed, err := transcode.ScrubTemps(target.Root, e.logger)
		if err != nil {
			return err
		}
		if removed > 0 {
			e.logger.Info("cleaned stale encode artifacts",
				logging.String(logging.FieldTarget, target.Name),
				logging.Int("count", removed))
		}
	}

	if e.cfg.Settings.ForceReencode {
		if err := e.purge(ctx); err != nil {
			return err
		}
	}

	return e.checkInitialBulkEncode(ctx)
}

// purge clears the completion index and removes existing output audio so the
// next pass re-encodes everything from scratch.
func (e *Engine) purge(ctx context.Context) error {
	cleared, err := e.store.Clear(ctx)
	if err != nil {
		return err
	}
	e.logger.Warn("force re-encode: cleared completion index", logging.Int64("records", cleared))

	source, err := e.scanSource()
	if err != nil {
		return err
	}
	outputs, err := e.scanOutputs()
	if err != nil {
		return err
	}
	decision := e.guard.Authorize(source, outputs)
	if decision.VetoAll {
		e.logger.Warn("force re-encode: purge vetoed",
			logging.String(logging.FieldReason, decision.Reason))
		return nil
	}

	for _, target := range e.targets {
		if decision.VetoedTargets[target.Name] {
			continue
		}
		out := outputs[target.Name]
		for _, rel := range out.Paths() {
			if !target.OwnsOutput(rel) {
				continue
			}
			path := filepath.Join(target.Root, filepath.FromSlash(rel))
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return services.Wrap(services.ErrTransient, "engine", "purge", "remove output", err)
			}
		}
		e.logger.Info("force re-encode: purged output tree",
			logging.String(logging.FieldTarget, target.Name))
	}
	return nil
}

// checkInitialBulkEncode refuses to mass-encode into brand-new empty output
// trees unless the configuration explicitly allows it. A mistyped output
// path looks exactly like a first run; the flag is the operator saying the
// empty tree is intentional.
func (e *Engine) checkInitialBulkEncode(ctx context.Context) error {
	if e.cfg.Settings.AllowInitialBulkEncode {
		return nil
	}
	source, err := e.scanSource()
	if err != nil {
		return err
	}
	if source.IsEmpty() {
		return nil
	}
	completions, err := e.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	for _, target := range e.targets {
		out, err := snapshot.Scan(target.Root, pathmap.IsAudioPath)
		if err != nil {
			return err
		}
		if !out.IsEmpty() {
			continue
		}
		known := false
		for key := range completions {
			if key.TargetName == target.Name {
				known = true
				break
			}
		}
		if !known {
			return services.Wrap(services.ErrConfiguration, "engine", "initial sync",
				fmt.Sprintf("output %q is empty and nothing has been encoded for it yet; set allow_initial_bulk_encode to proceed", target.Name), nil)
		}
	}
	return nil
}

// SyncOnce runs initialization plus a single full pass. Used by the sync
// command and by the daemon for its initial pass.
func (e *Engine) SyncOnce(ctx context.Context) (dispatch.Result, error) {
	if err := e.Initialize(ctx); err != nil {
		return dispatch.Result{}, err
	}
	return e.RunPass(ctx)
}

// Run performs the initial sync and then watches the source tree until the
// context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.SyncOnce(ctx); err != nil {
		return err
	}

	watcher, err := watch.New(e.cfg.Source.Path, logging.NewComponentLogger(e.base, "watch"))
	if err != nil {
		return err
	}
	watchDone := make(chan error, 1)
	go func() { watchDone <- watcher.Run(ctx) }()
	go e.consumeEvents(ctx, watcher)
	defer e.debouncer.Stop()

	var resyncC <-chan time.Time
	if interval := e.cfg.ResyncIntervalDuration(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		resyncC = ticker.C
	}

	e.logger.Info("watching source tree", logging.String("path", e.cfg.Source.Path))
	for {
		select {
		case <-ctx.Done():
			<-watchDone
			return nil
		case <-e.syncCh:
			e.handlePending(ctx)
		case <-resyncC:
			e.logger.Debug("periodic re-sync")
			if _, err := e.RunPass(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("periodic re-sync failed", logging.Error(err))
			}
		case err := <-watchDone:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}
	}
}

// consumeEvents funnels watcher events into the pending set. Any relevant
// event re-arms the quiet-period debouncer; the pass fires once the tree has
// settled.
func (e *Engine) consumeEvents(ctx context.Context, watcher *watch.Watcher) {
	for ev := range watcher.Events() {
		rel, ok := e.relevantPath(ev.Path)
		if !ok {
			continue
		}
		e.mu.Lock()
		e.pending[rel] = ev.Kind
		e.mu.Unlock()
		e.debouncer.Trigger("pass", func() {
			select {
			case e.syncCh <- struct{}{}:
			case <-ctx.Done():
			}
		})
	}
}

// relevantPath maps an absolute event path to a source-relative path worth
// reacting to. The extension filter only applies to paths that still exist
// as regular files: directory names may contain dots ("Vol.1"), and a
// removed path can no longer be classified, so both always trigger a pass.
func (e *Engine) relevantPath(path string) (string, bool) {
	rel, err := filepath.Rel(e.cfg.Source.Path, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = pathmap.NFCPath(filepath.ToSlash(rel))
	if transcode.IsTempPath(rel) {
		return "", false
	}
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return rel, true
		}
		if !pathmap.IsAudioPath(rel) && !pathmap.IsSidecarPath(rel) {
			return "", false
		}
	}
	return rel, true
}

// handlePending waits out stability on changed audio files and runs a pass.
func (e *Engine) handlePending(ctx context.Context) {
	e.mu.Lock()
	pending := e.pending
	e.pending = map[string]watch.Kind{}
	e.mu.Unlock()

	for rel, kind := range pending {
		if kind != watch.Changed || !pathmap.IsAudioPath(rel) {
			continue
		}
		path := filepath.Join(e.cfg.Source.Path, filepath.FromSlash(rel))
		if err := e.detector.WaitForStable(ctx, path); err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return
			case errors.Is(err, services.ErrTimeout):
				// Advisory: attempt the file anyway rather than dropping it.
				e.logger.Warn("file never settled; syncing anyway",
					logging.String(logging.FieldSource, rel))
			case errors.Is(err, services.ErrNotFound):
				// Deleted before it settled; the pass will treat it as gone.
			default:
				e.logger.Warn("stability wait failed",
					logging.String(logging.FieldSource, rel),
					logging.Error(err))
			}
		}
	}

	if _, err := e.RunPass(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("sync pass failed", logging.Error(err))
	}
}

// RunPass executes one full plan and dispatch cycle.
func (e *Engine) RunPass(ctx context.Context) (dispatch.Result, error) {
	passID := uuid.NewString()[:8]
	logger := e.logger.With(logging.String(logging.FieldPassID, passID))
	started := time.Now()

	if e.fetcher != nil {
		sidecars, err := snapshot.Scan(e.cfg.Source.Path, func(rel string) bool {
			return pathmap.IsAudioPath(rel) || pathmap.IsSidecarPath(rel)
		})
		if err != nil {
			logger.Warn("lyrics pass skipped", logging.Error(err))
		} else if _, err := e.fetcher.FillMissing(ctx, sidecars); err != nil && ctx.Err() == nil {
			logger.Warn("lyrics pass failed", logging.Error(err))
		}
	}

	// A failed scan aborts the pass before anything is planned: a partial
	// tree read would present surviving files as deleted.
	source, err := e.scanSource()
	if err != nil {
		return dispatch.Result{}, err
	}
	outputs, err := e.scanOutputs()
	if err != nil {
		return dispatch.Result{}, err
	}
	decision := e.guard.Authorize(source, outputs)
	if decision.Vetoed() {
		logger.Warn("deletes vetoed this pass",
			logging.String(logging.FieldReason, decision.Reason))
	}

	completions, err := e.store.Snapshot(ctx)
	if err != nil {
		return dispatch.Result{}, err
	}

	actions := plan.Build(plan.Input{
		Source:      source,
		Outputs:     outputs,
		Completions: completions,
		Targets:     e.targets,
	})

	result, err := e.dispatcher.Run(ctx, actions, decision)
	if err != nil {
		return result, err
	}

	if !decision.VetoAll {
		if err := e.pruneCompletions(ctx, source, completions); err != nil {
			return result, err
		}
		mirrorSource, err := snapshot.Scan(e.cfg.Source.Path, pathmap.IsSidecarPath)
		if err != nil {
			logger.Warn("sidecar mirroring skipped", logging.Error(err))
		} else if _, err := e.mirror.Sync(ctx, mirrorSource); err != nil && ctx.Err() == nil {
			logger.Warn("sidecar mirroring failed", logging.Error(err))
		}
	}

	summary := plan.Summarize(actions)
	logger.Info("sync pass complete",
		logging.Int("sources", source.Len()),
		logging.Int("encoded", result.Encoded),
		logging.Int("skipped", summary.Skips),
		logging.Int("deleted", result.Deleted),
		logging.Int("failed", result.Failed),
		logging.Int("vetoed", result.Vetoed),
		logging.Duration("elapsed", time.Since(started)))
	return result, ctx.Err()
}

// pruneCompletions drops index records whose source file no longer exists.
func (e *Engine) pruneCompletions(ctx context.Context, source *snapshot.Snapshot, completions map[index.Key]string) error {
	seen := map[string]bool{}
	for key := range completions {
		if seen[key.SourcePath] {
			continue
		}
		seen[key.SourcePath] = true
		if _, present := source.Get(key.SourcePath); present {
			continue
		}
		if err := e.store.DeleteSource(ctx, key.SourcePath); err != nil {
			return err
		}
		e.logger.Debug("pruned completions for removed source",
			logging.String(logging.FieldSource, key.SourcePath))
	}
	return nil
}

func (e *Engine) scanSource() (*snapshot.Snapshot, error) {
	return snapshot.Scan(e.cfg.Source.Path, pathmap.IsAudioPath)
}

func (e *Engine) scanOutputs() (map[string]*snapshot.Snapshot, error) {
	outputs := make(map[string]*snapshot.Snapshot, len(e.targets))
	for _, target := range e.targets {
		snap, err := snapshot.Scan(target.Root, pathmap.IsAudioPath)
		if err != nil {
			return nil, err
		}
		outputs[target.Name] = snap
	}
	return outputs, nil
}
