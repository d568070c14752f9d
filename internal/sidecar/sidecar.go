// Package sidecar mirrors companion files (synced lyrics) alongside the
// audio outputs of every target tree.
package sidecar

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"tonearm/internal/fileutil"
	"tonearm/internal/logging"
	"tonearm/internal/pathmap"
	"tonearm/internal/services"
	"tonearm/internal/snapshot"
)

// Mirror copies sidecar files from the source tree into each output tree
// and removes copies whose source sidecar is gone. Copies preserve the
// source modification time so freshness checks stay cheap.
type Mirror struct {
	targets []pathmap.Target
	logger  *slog.Logger
}

func NewMirror(targets []pathmap.Target, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Mirror{targets: targets, logger: logger}
}

// Result tallies one mirroring pass.
type Result struct {
	Copied  int
	Removed int
}

// Sync brings every target tree's sidecars in line with the source
// snapshot. The snapshot must have been scanned with sidecar files kept.
func (m *Mirror) Sync(ctx context.Context, source *snapshot.Snapshot) (Result, error) {
	var result Result

	wanted := map[string]snapshot.Entry{}
	for _, rel := range source.Paths() {
		if !pathmap.IsSidecarPath(rel) {
			continue
		}
		entry, _ := source.Get(rel)
		wanted[rel] = entry
	}

	for rel, entry := range wanted {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		srcPath := filepath.Join(source.Root, rel)
		for _, target := range m.targets {
			dstPath := filepath.Join(target.Root, rel)
			fresh, err := isFresh(dstPath, entry)
			if err != nil {
				return result, services.Wrap(services.ErrTransient, "sidecar", "sync", "stat sidecar", err)
			}
			if fresh {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
				return result, services.Wrap(services.ErrTransient, "sidecar", "sync", "create directory", err)
			}
			if err := fileutil.CopyFilePreserveTimes(srcPath, dstPath); err != nil {
				return result, services.Wrap(services.ErrTransient, "sidecar", "sync", "copy sidecar", err)
			}
			result.Copied++
			m.logger.Debug("copied sidecar",
				logging.String(logging.FieldSource, rel),
				logging.String(logging.FieldTarget, target.Name))
		}
	}

	for _, target := range m.targets {
		removed, err := m.prune(ctx, target, wanted)
		result.Removed += removed
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

// prune removes sidecars in a target tree that no longer exist at the
// source.
func (m *Mirror) prune(ctx context.Context, target pathmap.Target, wanted map[string]snapshot.Entry) (int, error) {
	removed := 0
	err := filepath.WalkDir(target.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !pathmap.IsSidecarPath(path) {
			return nil
		}
		rel, relErr := filepath.Rel(target.Root, path)
		if relErr != nil {
			return relErr
		}
		rel = pathmap.NFCPath(filepath.ToSlash(rel))
		if _, ok := wanted[rel]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		m.logger.Debug("removed orphan sidecar",
			logging.String(logging.FieldTarget, target.Name),
			logging.String(logging.FieldOutput, rel))
		return nil
	})
	if err != nil && err != context.Canceled {
		return removed, services.Wrap(services.ErrTransient, "sidecar", "prune", "walk target tree", err)
	}
	return removed, err
}

// isFresh reports whether the destination exists with the same size and
// modification time as the source entry.
func isFresh(dstPath string, entry snapshot.Entry) (bool, error) {
	info, err := os.Stat(dstPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Size() == entry.Size && info.ModTime().Equal(entry.ModTime), nil
}
