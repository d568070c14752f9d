// Package snapshot produces consistent point-in-time views of directory
// trees. A snapshot is an ordered mapping from NFC-normalized relative path
// to file metadata; the planner diffs a source snapshot against output
// snapshots to decide what to encode and what to remove.
package snapshot

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"tonearm/internal/pathmap"
	"tonearm/internal/services"
)

// Entry captures one observed file.
type Entry struct {
	RelPath string
	Size    int64
	ModTime time.Time
}

// ChangeToken returns the opaque comparison key recorded in the completion
// index. Two observations with equal tokens are treated as the same content.
func (e Entry) ChangeToken() string {
	return strconv.FormatInt(e.ModTime.UnixNano(), 10) + ":" + strconv.FormatInt(e.Size, 10)
}

// Snapshot is one consistent read of a tree.
type Snapshot struct {
	Root    string
	Entries map[string]Entry
}

// Scan walks root and records every regular file accepted by keep, keyed by
// slash-separated NFC relative path. Hidden files and directories are
// skipped. A missing root yields an empty snapshot rather than an error: the
// safety guard decides whether emptiness is trustworthy. Any other read
// failure aborts the scan, because a partial snapshot is indistinguishable
// from real deletions and would be planned as such.
func Scan(root string, keep func(rel string) bool) (*Snapshot, error) {
	snap := &Snapshot{Root: root, Entries: map[string]Entry{}}

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			// Entries deleted mid-walk are simply gone, not a failure.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = pathmap.NFCPath(filepath.ToSlash(rel))
		if keep != nil && !keep(rel) {
			return nil
		}
		snap.Entries[rel] = Entry{RelPath: rel, Size: info.Size(), ModTime: info.ModTime()}
		return nil
	})
	if walkErr != nil {
		return nil, services.Wrap(services.ErrTransient, "snapshot", "scan", "walk "+root, walkErr)
	}

	return snap, nil
}

// ScanEntry stats a single file under root and returns its entry, or false
// when the file is gone or filtered out.
func ScanEntry(root, rel string, keep func(rel string) bool) (Entry, bool) {
	rel = pathmap.NFCPath(filepath.ToSlash(rel))
	if keep != nil && !keep(rel) {
		return Entry{}, false
	}
	info, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil || info.IsDir() {
		return Entry{}, false
	}
	return Entry{RelPath: rel, Size: info.Size(), ModTime: info.ModTime()}, true
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// IsEmpty reports whether the snapshot observed no files at all.
func (s *Snapshot) IsEmpty() bool {
	return s.Len() == 0
}

// Paths returns entry paths in sorted order for deterministic planning.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, s.Len())
	for rel := range s.Entries {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths
}

// Get looks up an entry by relative path.
func (s *Snapshot) Get(rel string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}
	entry, ok := s.Entries[rel]
	return entry, ok
}

// Stems returns the set of stem paths present in the snapshot.
func (s *Snapshot) Stems() map[string]struct{} {
	stems := make(map[string]struct{}, s.Len())
	for rel := range s.Entries {
		stems[pathmap.StemPath(rel)] = struct{}{}
	}
	return stems
}

// LosslessStems returns the set of stem paths backed by a lossless source.
// Used to decide whether a passthrough mp3 copy is redundant.
func (s *Snapshot) LosslessStems() map[string]struct{} {
	stems := map[string]struct{}{}
	for rel := range s.Entries {
		if pathmap.IsLosslessPath(rel) {
			stems[pathmap.StemPath(rel)] = struct{}{}
		}
	}
	return stems
}
