package sidecar_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tonearm/internal/pathmap"
	"tonearm/internal/sidecar"
	"tonearm/internal/snapshot"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func scanSidecars(t *testing.T, root string) *snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.Scan(root, pathmap.IsSidecarPath)
	if err != nil {
		t.Fatalf("scan %s: %v", root, err)
	}
	return snap
}

func TestSyncCopiesSidecarsToEveryTarget(t *testing.T) {
	sourceRoot := t.TempDir()
	alacRoot := t.TempDir()
	mp3Root := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "Album", "a.lrc"), "[00:01.00] hello")

	targets := []pathmap.Target{
		{Name: "alac", Codec: "alac", Root: alacRoot},
		{Name: "mp3", Codec: "mp3", Bitrate: "256k", Root: mp3Root},
	}
	mirror := sidecar.NewMirror(targets, nil)
	source := scanSidecars(t, sourceRoot)

	result, err := mirror.Sync(context.Background(), source)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Copied != 2 {
		t.Fatalf("expected 2 copies, got %+v", result)
	}
	for _, root := range []string{alacRoot, mp3Root} {
		data, err := os.ReadFile(filepath.Join(root, "Album", "a.lrc"))
		if err != nil || string(data) != "[00:01.00] hello" {
			t.Fatalf("sidecar missing in %s: %q %v", root, data, err)
		}
	}
}

func TestSyncSkipsFreshCopies(t *testing.T) {
	sourceRoot := t.TempDir()
	outRoot := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "a.lrc"), "lyrics")

	targets := []pathmap.Target{{Name: "alac", Codec: "alac", Root: outRoot}}
	mirror := sidecar.NewMirror(targets, nil)
	source := scanSidecars(t, sourceRoot)

	if _, err := mirror.Sync(context.Background(), source); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	result, err := mirror.Sync(context.Background(), source)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.Copied != 0 {
		t.Fatalf("fresh copy should not be rewritten: %+v", result)
	}
}

func TestSyncRecopiesUpdatedSidecar(t *testing.T) {
	sourceRoot := t.TempDir()
	outRoot := t.TempDir()
	srcPath := filepath.Join(sourceRoot, "a.lrc")
	writeFile(t, srcPath, "v1")

	targets := []pathmap.Target{{Name: "alac", Codec: "alac", Root: outRoot}}
	mirror := sidecar.NewMirror(targets, nil)

	if _, err := mirror.Sync(context.Background(), scanSidecars(t, sourceRoot)); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	writeFile(t, srcPath, "v2 with more lines")
	result, err := mirror.Sync(context.Background(), scanSidecars(t, sourceRoot))
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if result.Copied != 1 {
		t.Fatalf("updated sidecar should be recopied: %+v", result)
	}
	data, err := os.ReadFile(filepath.Join(outRoot, "a.lrc"))
	if err != nil || string(data) != "v2 with more lines" {
		t.Fatalf("stale copy: %q %v", data, err)
	}
}

func TestSyncPrunesOrphanSidecars(t *testing.T) {
	sourceRoot := t.TempDir()
	outRoot := t.TempDir()
	writeFile(t, filepath.Join(outRoot, "gone.lrc"), "stale")
	writeFile(t, filepath.Join(outRoot, "track.m4a"), "audio")

	targets := []pathmap.Target{{Name: "alac", Codec: "alac", Root: outRoot}}
	mirror := sidecar.NewMirror(targets, nil)

	result, err := mirror.Sync(context.Background(), scanSidecars(t, sourceRoot))
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected orphan removal, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(outRoot, "gone.lrc")); !os.IsNotExist(err) {
		t.Fatal("orphan sidecar should be removed")
	}
	if _, err := os.Stat(filepath.Join(outRoot, "track.m4a")); err != nil {
		t.Fatalf("audio output must survive pruning: %v", err)
	}
}
