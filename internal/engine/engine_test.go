package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tonearm/internal/config"
	"tonearm/internal/engine"
	"tonearm/internal/index"
	"tonearm/internal/services"
	"tonearm/internal/testsupport"
	"tonearm/internal/transcode"
)

type fixture struct {
	cfg    *config.Config
	store  *index.Store
	runner *testsupport.Runner
	engine *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cfg:    testsupport.NewConfig(t),
		runner: &testsupport.Runner{},
	}

	store, err := index.Open(f.cfg.IndexPath())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	f.store = store
	f.engine = engine.New(f.cfg, store, nil, engine.WithRunner(f.runner))
	return f
}

func (f *fixture) outputPath(targetName, rel string) string {
	for _, out := range f.cfg.Outputs {
		if out.Name == targetName {
			return filepath.Join(out.Path, rel)
		}
	}
	return ""
}

func (f *fixture) outputExists(targetName, rel string) bool {
	_, err := os.Stat(f.outputPath(targetName, rel))
	return err == nil
}

func TestInitialSyncProducesAllOutputs(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")

	result, err := f.engine.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Encoded != 2 {
		t.Fatalf("expected 2 encodes, got %+v", result)
	}
	if !f.outputExists("alac", "a.m4a") || !f.outputExists("mp3", "a.mp3") {
		t.Fatal("outputs not produced")
	}

	// A second pass must be a no-op.
	result, err = f.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if result.Encoded != 0 || result.Deleted != 0 {
		t.Fatalf("second pass should be idempotent: %+v", result)
	}
}

func TestDeletedOutputsAreRebuilt(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")

	if _, err := f.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := os.Remove(f.outputPath("alac", "a.m4a")); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(f.outputPath("mp3", "a.mp3")); err != nil {
		t.Fatal(err)
	}

	result, err := f.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("repair pass: %v", err)
	}
	if result.Encoded != 2 {
		t.Fatalf("both outputs should be rebuilt: %+v", result)
	}
}

func TestRenameReplacesOutputsInOnePass(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")
	if _, err := f.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	oldPath := filepath.Join(f.cfg.Source.Path, "a.flac")
	newPath := filepath.Join(f.cfg.Source.Path, "b.flac")
	if err := os.Rename(oldPath, newPath); err != nil {
		t.Fatal(err)
	}

	result, err := f.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("rename pass: %v", err)
	}
	if result.Encoded != 2 || result.Deleted != 2 {
		t.Fatalf("rename should encode new and delete old: %+v", result)
	}
	if !f.outputExists("alac", "b.m4a") || !f.outputExists("mp3", "b.mp3") {
		t.Fatal("renamed outputs missing")
	}
	if f.outputExists("alac", "a.m4a") || f.outputExists("mp3", "a.mp3") {
		t.Fatal("stale outputs should be removed")
	}
}

func TestEmptySourceDoesNotWipeOutputs(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")
	if _, err := f.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Simulates an unmounted source volume: the tree reads empty.
	if err := os.Remove(filepath.Join(f.cfg.Source.Path, "a.flac")); err != nil {
		t.Fatal(err)
	}

	result, err := f.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if result.Deleted != 0 || result.Vetoed == 0 {
		t.Fatalf("deletes should be vetoed: %+v", result)
	}
	if !f.outputExists("alac", "a.m4a") || !f.outputExists("mp3", "a.mp3") {
		t.Fatal("outputs must survive an empty source read")
	}
}

func TestForceReencodeClearsIndexAndPurges(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")
	if _, err := f.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	firstRunCalls := f.runner.Count()

	f.cfg.Settings.ForceReencode = true
	forced := engine.New(f.cfg, f.store, nil, engine.WithRunner(f.runner))
	result, err := forced.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("forced sync: %v", err)
	}
	if result.Encoded != 2 {
		t.Fatalf("force re-encode should redo everything: %+v", result)
	}
	if f.runner.Count() != firstRunCalls+2 {
		t.Fatalf("expected 2 new encodes, got %d total", f.runner.Count())
	}
}

func TestBulkEncodeRefusedWhenDisallowed(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")
	f.cfg.Settings.AllowInitialBulkEncode = false

	cautious := engine.New(f.cfg, f.store, nil, engine.WithRunner(f.runner))
	_, err := cautious.SyncOnce(context.Background())
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration refusal, got %v", err)
	}
	if f.runner.Count() != 0 {
		t.Fatal("nothing should be encoded")
	}
}

func TestStaleTempsAreScrubbedBeforePlanning(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")
	stale := f.outputPath("alac", "a.m4a"+transcode.TempSuffix)
	if err := os.WriteFile(stale, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("stale temp should be removed at startup")
	}
}

func TestEncodeFailureDoesNotPoisonIndex(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")
	f.runner.Fail = map[string]error{
		f.outputPath("alac", "a.m4a"): services.Wrap(services.ErrValidation, "transcode", "encode", "corrupt input", nil),
	}

	result, err := f.engine.SyncOnce(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Failed != 1 || result.Encoded != 1 {
		t.Fatalf("one target should fail, the other succeed: %+v", result)
	}

	// The failed pair stays planned on the next pass.
	f.runner.Fail = nil
	result, err = f.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if result.Encoded != 1 {
		t.Fatalf("failed encode should be retried next pass: %+v", result)
	}
}

func TestUnreadableSourceSubtreeAbortsPass(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")
	testsupport.WriteSource(t, f.cfg, "Album/b.flac", "pcm")
	if _, err := f.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// A subdirectory that cannot be read must abort the pass: a partial
	// scan would present Album/b.flac as deleted and orphan its outputs.
	album := filepath.Join(f.cfg.Source.Path, "Album")
	if err := os.Chmod(album, 0o000); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(album, 0o755) })

	if _, err := f.engine.RunPass(context.Background()); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient pass failure, got %v", err)
	}
	if !f.outputExists("alac", "Album/b.m4a") || !f.outputExists("mp3", "Album/b.mp3") {
		t.Fatal("outputs must survive a failed source scan")
	}

	// Once the subtree is readable again the pass succeeds and changes
	// nothing.
	if err := os.Chmod(album, 0o755); err != nil {
		t.Fatal(err)
	}
	result, err := f.engine.RunPass(context.Background())
	if err != nil {
		t.Fatalf("recovery pass: %v", err)
	}
	if result.Encoded != 0 || result.Deleted != 0 {
		t.Fatalf("recovery pass should be a no-op: %+v", result)
	}
}

func TestSidecarsMirroredDuringPass(t *testing.T) {
	f := newFixture(t)
	testsupport.WriteSource(t, f.cfg, "a.flac", "pcm")
	testsupport.WriteSource(t, f.cfg, "a.lrc", "[00:01.00] words")

	if _, err := f.engine.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	for _, name := range []string{"alac", "mp3"} {
		data, err := os.ReadFile(f.outputPath(name, "a.lrc"))
		if err != nil || string(data) != "[00:01.00] words" {
			t.Fatalf("sidecar missing in %s: %q %v", name, data, err)
		}
	}
}
