// Package testsupport provides shared fixtures for engine-level tests: a
// ready-to-use configuration rooted in a temp directory and a transcoder
// fake that leaves observable outputs behind.
package testsupport

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tonearm/internal/config"
	"tonearm/internal/transcode"
)

// NewConfig returns a validated configuration whose source, outputs and
// state directory all live under a fresh temp directory. With no outputs
// given, an alac and an mp3 target are configured.
func NewConfig(t *testing.T, outputs ...config.Output) *config.Config {
	t.Helper()
	base := t.TempDir()

	if len(outputs) == 0 {
		outputs = []config.Output{
			{Name: "alac", Codec: "alac"},
			{Name: "mp3", Codec: "mp3", Bitrate: "256k"},
		}
	}
	for i := range outputs {
		if outputs[i].Path == "" {
			outputs[i].Path = filepath.Join(base, outputs[i].Name)
		}
		if err := os.MkdirAll(outputs[i].Path, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.Source.Path = filepath.Join(base, "source")
	cfg.Outputs = outputs
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Settings.ParallelWorkers = 2
	cfg.Settings.MinStableSeconds = 1

	if err := os.MkdirAll(cfg.Source.Path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("fixture config invalid: %v", err)
	}
	return &cfg
}

// WriteSource creates a file under the configured source tree.
func WriteSource(t *testing.T, cfg *config.Config, rel, content string) {
	t.Helper()
	path := filepath.Join(cfg.Source.Path, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// Runner is a transcoder fake. It records every job and writes a marker
// file at the output path so later tree scans observe the encode.
type Runner struct {
	mu   sync.Mutex
	jobs []transcode.Job
	// Fail maps output paths to an error returned instead of encoding.
	Fail map[string]error
}

func (r *Runner) Encode(ctx context.Context, job transcode.Job) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	fail := r.Fail[job.OutputPath]
	r.mu.Unlock()
	if fail != nil {
		return fail
	}
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(job.OutputPath, []byte("encoded"), 0o644)
}

// Jobs returns a copy of the recorded jobs.
func (r *Runner) Jobs() []transcode.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transcode.Job(nil), r.jobs...)
}

// Count returns how many encode calls the runner has seen.
func (r *Runner) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
