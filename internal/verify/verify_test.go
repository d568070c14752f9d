package verify

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"tonearm/internal/pathmap"
)

type fakeProber struct {
	durations map[string]float64
}

func (f *fakeProber) Duration(ctx context.Context, path string) (float64, error) {
	if secs, ok := f.durations[filepath.Base(path)]; ok {
		return secs, nil
	}
	return 180, nil
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunFindsMissingAndExtra(t *testing.T) {
	sourceRoot := t.TempDir()
	outRoot := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "a.flac"))
	writeFile(t, filepath.Join(sourceRoot, "b.flac"))
	writeFile(t, filepath.Join(outRoot, "a.m4a"))
	writeFile(t, filepath.Join(outRoot, "stray.m4a"))

	v := &Verifier{
		SourceRoot: sourceRoot,
		Targets:    []pathmap.Target{{Name: "alac", Codec: "alac", Root: outRoot}},
	}
	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Clean() {
		t.Fatal("report should have findings")
	}

	target := report.Targets[0]
	if len(target.Missing) != 1 || target.Missing[0] != "b.m4a" {
		t.Fatalf("missing = %v", target.Missing)
	}
	if len(target.Extra) != 1 || target.Extra[0] != "stray.m4a" {
		t.Fatalf("extra = %v", target.Extra)
	}
}

func TestRunDetectsDurationDrift(t *testing.T) {
	sourceRoot := t.TempDir()
	outRoot := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "good.flac"))
	writeFile(t, filepath.Join(sourceRoot, "short.flac"))
	writeFile(t, filepath.Join(outRoot, "good.m4a"))
	writeFile(t, filepath.Join(outRoot, "short.m4a"))

	v := &Verifier{
		SourceRoot: sourceRoot,
		Targets:    []pathmap.Target{{Name: "alac", Codec: "alac", Root: outRoot}},
		Prober: &fakeProber{durations: map[string]float64{
			"good.flac":  180,
			"good.m4a":   180.4,
			"short.flac": 180,
			"short.m4a":  42,
		}},
		Workers: 2,
	}
	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	target := report.Targets[0]
	if target.Checked != 2 {
		t.Fatalf("expected 2 probed outputs, got %d", target.Checked)
	}
	if len(target.Drifted) != 1 {
		t.Fatalf("drifted = %+v", target.Drifted)
	}
	drift := target.Drifted[0]
	if drift.OutputRel != "short.m4a" || drift.OutputSecs != 42 {
		t.Fatalf("unexpected drift: %+v", drift)
	}
}

func TestRunCleanLibrary(t *testing.T) {
	sourceRoot := t.TempDir()
	outRoot := t.TempDir()
	writeFile(t, filepath.Join(sourceRoot, "Album", "a.flac"))
	writeFile(t, filepath.Join(outRoot, "Album", "a.m4a"))

	v := &Verifier{
		SourceRoot: sourceRoot,
		Targets:    []pathmap.Target{{Name: "alac", Codec: "alac", Root: outRoot}},
		Prober:     &fakeProber{},
	}
	report, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean report: %+v", report)
	}
}

func TestFFprobeSeam(t *testing.T) {
	var captured []string
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		captured = append([]string{name}, args...)
		return exec.CommandContext(ctx, "sh", "-c", "echo 123.456")
	}
	t.Cleanup(func() { commandContext = original })

	prober := NewFFprobe("")
	secs, err := prober.Duration(context.Background(), "/music/a.flac")
	if err != nil {
		t.Fatalf("duration: %v", err)
	}
	if secs != 123.456 {
		t.Fatalf("secs = %v", secs)
	}
	joined := strings.Join(captured, " ")
	if !strings.HasPrefix(joined, "ffprobe ") || !strings.Contains(joined, "format=duration") {
		t.Fatalf("unexpected invocation: %s", joined)
	}
}
