package verify

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"tonearm/internal/services"
)

// Prober reports the playback duration of a media file in seconds.
type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// seam for tests
var commandContext = exec.CommandContext

// FFprobe measures durations with the ffprobe binary.
type FFprobe struct {
	binary string
}

// NewFFprobe returns a prober using the given binary, defaulting to
// "ffprobe" on PATH.
func NewFFprobe(binary string) *FFprobe {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary}
}

func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	cmd := commandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"--", path)
	output, err := cmd.Output()
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "verify", "probe", "ffprobe duration", err)
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "verify", "probe",
			fmt.Sprintf("parse duration %q", strings.TrimSpace(string(output))), err)
	}
	return seconds, nil
}
