// Package transcode runs ffmpeg to produce encoded outputs, writing through
// a temp file so a finished path is always a complete file.
package transcode

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"tonearm/internal/fileutil"
	"tonearm/internal/logging"
	"tonearm/internal/pathmap"
	"tonearm/internal/services"
)

// TempSuffix marks in-progress encode output. The suffix is deliberately not
// an audio extension so players and library scanners ignore partial files.
const TempSuffix = ".tmp__ff"

// seam for tests
var commandContext = exec.CommandContext

// Job describes one encode: an absolute source path transformed into an
// absolute output path for a target profile.
type Job struct {
	SourcePath string
	OutputPath string
	Target     pathmap.Target
	// Passthrough copies the source bytes unchanged instead of invoking
	// ffmpeg.
	Passthrough bool
}

// Runner executes encode jobs. Satisfied by Encoder; tests substitute fakes.
type Runner interface {
	Encode(ctx context.Context, job Job) error
}

// Encoder runs ffmpeg encode jobs.
type Encoder struct {
	binary string
	logger *slog.Logger
}

// NewEncoder returns an encoder using the given ffmpeg binary. An empty
// binary falls back to "ffmpeg" on PATH.
func NewEncoder(binary string, logger *slog.Logger) *Encoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Encoder{binary: binary, logger: logger}
}

// TempPath returns the in-progress path for an output path.
func TempPath(outputPath string) string {
	return outputPath + TempSuffix
}

// IsTempPath reports whether a path is an in-progress encode artifact.
func IsTempPath(path string) bool {
	return strings.HasSuffix(path, TempSuffix)
}

// Encode produces job.OutputPath. The result is written to a temp sibling
// and renamed into place, so observers never see a partial output. On any
// failure the temp file is removed and the previous output, if one existed,
// is left untouched.
func (e *Encoder) Encode(ctx context.Context, job Job) error {
	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, "transcode", "encode", "create output directory", err)
	}

	tempPath := TempPath(job.OutputPath)
	if err := e.produce(ctx, job, tempPath); err != nil {
		_ = fileutil.RemoveIfExists(tempPath)
		return err
	}
	if err := os.Rename(tempPath, job.OutputPath); err != nil {
		_ = fileutil.RemoveIfExists(tempPath)
		return services.Wrap(services.ErrTransient, "transcode", "encode", "publish output", err)
	}
	return nil
}

func (e *Encoder) produce(ctx context.Context, job Job, tempPath string) error {
	if job.Passthrough {
		if err := fileutil.CopyFile(job.SourcePath, tempPath); err != nil {
			return services.Wrap(services.ErrTransient, "transcode", "encode", "copy passthrough source", err)
		}
		return nil
	}

	withArtwork := job.Target.IncludeArtwork && pathmap.SupportsArtwork(job.Target.Codec)
	err := e.runFFmpeg(ctx, job, tempPath, withArtwork)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Embedded artwork streams ffmpeg cannot carry into the target container
	// fail the whole encode. Retry audio-only rather than losing the track.
	if withArtwork && isArtworkFailure(err) {
		e.logger.Warn("artwork mapping failed; retrying without artwork",
			logging.String(logging.FieldSource, job.SourcePath),
			logging.String(logging.FieldTarget, job.Target.Name),
			logging.Error(err))
		_ = fileutil.RemoveIfExists(tempPath)
		return e.runFFmpeg(ctx, job, tempPath, false)
	}
	return err
}

func (e *Encoder) runFFmpeg(ctx context.Context, job Job, tempPath string, withArtwork bool) error {
	args := buildArgs(job, tempPath, withArtwork)
	cmd := commandContext(ctx, e.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		wrapped := fmt.Errorf("%w: %s", err, detail)
		return services.Wrap(services.ErrExternalTool, "transcode", "encode", "ffmpeg", wrapped)
	}
	return nil
}

// buildArgs assembles the ffmpeg invocation for a job. The temp path has no
// meaningful extension, so the container format is always passed explicitly.
func buildArgs(job Job, tempPath string, withArtwork bool) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", job.SourcePath,
		"-map", "0:a:0",
	}
	if withArtwork {
		args = append(args, "-map", "0:v:0?", "-c:v", "copy", "-disposition:v:0", "attached_pic")
	}
	args = append(args, "-map_metadata", "0")
	args = append(args, codecArgs(job.Target)...)
	args = append(args, "-f", containerFormat(job.Target.Codec), tempPath)
	return args
}

func codecArgs(target pathmap.Target) []string {
	switch target.Codec {
	case "alac":
		return []string{"-c:a", "alac", "-movflags", "+faststart"}
	case "aac":
		return []string{"-c:a", "aac", "-b:a", target.Bitrate, "-movflags", "+faststart"}
	case "mp3":
		return []string{"-c:a", "libmp3lame", "-b:a", target.Bitrate, "-id3v2_version", "3"}
	case "opus":
		return []string{"-c:a", "libopus", "-b:a", target.Bitrate}
	case "flac":
		return []string{"-c:a", "flac"}
	case "wav":
		return []string{"-c:a", "pcm_s16le"}
	default:
		return []string{"-c:a", target.Codec}
	}
}

func containerFormat(codec string) string {
	switch codec {
	case "alac", "aac":
		return "ipod"
	case "mp3":
		return "mp3"
	case "opus":
		return "opus"
	case "flac":
		return "flac"
	case "wav":
		return "wav"
	default:
		return codec
	}
}

// Stderr fragments ffmpeg emits when an attached picture stream cannot be
// mapped or muxed into the requested container.
var artworkFailureHints = []string{
	"Cannot determine format of input stream",
	"Could not find tag for codec",
	"codec not currently supported in container",
	"Filtering and streamcopy cannot be used together",
	"Error selecting an encoder for stream",
}

func isArtworkFailure(err error) bool {
	msg := err.Error()
	for _, hint := range artworkFailureHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// ScrubTemps removes in-progress encode artifacts left behind by an
// interrupted run. Returns the number of files removed.
func ScrubTemps(root string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	removed := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !IsTempPath(path) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		logger.Info("removed stale encode artifact", logging.String("path", path))
		return nil
	})
	if err != nil {
		return removed, services.Wrap(services.ErrTransient, "transcode", "scrub", "remove stale artifacts", err)
	}
	return removed, nil
}
