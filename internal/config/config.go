package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tonearm/internal/pathmap"
)

//go:embed sample_config.toml
var sampleConfig string

// Source identifies the authoritative tree of original audio files.
type Source struct {
	Path string `toml:"path"`
}

// Output describes one derived tree with its codec policy.
type Output struct {
	Name    string `toml:"name"`
	Codec   string `toml:"codec"`
	Path    string `toml:"path"`
	Bitrate string `toml:"bitrate"`
	// IncludeArtwork is a pointer so an absent key can default to true.
	IncludeArtwork *bool `toml:"include_artwork"`
}

// Settings contains engine behaviour knobs.
type Settings struct {
	ForceReencode          bool `toml:"force_reencode"`
	AllowInitialBulkEncode bool `toml:"allow_initial_bulk_encode"`
	ParallelWorkers        int  `toml:"parallel_workers"`
	StabilityTimeout       int  `toml:"stability_timeout"`
	MinStableSeconds       int  `toml:"min_stable_seconds"`
	ResyncInterval         int  `toml:"resync_interval"`
	FetchLyrics            bool `toml:"fetch_lyrics"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format    string `toml:"format"`
	Level     string `toml:"level"`
	Directory string `toml:"directory"`
}

// Paths contains process-owned state locations.
type Paths struct {
	StateDir string `toml:"state_dir"`
}

// Config encapsulates all configuration values for tonearm.
type Config struct {
	Source   Source   `toml:"source"`
	Outputs  []Output `toml:"output"`
	Settings Settings `toml:"settings"`
	Logging  Logging  `toml:"logging"`
	Paths    Paths    `toml:"paths"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/tonearm/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("tonearm.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// Output roots are created best-effort so the daemon can start while external
// storage is temporarily unavailable; the safety guard handles the rest.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Paths.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory %q: %w", c.Paths.StateDir, err)
	}
	if strings.TrimSpace(c.Logging.Directory) != "" {
		if err := os.MkdirAll(c.Logging.Directory, 0o755); err != nil {
			return fmt.Errorf("create log directory %q: %w", c.Logging.Directory, err)
		}
	}
	for _, out := range c.Outputs {
		_ = os.MkdirAll(out.Path, 0o755)
	}
	return nil
}

// Targets converts the configured outputs into path mapper targets.
func (c *Config) Targets() []pathmap.Target {
	targets := make([]pathmap.Target, 0, len(c.Outputs))
	for _, out := range c.Outputs {
		artwork := out.IncludeArtwork == nil || *out.IncludeArtwork
		targets = append(targets, pathmap.Target{
			Name:           out.Name,
			Codec:          strings.ToLower(out.Codec),
			Bitrate:        out.Bitrate,
			IncludeArtwork: artwork && pathmap.SupportsArtwork(out.Codec),
			Root:           out.Path,
		})
	}
	return targets
}

// IndexPath returns the completion index database location.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Paths.StateDir, "index.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "tonearm.lock")
}

// FFmpegBinary returns the transcoder executable name.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for verification.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// StabilityTimeoutDuration returns the maximum wait for a file to settle.
func (c *Config) StabilityTimeoutDuration() time.Duration {
	return time.Duration(c.Settings.StabilityTimeout) * time.Second
}

// MinStableDuration returns the quiet period required before a file is
// considered stable.
func (c *Config) MinStableDuration() time.Duration {
	return time.Duration(c.Settings.MinStableSeconds) * time.Second
}

// ResyncIntervalDuration returns the periodic full-pass interval, or zero
// when periodic re-sync is disabled.
func (c *Config) ResyncIntervalDuration() time.Duration {
	return time.Duration(c.Settings.ResyncInterval) * time.Second
}

// ExpandPath resolves ~ and relative segments to an absolute path.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
