package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"tonearm/internal/pathmap"
)

// Validate ensures the configuration is usable. Errors here are fatal at
// startup; nothing watches or encodes with a broken config.
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateOutputs(); err != nil {
		return err
	}
	return c.validateSettings()
}

func (c *Config) validateSource() error {
	if strings.TrimSpace(c.Source.Path) == "" {
		return errors.New("source.path is required")
	}
	return nil
}

func (c *Config) validateOutputs() error {
	if len(c.Outputs) == 0 {
		return errors.New("at least one [[output]] is required")
	}

	names := map[string]struct{}{}
	paths := map[string]struct{}{}
	for _, out := range c.Outputs {
		if out.Name == "" {
			return errors.New("output.name must be set")
		}
		if _, dup := names[out.Name]; dup {
			return fmt.Errorf("duplicate output name %q", out.Name)
		}
		names[out.Name] = struct{}{}

		if _, ok := pathmap.Extension(out.Codec); !ok {
			supported := pathmap.Codecs()
			sort.Strings(supported)
			return fmt.Errorf("output %q: unknown codec %q (supported: %s)",
				out.Name, out.Codec, strings.Join(supported, ", "))
		}

		if out.Path == "" {
			return fmt.Errorf("output %q: path must be set", out.Name)
		}
		if _, dup := paths[out.Path]; dup {
			return fmt.Errorf("duplicate output path %q", out.Path)
		}
		paths[out.Path] = struct{}{}

		if out.Path == c.Source.Path {
			return fmt.Errorf("output %q: path must differ from source.path", out.Name)
		}

		if !pathmap.IsLosslessCodec(out.Codec) && out.Bitrate == "" {
			return fmt.Errorf("output %q: bitrate required for lossy codec %q", out.Name, out.Codec)
		}
	}
	return nil
}

func (c *Config) validateSettings() error {
	if c.Settings.ParallelWorkers < 1 {
		return errors.New("settings.parallel_workers must be >= 1")
	}
	if c.Settings.StabilityTimeout <= 0 {
		return errors.New("settings.stability_timeout must be positive (seconds)")
	}
	if c.Settings.MinStableSeconds <= 0 {
		return errors.New("settings.min_stable_seconds must be positive (seconds)")
	}
	if c.Settings.MinStableSeconds >= c.Settings.StabilityTimeout {
		return errors.New("settings.stability_timeout must be greater than settings.min_stable_seconds")
	}
	if c.Settings.ResyncInterval < 0 {
		return errors.New("settings.resync_interval must be >= 0 (0 disables periodic re-sync)")
	}
	return nil
}
