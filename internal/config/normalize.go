package config

import (
	"strings"

	"tonearm/internal/pathmap"
)

// normalize expands and cleans path fields and fills per-output defaults.
// Runs after decoding and before validation.
func (c *Config) normalize() error {
	var err error

	if c.Source.Path, err = expandPath(pathmap.NFCPath(strings.TrimSpace(c.Source.Path))); err != nil {
		return err
	}
	if c.Paths.StateDir, err = expandPath(strings.TrimSpace(c.Paths.StateDir)); err != nil {
		return err
	}
	if dir := strings.TrimSpace(c.Logging.Directory); dir != "" {
		if c.Logging.Directory, err = expandPath(dir); err != nil {
			return err
		}
	}

	for i := range c.Outputs {
		out := &c.Outputs[i]
		out.Name = strings.TrimSpace(out.Name)
		out.Codec = strings.ToLower(strings.TrimSpace(out.Codec))
		out.Bitrate = strings.TrimSpace(out.Bitrate)
		if out.Bitrate == "" {
			out.Bitrate = pathmap.DefaultBitrate(out.Codec)
		}
		if out.Path, err = expandPath(pathmap.NFCPath(strings.TrimSpace(out.Path))); err != nil {
			return err
		}
	}

	return nil
}
