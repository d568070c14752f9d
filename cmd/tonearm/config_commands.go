package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"tonearm/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Edit the file to point source and output paths at your library before running tonearm.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"Setting", "Value"})
			tw.AppendRow(table.Row{"source.path", cfg.Source.Path})
			for i, out := range cfg.Outputs {
				prefix := fmt.Sprintf("output[%d]", i)
				tw.AppendRow(table.Row{prefix + ".name", out.Name})
				tw.AppendRow(table.Row{prefix + ".codec", out.Codec})
				tw.AppendRow(table.Row{prefix + ".path", out.Path})
				if out.Bitrate != "" {
					tw.AppendRow(table.Row{prefix + ".bitrate", out.Bitrate})
				}
			}
			tw.AppendRow(table.Row{"settings.parallel_workers", cfg.Settings.ParallelWorkers})
			tw.AppendRow(table.Row{"settings.stability_timeout", cfg.Settings.StabilityTimeout})
			tw.AppendRow(table.Row{"settings.min_stable_seconds", cfg.Settings.MinStableSeconds})
			tw.AppendRow(table.Row{"settings.resync_interval", cfg.Settings.ResyncInterval})
			tw.AppendRow(table.Row{"settings.force_reencode", cfg.Settings.ForceReencode})
			tw.AppendRow(table.Row{"settings.allow_initial_bulk_encode", cfg.Settings.AllowInitialBulkEncode})
			tw.AppendRow(table.Row{"settings.fetch_lyrics", cfg.Settings.FetchLyrics})
			tw.AppendRow(table.Row{"logging.format", cfg.Logging.Format})
			tw.AppendRow(table.Row{"logging.level", cfg.Logging.Level})
			tw.AppendRow(table.Row{"paths.state_dir", cfg.Paths.StateDir})

			fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
			return nil
		},
	}
}
