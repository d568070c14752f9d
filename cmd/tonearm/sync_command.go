package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tonearm/internal/engine"
	"tonearm/internal/index"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full sync pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			if force {
				cfg.Settings.ForceReencode = true
			}

			store, err := index.Open(cfg.IndexPath())
			if err != nil {
				return err
			}
			defer store.Close()

			syncCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			eng := engine.New(cfg, store, logger)
			result, err := eng.SyncOnce(syncCtx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "encoded %d, deleted %d, skipped %d, failed %d\n",
				result.Encoded, result.Deleted, result.Skipped, result.Failed)
			if result.Failed > 0 {
				return fmt.Errorf("%d file(s) failed to encode", result.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Clear the completion index and re-encode everything")
	return cmd
}
