package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tonearm/internal/daemon"
	"tonearm/internal/engine"
	"tonearm/internal/index"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the source library and keep output trees in sync",
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

			store, err := index.Open(cfg.IndexPath())
			if err != nil {
				return err
			}
			defer store.Close()

			eng := engine.New(cfg, store, logger)
			d, err := daemon.New(eng, cfg.LockPath(), logger)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return d.Run(runCtx)
		},
	}
}
