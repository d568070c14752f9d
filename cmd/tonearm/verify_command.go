package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tonearm/internal/verify"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var probeDurations bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audit output trees against the source library",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}

			verifier := &verify.Verifier{
				SourceRoot: cfg.Source.Path,
				Targets:    cfg.Targets(),
				Workers:    cfg.Settings.ParallelWorkers,
				Logger:     logger,
			}
			if probeDurations {
				verifier.Prober = verify.NewFFprobe(cfg.FFprobeBinary())
			}

			verifyCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := verifier.Run(verifyCtx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderReport(report))
			if !report.Clean() {
				return fmt.Errorf("library is out of sync")
			}
			fmt.Fprintln(out, "library is in sync")
			return nil
		},
	}

	cmd.Flags().BoolVar(&probeDurations, "durations", false, "Compare playback durations with ffprobe")
	return cmd
}

func renderReport(report verify.Report) string {
	summary := table.NewWriter()
	summary.SetStyle(table.StyleRounded)
	summary.AppendHeader(table.Row{"Target", "Missing", "Extra", "Drifted", "Checked"})
	counts := make([]table.ColumnConfig, 0, 4)
	for col := 2; col <= 5; col++ {
		counts = append(counts, table.ColumnConfig{
			Number:      col,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	summary.SetColumnConfigs(counts)
	for _, target := range report.Targets {
		summary.AppendRow(table.Row{
			target.Name,
			len(target.Missing),
			len(target.Extra),
			len(target.Drifted),
			target.Checked,
		})
	}
	rendered := summary.Render() + "\n"

	findings := table.NewWriter()
	findings.SetStyle(table.StyleRounded)
	findings.AppendHeader(table.Row{"Target", "Finding", "Path", "Detail"})
	total := 0
	for _, target := range report.Targets {
		for _, rel := range target.Missing {
			findings.AppendRow(table.Row{target.Name, "missing", rel, ""})
			total++
		}
		for _, rel := range target.Extra {
			findings.AppendRow(table.Row{target.Name, "extra", rel, ""})
			total++
		}
		for _, drift := range target.Drifted {
			detail := fmt.Sprintf("%.1fs vs %.1fs", drift.SourceSecs, drift.OutputSecs)
			findings.AppendRow(table.Row{target.Name, "drift", drift.OutputRel, detail})
			total++
		}
	}
	if total > 0 {
		rendered += findings.Render() + "\n"
	}
	return rendered
}
