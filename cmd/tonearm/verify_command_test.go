package main

import (
	"strings"
	"testing"

	"tonearm/internal/verify"
)

func TestRenderReportListsFindings(t *testing.T) {
	report := verify.Report{Targets: []verify.TargetReport{
		{
			Name:    "alac",
			Missing: []string{"Album/a.m4a"},
			Drifted: []verify.Drift{{OutputRel: "Album/b.m4a", SourceSecs: 180.0, OutputSecs: 120.5}},
			Checked: 4,
		},
		{Name: "mp3", Extra: []string{"stray.mp3"}, Checked: 5},
	}}

	out := renderReport(report)
	for _, want := range []string{
		"Target", "Missing", "Extra", "Drifted", "Checked",
		"alac", "mp3",
		"Album/a.m4a", "stray.mp3",
		"Album/b.m4a", "180.0s vs 120.5s",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderReportCleanHasNoFindingsTable(t *testing.T) {
	report := verify.Report{Targets: []verify.TargetReport{{Name: "alac", Checked: 3}}}
	out := renderReport(report)
	if strings.Contains(out, "Finding") {
		t.Fatalf("clean report should render no findings table:\n%s", out)
	}
}
