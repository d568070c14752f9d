// Package verify audits output trees against the source library: missing
// outputs, files nothing maps to, and encodes whose playback duration
// drifted from the source.
package verify

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"tonearm/internal/logging"
	"tonearm/internal/pathmap"
	"tonearm/internal/plan"
	"tonearm/internal/snapshot"
)

// DefaultDriftTolerance is the allowed difference between source and output
// durations. Container padding and encoder priming add fractions of a
// second; whole seconds of drift mean a truncated encode.
const DefaultDriftTolerance = 2.0

// Drift is one output whose duration disagrees with its source.
type Drift struct {
	OutputRel     string
	SourceSecs    float64
	OutputSecs    float64
	SourceRelPath string
}

// TargetReport is the audit result for one output tree.
type TargetReport struct {
	Name    string
	Checked int
	Missing []string
	Extra   []string
	Drifted []Drift
}

// Clean reports whether the target tree had no findings.
func (r TargetReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.Drifted) == 0
}

// Report is a full library audit.
type Report struct {
	Targets []TargetReport
}

// Clean reports whether every target tree is consistent.
func (r Report) Clean() bool {
	for _, target := range r.Targets {
		if !target.Clean() {
			return false
		}
	}
	return true
}

// Verifier audits output trees. Duration probing is skipped when Prober is
// nil, leaving the structural missing/extra checks.
type Verifier struct {
	SourceRoot     string
	Targets        []pathmap.Target
	Prober         Prober
	Workers        int
	DriftTolerance float64
	Logger         *slog.Logger
}

type probeJob struct {
	targetIdx  int
	sourceRel  string
	outputRel  string
	sourcePath string
	outputPath string
}

// Run scans the source and every output tree and returns the audit report.
func (v *Verifier) Run(ctx context.Context) (Report, error) {
	logger := v.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	tolerance := v.DriftTolerance
	if tolerance <= 0 {
		tolerance = DefaultDriftTolerance
	}
	workers := v.Workers
	if workers < 1 {
		workers = 1
	}

	source, err := snapshot.Scan(v.SourceRoot, pathmap.IsAudioPath)
	if err != nil {
		return Report{}, err
	}
	outputs := map[string]*snapshot.Snapshot{}
	for _, target := range v.Targets {
		snap, err := snapshot.Scan(target.Root, pathmap.IsAudioPath)
		if err != nil {
			return Report{}, err
		}
		outputs[target.Name] = snap
	}

	// Planning with an empty completion index classifies every output:
	// missing outputs surface as encodes with the missing reason, present
	// ones as changed, and unmapped files as deletes.
	actions := plan.Build(plan.Input{
		Source:  source,
		Outputs: outputs,
		Targets: v.Targets,
	})

	report := Report{Targets: make([]TargetReport, len(v.Targets))}
	targetIdx := map[string]int{}
	for i, target := range v.Targets {
		report.Targets[i] = TargetReport{Name: target.Name}
		targetIdx[target.Name] = i
	}

	var jobs []probeJob
	for _, action := range actions {
		idx, ok := targetIdx[action.Target.Name]
		if !ok {
			continue
		}
		switch {
		case action.Verb == plan.Encode && action.Reason == plan.ReasonMissing:
			report.Targets[idx].Missing = append(report.Targets[idx].Missing, action.OutputRel)
		case action.Verb == plan.Encode:
			report.Targets[idx].Checked++
			jobs = append(jobs, probeJob{
				targetIdx:  idx,
				sourceRel:  action.Source.RelPath,
				outputRel:  action.OutputRel,
				sourcePath: filepath.Join(v.SourceRoot, action.Source.RelPath),
				outputPath: filepath.Join(action.Target.Root, action.OutputRel),
			})
		case action.Verb == plan.Delete:
			report.Targets[idx].Extra = append(report.Targets[idx].Extra, action.OutputRel)
		}
	}

	if v.Prober != nil && len(jobs) > 0 {
		var mu sync.Mutex
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(workers)
		for _, job := range jobs {
			job := job
			group.Go(func() error {
				sourceSecs, err := v.Prober.Duration(groupCtx, job.sourcePath)
				if err != nil {
					logger.Warn("probe source failed",
						logging.String(logging.FieldSource, job.sourceRel),
						logging.Error(err))
					return nil
				}
				outputSecs, err := v.Prober.Duration(groupCtx, job.outputPath)
				if err != nil {
					logger.Warn("probe output failed",
						logging.String(logging.FieldOutput, job.outputRel),
						logging.Error(err))
					return nil
				}
				if math.Abs(sourceSecs-outputSecs) <= tolerance {
					return nil
				}
				mu.Lock()
				report.Targets[job.targetIdx].Drifted = append(report.Targets[job.targetIdx].Drifted, Drift{
					OutputRel:     job.outputRel,
					SourceSecs:    sourceSecs,
					OutputSecs:    outputSecs,
					SourceRelPath: job.sourceRel,
				})
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return report, err
		}
	}

	for i := range report.Targets {
		sort.Strings(report.Targets[i].Missing)
		sort.Strings(report.Targets[i].Extra)
		sort.Slice(report.Targets[i].Drifted, func(a, b int) bool {
			return report.Targets[i].Drifted[a].OutputRel < report.Targets[i].Drifted[b].OutputRel
		})
	}

	return report, ctx.Err()
}
