// Package plan diffs source and output snapshots into an ordered list of
// sync actions, and guards bulk deletions against anomalously empty trees.
package plan

import (
	"sort"

	"tonearm/internal/index"
	"tonearm/internal/pathmap"
	"tonearm/internal/snapshot"
)

// Verb is the kind of action the dispatcher should take.
type Verb string

const (
	Encode Verb = "encode"
	Skip   Verb = "skip"
	Delete Verb = "delete"
)

// Reasons recorded on actions.
const (
	ReasonMissing          = "missing"
	ReasonChanged          = "changed"
	ReasonUpToDate         = "up to date"
	ReasonOrphan           = "orphan"
	ReasonLosslessSibling  = "lossless source exists"
	ReasonRedundantLossyCp = "passthrough copy superseded by lossless source"
)

// Action is one planner decision. Produced transiently per pass and consumed
// once by the dispatcher; never persisted.
type Action struct {
	Verb      Verb
	Source    snapshot.Entry
	Target    pathmap.Target
	OutputRel string
	Reason    string
	// Passthrough marks an mp3 copied unchanged into a lossless tree
	// instead of transcoded.
	Passthrough bool
}

// Input gathers everything one planning pass needs. All snapshots must be
// taken close enough in time that a file is not counted as both present and
// absent within the pass.
type Input struct {
	Source      *snapshot.Snapshot
	Outputs     map[string]*snapshot.Snapshot
	Completions map[index.Key]string
	Targets     []pathmap.Target
}

// Build compares the source snapshot against every output snapshot and
// returns actions ordered so that all encodes precede all deletes. A rename
// observed as delete+create in one batch therefore never removes an output
// before its replacement lands.
func Build(in Input) []Action {
	var encodes, skips, deletes []Action

	sourceStems := in.Source.Stems()
	losslessStems := in.Source.LosslessStems()

	for _, srcRel := range in.Source.Paths() {
		entry, _ := in.Source.Get(srcRel)
		stem := pathmap.StemPath(srcRel)

		// A lossy file whose stem also has a lossless original is shadowed
		// everywhere: the lossless sibling produces every derived output.
		_, shadowed := losslessStems[stem]
		shadowed = shadowed && !pathmap.IsLosslessPath(srcRel)

		for _, target := range in.Targets {
			action := decideSource(entry, target, in, shadowed)
			switch action.Verb {
			case Encode:
				encodes = append(encodes, action)
			default:
				skips = append(skips, action)
			}
		}
	}

	for _, target := range in.Targets {
		out := in.Outputs[target.Name]
		if out == nil {
			continue
		}
		for _, outRel := range out.Paths() {
			if action, ok := decideOrphan(outRel, target, sourceStems, losslessStems); ok {
				deletes = append(deletes, action)
			}
		}
	}

	sort.SliceStable(deletes, func(i, j int) bool {
		if deletes[i].Target.Name != deletes[j].Target.Name {
			return deletes[i].Target.Name < deletes[j].Target.Name
		}
		return deletes[i].OutputRel < deletes[j].OutputRel
	})

	actions := make([]Action, 0, len(encodes)+len(skips)+len(deletes))
	actions = append(actions, encodes...)
	actions = append(actions, skips...)
	actions = append(actions, deletes...)
	return actions
}

func decideSource(entry snapshot.Entry, target pathmap.Target, in Input, shadowed bool) Action {
	action := Action{
		Source: entry,
		Target: target,
	}

	if target.UsesPassthrough(entry.RelPath) {
		action.OutputRel = target.PassthroughRelPath(entry.RelPath)
		action.Passthrough = true
	} else {
		action.OutputRel = target.OutputRelPath(entry.RelPath)
	}

	if shadowed {
		action.Verb = Skip
		action.Reason = ReasonLosslessSibling
		return action
	}

	out := in.Outputs[target.Name]
	if _, present := out.Get(action.OutputRel); !present {
		action.Verb = Encode
		action.Reason = ReasonMissing
		return action
	}

	key := index.Key{SourcePath: entry.RelPath, TargetName: target.Name}
	if token, ok := in.Completions[key]; !ok || token != entry.ChangeToken() {
		action.Verb = Encode
		action.Reason = ReasonChanged
		return action
	}

	action.Verb = Skip
	action.Reason = ReasonUpToDate
	return action
}

// decideOrphan reports whether an output path has no corresponding source
// and should be removed.
func decideOrphan(outRel string, target pathmap.Target, sourceStems, losslessStems map[string]struct{}) (Action, bool) {
	stem, ok := target.SourceStem(outRel)
	if !ok {
		// Foreign file in the output tree; not ours to manage.
		return Action{}, false
	}

	action := Action{
		Verb:      Delete,
		Target:    target,
		OutputRel: outRel,
		Reason:    ReasonOrphan,
	}

	if _, present := sourceStems[stem]; !present {
		return action, true
	}

	// A passthrough mp3 copy in a lossless tree is superseded once a
	// lossless source for the same stem exists.
	if pathmap.IsMP3(outRel) && target.IsLossless() && target.Extension() != ".mp3" {
		if _, lossless := losslessStems[stem]; lossless {
			action.Reason = ReasonRedundantLossyCp
			return action, true
		}
	}

	return Action{}, false
}

// Summary counts actions by verb.
type Summary struct {
	Encodes int
	Skips   int
	Deletes int
}

// Summarize tallies a plan.
func Summarize(actions []Action) Summary {
	var s Summary
	for _, action := range actions {
		switch action.Verb {
		case Encode:
			s.Encodes++
		case Skip:
			s.Skips++
		case Delete:
			s.Deletes++
		}
	}
	return s
}
