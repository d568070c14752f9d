package plan

import (
	"sync"

	"tonearm/internal/snapshot"
)

// Guard vetoes bulk deletions when a tree that was previously non-empty
// reads back empty. An unmounted volume or a failed directory read looks
// exactly like "everything was deleted"; deleting derived files on that
// evidence would destroy good data, so the pass is skipped and retried on
// the next cycle instead.
type Guard struct {
	mu             sync.Mutex
	sourceNonEmpty bool
	outputNonEmpty map[string]bool
}

// NewGuard returns a guard with no prior observations.
func NewGuard() *Guard {
	return &Guard{outputNonEmpty: map[string]bool{}}
}

// Decision is the guard's verdict for one pass.
type Decision struct {
	// VetoAll blocks every delete in the pass (source tree anomaly).
	VetoAll bool
	// VetoedTargets blocks deletes for specific output trees.
	VetoedTargets map[string]bool
	Reason        string
}

// Allows reports whether the decision permits the given action. Encode and
// skip actions are never vetoed.
func (d Decision) Allows(action Action) bool {
	if action.Verb != Delete {
		return true
	}
	if d.VetoAll {
		return false
	}
	return !d.VetoedTargets[action.Target.Name]
}

// Vetoed reports whether the decision blocks anything at all.
func (d Decision) Vetoed() bool {
	return d.VetoAll || len(d.VetoedTargets) > 0
}

// Authorize inspects the snapshots for one pass and decides which deletes
// may proceed. It also records non-empty observations for future passes.
func (g *Guard) Authorize(source *snapshot.Snapshot, outputs map[string]*snapshot.Snapshot) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	decision := Decision{VetoedTargets: map[string]bool{}}

	if source.IsEmpty() {
		decision.VetoAll = true
		if g.sourceNonEmpty {
			decision.Reason = "source tree was non-empty and now reads empty"
		} else {
			decision.Reason = "source tree reads empty"
		}
	} else {
		g.sourceNonEmpty = true
	}

	for name, out := range outputs {
		if out.IsEmpty() {
			if g.outputNonEmpty[name] {
				decision.VetoedTargets[name] = true
				if decision.Reason == "" {
					decision.Reason = "output tree was non-empty and now reads empty"
				}
			}
			continue
		}
		g.outputNonEmpty[name] = true
	}

	return decision
}
