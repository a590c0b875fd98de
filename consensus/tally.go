package consensus

import (
	"time"

	"github.com/tracegate/gateway/types"
)

// tally accumulates SafetyVotes for one Evaluate call and knows how to
// decide, early, whether the outcome is already fixed.
type tally struct {
	raterIDs          []string
	threshold         uint
	errorCountsUnsafe bool

	safe, unsafe, errs uint
	votes              []types.SafetyVote
	seen               map[string]bool
}

func newTally(raterIDs []string, threshold uint, errorCountsUnsafe bool) *tally {
	return &tally{
		raterIDs:          raterIDs,
		threshold:         threshold,
		errorCountsUnsafe: errorCountsUnsafe,
		votes:             make([]types.SafetyVote, 0, len(raterIDs)),
		seen:              make(map[string]bool, len(raterIDs)),
	}
}

// record folds v into the tally, ignoring a duplicate vote for a
// rater ID already seen (a rater contributes exactly one vote).
func (t *tally) record(v types.SafetyVote) {
	if t.seen[v.RaterID] {
		return
	}
	t.seen[v.RaterID] = true
	t.votes = append(t.votes, v)
	switch v.Verdict {
	case types.VerdictSafe:
		t.safe++
	case types.VerdictUnsafe:
		t.unsafe++
	default:
		t.errs++
	}
}

// determined implements spec.md §4.1's early-exit condition: the
// outcome is fixed once safe_votes >= threshold (pass, can't be
// undone), or once the non-safe side has enough votes that the
// threshold can no longer be reached regardless of what's left
// (reject). Whether ERROR votes count on the non-safe side here is
// governed by errorCountsUnsafe; this only changes how aggressively
// the gate cancels outstanding raters; the value ultimately returned
// by finish is always exactly safe_votes >= threshold (invariant 5).
func (t *tally) determined() bool {
	if t.safe >= t.threshold {
		return true
	}
	n := uint(len(t.raterIDs))
	nonSafe := t.unsafe
	if t.errorCountsUnsafe {
		nonSafe += t.errs
	}
	return nonSafe > n-t.threshold
}

// finish closes out the tally: any rater not yet voted is recorded as
// ERROR with latency == elapsed (spec.md §4.1: "Any rater still
// outstanding at D is cancelled and recorded as ERROR with latency =
// D"), and returns the final ConsensusOutcome.
func (t *tally) finish(elapsed time.Duration) types.ConsensusOutcome {
	for _, id := range t.raterIDs {
		if !t.seen[id] {
			t.record(types.SafetyVote{
				RaterID: id,
				Verdict: types.VerdictError,
				Latency: elapsed,
				Raw:     "cancelled: consensus deadline reached",
			})
		}
	}
	return types.ConsensusOutcome{
		Passed:      t.safe >= t.threshold,
		SafeVotes:   t.safe,
		UnsafeVotes: t.unsafe,
		ErrorVotes:  t.errs,
		Total:       uint(len(t.raterIDs)),
		Threshold:   t.threshold,
		Votes:       t.votes,
	}
}
