// Package consensus implements the Consensus Gate: a bounded-parallel
// fan-out across N rater endpoints with voting, threshold decision,
// deadline, and partial-failure handling (spec.md §4.1).
package consensus

import (
	"context"
	"errors"
	"time"

	glog "github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/tracegate/gateway/types"
)

// GateConfig configures one Evaluate call. N is len(Raters).
type GateConfig struct {
	Raters    []Rater
	Threshold uint
	Deadline  time.Duration // D: overall deadline for the whole fan-out.
	PerCall   time.Duration // T: per-rater timeout; defaults to Deadline when zero.

	// ErrorCountsUnsafe makes explicit a policy spec.md §9 flags as
	// implicit in the original source: whether an ERROR vote counts
	// toward the non-safe side of the *early-exit* check (see
	// tally.determined). The final Passed value is always exactly
	// SafeVotes >= Threshold regardless of this setting; it only
	// changes how early the gate is willing to cancel outstanding
	// raters. Defaults to true (current/default-deny behavior).
	ErrorCountsUnsafe *bool
}

func (c GateConfig) errorCountsUnsafe() bool {
	if c.ErrorCountsUnsafe == nil {
		return true
	}
	return *c.ErrorCountsUnsafe
}

// ErrNoRaters is a misconfiguration error: the Gate itself only fails
// on programmer error per spec.md §4.1.
var ErrNoRaters = errors.New("consensus: no raters configured")

// Gate evaluates prompts against a fixed rater set. A Gate is
// stateless and safe for concurrent use across independent Evaluate
// calls; each call runs its own single-shot IDLE -> FANOUT -> DECIDED
// -> REPORTED state machine (spec.md §4.1).
type Gate struct {
	cfg GateConfig
}

// NewGate constructs a Gate. Threshold defaults to 3 and Deadline to
// 60s when left zero, matching spec.md §6's defaults.
func NewGate(cfg GateConfig) (*Gate, error) {
	if len(cfg.Raters) == 0 {
		return nil, ErrNoRaters
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 3
	}
	if cfg.Deadline == 0 {
		cfg.Deadline = 60 * time.Second
	}
	if cfg.PerCall == 0 {
		cfg.PerCall = cfg.Deadline
	}
	return &Gate{cfg: cfg}, nil
}

// Evaluate runs the fan-out/vote/threshold protocol against prompt.
// It never fails on individual rater error; those fold into ERROR
// votes. The only error it can return is the misconfiguration
// ErrNoRaters, kept here in case a Gate is embedded as a zero value
// rather than built through NewGate.
func (g *Gate) Evaluate(ctx context.Context, prompt string) (types.ConsensusOutcome, error) {
	if len(g.cfg.Raters) == 0 {
		return types.ConsensusOutcome{}, ErrNoRaters
	}

	raterIDs := make([]string, len(g.cfg.Raters))
	for i, r := range g.cfg.Raters {
		raterIDs[i] = r.ID()
	}

	start := time.Now()
	deadlineCtx, cancel := context.WithTimeout(ctx, g.cfg.Deadline)
	defer cancel()

	votes := make(chan types.SafetyVote, len(g.cfg.Raters))
	group, groupCtx := errgroup.WithContext(deadlineCtx)

	for _, rater := range g.cfg.Raters {
		rater := rater
		group.Go(func() error {
			callCtx, callCancel := context.WithTimeout(groupCtx, g.cfg.PerCall)
			defer callCancel()
			vote := rater.Classify(callCtx, prompt)
			select {
			case votes <- vote:
			case <-groupCtx.Done():
			}
			return nil
		})
	}

	tally := newTally(raterIDs, g.cfg.Threshold, g.cfg.errorCountsUnsafe())

collect:
	for range g.cfg.Raters {
		select {
		case v := <-votes:
			tally.record(v)
			if tally.determined() {
				cancel() // early exit: stop outstanding raters (spec.md §4.1).
				break collect
			}
		case <-deadlineCtx.Done():
			break collect
		}
	}

	// Votes that were already in flight when collection stopped are
	// still real data; fold them in before declaring the rest ERROR.
drain:
	for {
		select {
		case v := <-votes:
			tally.record(v)
		default:
			break drain
		}
	}

	_ = group.Wait() // rater goroutines never return a non-nil error themselves.

	outcome := tally.finish(g.cfg.Deadline)
	glog.Debug("consensus gate decided",
		"elapsed", time.Since(start),
		"safe", outcome.SafeVotes, "unsafe", outcome.UnsafeVotes,
		"error", outcome.ErrorVotes, "passed", outcome.Passed)
	return outcome, nil
}
