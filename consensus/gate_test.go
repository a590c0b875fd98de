package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/tracegate/gateway/types"
)

// fixedRater returns a fixed verdict after an optional delay, or hangs
// until its context is cancelled when hang is true.
type fixedRater struct {
	id      string
	verdict types.Verdict
	delay   time.Duration
	hang    bool
}

func (f *fixedRater) ID() string { return f.id }

func (f *fixedRater) Classify(ctx context.Context, prompt string) types.SafetyVote {
	if f.hang {
		<-ctx.Done()
		return types.SafetyVote{RaterID: f.id, Verdict: types.VerdictError, Raw: "cancelled"}
	}
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return types.SafetyVote{RaterID: f.id, Verdict: types.VerdictError, Raw: "cancelled"}
	}
	return types.SafetyVote{RaterID: f.id, Verdict: f.verdict, Raw: f.verdict.String()}
}

// TestS1Pass is scenario S1 from spec.md §8: 4 safe, 1 unsafe, threshold 3 -> pass.
func TestS1Pass(t *testing.T) {
	raters := []Rater{
		&fixedRater{id: "r1", verdict: types.VerdictSafe},
		&fixedRater{id: "r2", verdict: types.VerdictSafe},
		&fixedRater{id: "r3", verdict: types.VerdictSafe},
		&fixedRater{id: "r4", verdict: types.VerdictSafe},
		&fixedRater{id: "r5", verdict: types.VerdictUnsafe},
	}
	gate, err := NewGate(GateConfig{Raters: raters, Threshold: 3, Deadline: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	outcome, err := gate.Evaluate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !outcome.Passed {
		t.Fatalf("expected passed=true, got outcome=%+v", outcome)
	}
	if outcome.SafeVotes != 4 || outcome.UnsafeVotes != 1 || outcome.Total != 5 {
		t.Fatalf("unexpected tally: %+v", outcome)
	}
}

// TestS2Reject is scenario S2: 2 safe, 2 unsafe, 1 error, threshold 3 -> reject.
func TestS2Reject(t *testing.T) {
	raters := []Rater{
		&fixedRater{id: "r1", verdict: types.VerdictSafe},
		&fixedRater{id: "r2", verdict: types.VerdictSafe},
		&fixedRater{id: "r3", verdict: types.VerdictUnsafe},
		&fixedRater{id: "r4", verdict: types.VerdictUnsafe},
		&fixedRater{id: "r5", verdict: types.VerdictError},
	}
	gate, err := NewGate(GateConfig{Raters: raters, Threshold: 3, Deadline: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	outcome, err := gate.Evaluate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome.Passed {
		t.Fatalf("expected passed=false, got outcome=%+v", outcome)
	}
	if outcome.SafeVotes != 2 {
		t.Fatalf("expected 2 safe votes, got %+v", outcome)
	}
}

// TestS3Deadline is scenario S3: 3 raters answer SAFE quickly, 2 hang
// past the deadline and are counted ERROR.
func TestS3Deadline(t *testing.T) {
	raters := []Rater{
		&fixedRater{id: "r1", verdict: types.VerdictSafe, delay: 50 * time.Millisecond},
		&fixedRater{id: "r2", verdict: types.VerdictSafe, delay: 50 * time.Millisecond},
		&fixedRater{id: "r3", verdict: types.VerdictSafe, delay: 50 * time.Millisecond},
		&fixedRater{id: "r4", hang: true},
		&fixedRater{id: "r5", hang: true},
	}
	gate, err := NewGate(GateConfig{Raters: raters, Threshold: 3, Deadline: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	start := time.Now()
	outcome, err := gate.Evaluate(context.Background(), "hello")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !outcome.Passed {
		t.Fatalf("expected passed=true once 3 safe votes arrive, got %+v", outcome)
	}
	if outcome.SafeVotes != 3 {
		t.Fatalf("expected 3 safe votes, got %+v", outcome)
	}
	// Threshold is already met at 3 safe votes, so the gate should
	// early-exit well before the 200ms deadline elapses.
	if elapsed >= 200*time.Millisecond {
		t.Fatalf("expected early exit before deadline, took %v", elapsed)
	}
}

// TestAllTimeout: all N raters hang past the deadline -> N ERROR votes, rejected.
func TestAllTimeout(t *testing.T) {
	raters := []Rater{
		&fixedRater{id: "r1", hang: true},
		&fixedRater{id: "r2", hang: true},
		&fixedRater{id: "r3", hang: true},
	}
	gate, err := NewGate(GateConfig{Raters: raters, Threshold: 2, Deadline: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	outcome, err := gate.Evaluate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if outcome.Passed {
		t.Fatalf("expected passed=false, got %+v", outcome)
	}
	if outcome.ErrorVotes != 3 || outcome.Total != 3 {
		t.Fatalf("expected 3 error votes, got %+v", outcome)
	}
}

// TestBoundaryExactThreshold: exactly K safe votes passes, K-1 rejects.
func TestBoundaryExactThreshold(t *testing.T) {
	mk := func(safe int) []Rater {
		raters := make([]Rater, 0, 5)
		for i := 0; i < 5; i++ {
			v := types.VerdictUnsafe
			if i < safe {
				v = types.VerdictSafe
			}
			raters = append(raters, &fixedRater{id: string(rune('a' + i)), verdict: v})
		}
		return raters
	}

	gateAt3, _ := NewGate(GateConfig{Raters: mk(3), Threshold: 3, Deadline: time.Second})
	outcome, _ := gateAt3.Evaluate(context.Background(), "p")
	if !outcome.Passed {
		t.Fatalf("expected exactly-K-safe to pass, got %+v", outcome)
	}

	gateAt2, _ := NewGate(GateConfig{Raters: mk(2), Threshold: 3, Deadline: time.Second})
	outcome2, _ := gateAt2.Evaluate(context.Background(), "p")
	if outcome2.Passed {
		t.Fatalf("expected K-1-safe to reject, got %+v", outcome2)
	}
}

// TestInvariantVoteCountsSumToTotal checks invariant 4 from spec.md §8
// across a mixed outcome.
func TestInvariantVoteCountsSumToTotal(t *testing.T) {
	raters := []Rater{
		&fixedRater{id: "r1", verdict: types.VerdictSafe},
		&fixedRater{id: "r2", verdict: types.VerdictUnsafe},
		&fixedRater{id: "r3", verdict: types.VerdictError},
	}
	gate, _ := NewGate(GateConfig{Raters: raters, Threshold: 2, Deadline: time.Second})
	outcome, _ := gate.Evaluate(context.Background(), "p")
	if outcome.SafeVotes+outcome.UnsafeVotes+outcome.ErrorVotes != outcome.Total {
		t.Fatalf("vote counts do not sum to total: %+v", outcome)
	}
}

func TestNoRaters(t *testing.T) {
	if _, err := NewGate(GateConfig{}); err != ErrNoRaters {
		t.Fatalf("expected ErrNoRaters, got %v", err)
	}
}
