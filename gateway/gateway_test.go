package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tracegate/gateway/consensus"
	"github.com/tracegate/gateway/generator"
	"github.com/tracegate/gateway/types"
)

// fixedRater returns a fixed verdict immediately; mirrors the helper
// used in consensus/gate_test.go, duplicated here at package scope
// since Go test helpers aren't shared across packages.
type fixedRater struct {
	id      string
	verdict types.Verdict
}

func (f *fixedRater) ID() string { return f.id }
func (f *fixedRater) Classify(ctx context.Context, prompt string) types.SafetyVote {
	return types.SafetyVote{RaterID: f.id, Verdict: f.verdict}
}

type fakeGenerator struct {
	content string
	err     error
	calls   int
}

func (g *fakeGenerator) Generate(ctx context.Context, model, prompt string, parameters map[string]any) (generator.Result, error) {
	g.calls++
	if g.err != nil {
		return generator.Result{}, g.err
	}
	return generator.Result{Content: g.content, Latency: time.Millisecond}, nil
}

func allSafeGate(t *testing.T, n int, threshold uint) *consensus.Gate {
	t.Helper()
	raters := make([]consensus.Rater, n)
	for i := range raters {
		raters[i] = &fixedRater{id: string(rune('a' + i)), verdict: types.VerdictSafe}
	}
	gate, err := consensus.NewGate(consensus.GateConfig{Raters: raters, Threshold: threshold, Deadline: time.Second})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return gate
}

func allUnsafeGate(t *testing.T, n int, threshold uint) *consensus.Gate {
	t.Helper()
	raters := make([]consensus.Rater, n)
	for i := range raters {
		raters[i] = &fixedRater{id: string(rune('a' + i)), verdict: types.VerdictUnsafe}
	}
	gate, err := consensus.NewGate(consensus.GateConfig{Raters: raters, Threshold: threshold, Deadline: time.Second})
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}
	return gate
}

func TestGenerateHappyPath(t *testing.T) {
	gw := &Gateway{
		Gate:      allSafeGate(t, 3, 2),
		Generator: generator.NewRegistry(map[string]generator.Generator{"openai": &fakeGenerator{content: "Hi"}}),
		Secret:    "k",
	}

	resp, err := gw.Generate(context.Background(), GenerateRequest{Provider: "openai", Model: "gpt-5-mini", Prompt: "Hello"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !resp.Consensus.Passed {
		t.Fatalf("expected consensus to pass")
	}
	if resp.Record == nil || resp.Record.Response != "Hi" {
		t.Fatalf("expected generated record, got %+v", resp.Record)
	}
	if resp.Fingerprint == nil {
		t.Fatal("expected a fingerprint to be produced")
	}
	if resp.Commit != nil {
		t.Fatal("expected no commit when CommitToBlockchain is false")
	}
}

func TestGenerateConsensusRejectedNeverCallsGenerator(t *testing.T) {
	gen := &fakeGenerator{content: "should not be called"}
	gw := &Gateway{
		Gate:      allUnsafeGate(t, 3, 2),
		Generator: generator.NewRegistry(map[string]generator.Generator{"openai": gen}),
		Secret:    "k",
	}

	resp, err := gw.Generate(context.Background(), GenerateRequest{Provider: "openai", Model: "gpt-5-mini", Prompt: "Hello"})
	if !errors.Is(err, ErrConsensusRejected) {
		t.Fatalf("expected ErrConsensusRejected, got %v", err)
	}
	if resp.Record != nil {
		t.Fatalf("expected no record on rejection, got %+v", resp.Record)
	}
	if gen.calls != 0 {
		t.Fatalf("expected the generator never to be called on rejection, got %d calls", gen.calls)
	}
}

func TestGenerateCommitRequestedWithoutCommitterErrors(t *testing.T) {
	gw := &Gateway{
		Gate:      allSafeGate(t, 3, 2),
		Generator: generator.NewRegistry(map[string]generator.Generator{"openai": &fakeGenerator{content: "Hi"}}),
		Secret:    "k",
	}

	resp, err := gw.Generate(context.Background(), GenerateRequest{Provider: "openai", Model: "gpt-5-mini", Prompt: "Hello", CommitToBlockchain: true})
	if err == nil {
		t.Fatal("expected an error when commit is requested with no configured Committer")
	}
	if resp.Fingerprint == nil {
		t.Fatal("expected the fingerprint to still have been produced before the commit failure")
	}
}

func TestGenerateGeneratorFailureSurfaces(t *testing.T) {
	gw := &Gateway{
		Gate:      allSafeGate(t, 3, 2),
		Generator: generator.NewRegistry(map[string]generator.Generator{"openai": &fakeGenerator{err: errors.New("boom")}}),
		Secret:    "k",
	}

	_, err := gw.Generate(context.Background(), GenerateRequest{Provider: "openai", Model: "gpt-5-mini", Prompt: "Hello"})
	if err == nil {
		t.Fatal("expected generation failure to surface")
	}
}
