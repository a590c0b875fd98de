// Package gateway wires the four core subsystems into the single
// orchestrated call a caller actually makes: submit a prompt, get back
// a consensus-gated, fingerprinted, optionally on-chain-committed
// generation. Recovered from original_source/backend/app/routes/
// llm_routes.py's generate_with_verification, generalized to Go per
// Design Notes §9's "own these as explicit dependencies in a single
// long-lived holder created at startup."
package gateway

import (
	"context"
	"fmt"
	"time"

	glog "github.com/ethereum/go-ethereum/log"

	"github.com/tracegate/gateway/commit"
	"github.com/tracegate/gateway/consensus"
	"github.com/tracegate/gateway/fingerprint"
	"github.com/tracegate/gateway/generator"
	"github.com/tracegate/gateway/telemetry"
	"github.com/tracegate/gateway/types"
)

// Gateway holds the long-lived dependencies one process needs to
// serve generation requests: the consensus gate, generator registry,
// fingerprint secret, and (optionally) a commit pipeline. A nil
// Committer means this Gateway can fingerprint but never commits -
// useful for a dry-run / fingerprint-only deployment.
type Gateway struct {
	Gate      *consensus.Gate
	Generator *generator.Registry
	Secret    string
	Committer *commit.Pipeline

	// Metrics is optional; when set, every Generate call records the
	// consensus gate's latency and pass/reject outcome.
	Metrics *telemetry.Metrics
}

// GenerateRequest is one call's input.
type GenerateRequest struct {
	Provider           string
	Model              string
	Prompt             string
	Parameters         map[string]any
	CommitToBlockchain bool // mirrors the Python route's commit_to_blockchain flag
	WaitForConfirmation bool
}

// GenerateResponse is the full result of one Generate call.
type GenerateResponse struct {
	Consensus   types.ConsensusOutcome
	Record      *types.GenerationRecord // nil when consensus rejected
	Fingerprint *types.Fingerprint
	Commit      *types.CommitResult // nil unless CommitToBlockchain was requested
}

// ErrConsensusRejected is returned when the Consensus Gate
// does not pass, matching spec.md §7's CONSENSUS_REJECTED kind.
var ErrConsensusRejected = fmt.Errorf("gateway: consensus rejected the prompt")

// Generate runs ConsensusGate -> Generator -> Fingerprinter ->
// (optional) CommitPipeline, in that order, never attempting
// generation when consensus rejects.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	gateStart := time.Now()
	outcome, err := g.Gate.Evaluate(ctx, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("gateway: consensus gate: %w", err)
	}
	if g.Metrics != nil {
		g.Metrics.ObserveConsensus(time.Since(gateStart).Seconds(), outcome.Passed)
	}
	if !outcome.Passed {
		glog.Debug("gateway: consensus rejected prompt", "safe", outcome.SafeVotes, "threshold", outcome.Threshold)
		return &GenerateResponse{Consensus: outcome}, ErrConsensusRejected
	}

	result, err := g.Generator.Generate(ctx, req.Provider, req.Model, req.Prompt, req.Parameters)
	if err != nil {
		return &GenerateResponse{Consensus: outcome}, fmt.Errorf("gateway: generation failed: %w", err)
	}

	record := types.GenerationRecord{
		Provider:       req.Provider,
		Model:          req.Model,
		Prompt:         req.Prompt,
		Response:       result.Content,
		Parameters:     req.Parameters,
		Timestamp:      time.Now(),
		ConsensusVotes: outcome.VoteString(),
	}

	fp, err := fingerprint.Sign(record, g.Secret)
	if err != nil {
		return &GenerateResponse{Consensus: outcome, Record: &record}, fmt.Errorf("gateway: fingerprint: %w", err)
	}

	resp := &GenerateResponse{Consensus: outcome, Record: &record, Fingerprint: &fp}

	if req.CommitToBlockchain {
		if g.Committer == nil {
			return resp, fmt.Errorf("gateway: commit requested but no commit pipeline is configured")
		}
		commitResult, err := g.Committer.Commit(ctx, record, fp, req.WaitForConfirmation)
		if err != nil {
			return resp, fmt.Errorf("gateway: commit: %w", err)
		}
		resp.Commit = &commitResult
	}

	return resp, nil
}
