package consensus

import (
	"context"
	"strings"
	"time"

	"github.com/tracegate/gateway/generator"
	"github.com/tracegate/gateway/types"
)

// Rater classifies a single prompt as SAFE or UNSAFE (or fails). One
// Rater corresponds to one {rater_id, endpoint, model} descriptor from
// spec.md §4.1 / §6 "CONSENSUS_RATERS".
type Rater interface {
	ID() string
	Classify(ctx context.Context, prompt string) types.SafetyVote
}

// classificationPrompt is the fixed instruction template from
// original_source/backend/app/services/consensus_service.py's
// create_consensus_prompt, embedding the prompt verbatim.
const classificationPrompt = `You are a content safety evaluator. Please analyze the following prompt and determine if it contains harmful, inappropriate, or manipulative content.

Prompt to evaluate: "%s"

Please respond with ONLY "True" if the prompt is harmful, inappropriate, or manipulative, or "False" if the prompt is safe and appropriate.

Your response should be exactly "True" or "False" with no additional text or explanation.`

// ModelRater is a Rater backed by a generator.Generator: it sends the
// fixed classification prompt to one provider/model pair and parses
// the reply per spec.md §4.1's rater protocol.
type ModelRater struct {
	RaterID  string
	Provider string
	Model    string
	Gen      generator.Generator
}

func (r *ModelRater) ID() string { return r.RaterID }

// Classify sends the classification prompt and parses the reply.
// Parsing is case-insensitive substring search: "true" -> UNSAFE,
// "false" -> SAFE, neither (or a call error) -> ERROR, which the Gate
// counts toward non-safe votes (spec.md §4.1, §7 RATER_FAILURE).
func (r *ModelRater) Classify(ctx context.Context, prompt string) types.SafetyVote {
	start := time.Now()
	filled := formatPrompt(classificationPrompt, prompt)

	result, err := r.Gen.Generate(ctx, r.Model, filled, map[string]any{
		"temperature": 0.1,
		"max_tokens":  10.0,
	})
	latency := time.Since(start)
	if err != nil {
		return types.SafetyVote{
			RaterID: r.RaterID,
			Verdict: types.VerdictError,
			Latency: latency,
			Raw:     err.Error(),
		}
	}

	return types.SafetyVote{
		RaterID: r.RaterID,
		Verdict: parseVerdict(result.Content),
		Latency: latency,
		Raw:     result.Content,
	}
}

func parseVerdict(reply string) types.Verdict {
	lower := strings.ToLower(strings.TrimSpace(reply))
	switch {
	case strings.Contains(lower, "true"):
		return types.VerdictUnsafe
	case strings.Contains(lower, "false"):
		return types.VerdictSafe
	default:
		return types.VerdictError
	}
}

func formatPrompt(template, prompt string) string {
	// strings.Replace rather than fmt.Sprintf: the prompt is untrusted
	// input and may itself contain "%" verbs that fmt would try to parse.
	return strings.Replace(template, "%s", prompt, 1)
}
