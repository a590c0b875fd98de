// Package fingerprint implements the HMAC-SHA256 content binding
// described in spec.md §4.2: a canonical JSON serialization of a
// GenerationRecord, keyed by the gateway's secret.
//
// Canonicalize is the single function both Sign and Verify route
// through, and the same function the commit pipeline calls to obtain
// the exact timestamp and parameters strings it writes on-chain. That
// sharing is deliberate: spec.md §9 calls divergence between the
// fingerprint's canonical form and the on-chain call data the most
// fragile invariant in the whole system.
package fingerprint

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tracegate/gateway/types"
)

// ErrMissingSecret is returned when Sign or Verify is called with an
// empty secret. Per spec.md §4.2 this is a fatal configuration error;
// callers at startup should treat it as such.
var ErrMissingSecret = errors.New("fingerprint: secret key is empty")

// canonicalRecord mirrors types.GenerationRecord but with field order
// and tags fixed to the lexicographic key order spec.md §4.2 mandates:
// consensus_votes, llm_provider, model_name, parameters, prompt,
// response, timestamp. encoding/json emits struct fields in
// declaration order and additionally sorts map[string]any keys
// recursively, so this struct alone is sufficient to satisfy the
// canonicalization rule for both top-level and nested keys.
type canonicalRecord struct {
	ConsensusVotes string         `json:"consensus_votes,omitempty"`
	Provider       string         `json:"llm_provider"`
	Model          string         `json:"model_name"`
	Parameters     map[string]any `json:"parameters"`
	Prompt         string         `json:"prompt"`
	Response       string         `json:"response"`
	Timestamp      string         `json:"timestamp"`
}

// timestampLayout is the ISO-8601-with-microseconds, no-timezone form
// spec.md §4.2 mandates. Times are treated as UTC implicitly.
const timestampLayout = "2006-01-02T15:04:05.000000"

// CanonicalTimestamp formats t per timestampLayout.
func CanonicalTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Canonicalize renders record as the exact UTF-8 JSON bytes the MAC is
// computed over. It is exported so the Commit Pipeline can obtain the
// identical parameters_json and timestamp_iso strings it writes
// on-chain (spec.md §4.3 step 1).
func Canonicalize(record types.GenerationRecord) ([]byte, string, string, error) {
	params := record.Parameters
	if params == nil {
		params = map[string]any{}
	}
	paramsJSON, err := marshalCompact(params)
	if err != nil {
		return nil, "", "", fmt.Errorf("fingerprint: non-serializable parameters: %w", err)
	}

	ts := CanonicalTimestamp(record.Timestamp)

	cr := canonicalRecord{
		ConsensusVotes: record.ConsensusVotes,
		Provider:       record.Provider,
		Model:          record.Model,
		Parameters:     params,
		Prompt:         record.Prompt,
		Response:       record.Response,
		Timestamp:      ts,
	}

	buf, err := marshalCompact(cr)
	if err != nil {
		return nil, "", "", fmt.Errorf("fingerprint: encode canonical record: %w", err)
	}
	return buf, string(paramsJSON), ts, nil
}

// marshalCompact JSON-encodes v with HTML escaping disabled (so
// Unicode prompt/response text survives verbatim) and without the
// trailing newline json.Encoder normally appends.
func marshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sign computes the Fingerprint of record under secret.
func Sign(record types.GenerationRecord, secret string) (types.Fingerprint, error) {
	var fp types.Fingerprint
	if secret == "" {
		return fp, ErrMissingSecret
	}
	canonical, _, _, err := Canonicalize(record)
	if err != nil {
		return fp, err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(canonical)
	copy(fp[:], mac.Sum(nil))
	return fp, nil
}

// Verify reports whether fp is the correct HMAC-SHA256 fingerprint of
// record under secret. Uses constant-time comparison.
func Verify(record types.GenerationRecord, secret string, fp types.Fingerprint) (bool, error) {
	expected, err := Sign(record, secret)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected[:], fp[:]), nil
}

// Hex renders a Fingerprint as 64 lowercase hex characters.
func Hex(fp types.Fingerprint) string {
	return hex.EncodeToString(fp[:])
}

// FromHex parses a 64-character lowercase (or mixed-case) hex string
// into a Fingerprint.
func FromHex(s string) (types.Fingerprint, error) {
	var fp types.Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, fmt.Errorf("fingerprint: invalid hex: %w", err)
	}
	if len(b) != len(fp) {
		return fp, fmt.Errorf("fingerprint: expected %d bytes, got %d", len(fp), len(b))
	}
	copy(fp[:], b)
	return fp, nil
}
