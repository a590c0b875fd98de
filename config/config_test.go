package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HMAC_SECRET_KEY", "RPC_URL", "PRIVATE_KEY", "CONTRACT_ADDRESS",
		"ISSUER_ADDRESS", "CONSENSUS_RATERS", "CONSENSUS_THRESHOLD",
		"CONSENSUS_DEADLINE", "RATER_TIMEOUT", "CHAIN_ID", "GAS_PRICE_BOOST",
		"GAS_LIMIT_FALLBACK", "MIN_GAS_PRICE_WEI", "OPENROUTER_API_KEY",
		"OPENROUTER_RATE_LIMIT_PER_SECOND",
	} {
		os.Unsetenv(key)
	}
}

func TestLoadMissingSecretIsFatal(t *testing.T) {
	clearEnv(t)
	if _, err := Load("", ModeFingerprintOnly); err == nil {
		t.Fatal("expected error when HMAC_SECRET_KEY is unset")
	}
}

func TestLoadFingerprintOnlyDoesNotRequireChainFields(t *testing.T) {
	clearEnv(t)
	os.Setenv("HMAC_SECRET_KEY", "k")
	defer clearEnv(t)

	cfg, err := Load("", ModeFingerprintOnly)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HMACSecretKey != "k" {
		t.Fatalf("expected secret to be set from env, got %q", cfg.HMACSecretKey)
	}
}

func TestLoadChainModeRequiresChainFields(t *testing.T) {
	clearEnv(t)
	os.Setenv("HMAC_SECRET_KEY", "k")
	defer clearEnv(t)

	if _, err := Load("", ModeChain); err == nil {
		t.Fatal("expected error when chain fields are unset in ModeChain")
	}

	os.Setenv("RPC_URL", "https://example.invalid")
	os.Setenv("PRIVATE_KEY", "deadbeef")
	os.Setenv("CONTRACT_ADDRESS", "0x0000000000000000000000000000000000dEaD")
	cfg, err := Load("", ModeChain)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCURL == "" || cfg.PrivateKey == "" || cfg.ContractAddress == "" {
		t.Fatalf("expected chain fields to be populated, got %+v", cfg)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("HMAC_SECRET_KEY", "k")
	defer clearEnv(t)

	cfg, err := Load("", ModeFingerprintOnly)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConsensusThreshold != 3 {
		t.Fatalf("expected default threshold 3, got %d", cfg.ConsensusThreshold)
	}
	if cfg.ConsensusDeadline != 60*time.Second {
		t.Fatalf("expected default deadline 60s, got %v", cfg.ConsensusDeadline)
	}
	if cfg.GasPriceBoost != 1.5 {
		t.Fatalf("expected default gas price boost 1.5, got %v", cfg.GasPriceBoost)
	}
	if cfg.MinGasPriceWei.Int64() != 1_000_000_000 {
		t.Fatalf("expected 1 gwei floor, got %v", cfg.MinGasPriceWei)
	}
}

func TestParseRaters(t *testing.T) {
	raters := parseRaters("r1:openai:gpt-5-mini, r2:claude:claude-3.7-sonnet")
	if len(raters) != 2 {
		t.Fatalf("expected 2 raters, got %d: %+v", len(raters), raters)
	}
	if raters[0].ID != "r1" || raters[0].Provider != "openai" || raters[0].Model != "gpt-5-mini" {
		t.Fatalf("unexpected first rater: %+v", raters[0])
	}
}
