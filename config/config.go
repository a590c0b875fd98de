// Package config loads the gateway's process-wide configuration
// (spec.md §6): defaults, then an optional TOML file, then
// environment-variable overrides, in that order.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Rater is one entry of CONSENSUS_RATERS: a {rater_id, endpoint,
// model} descriptor (spec.md §6).
type Rater struct {
	ID       string `toml:"id"`
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
}

// Config is the fully resolved process configuration.
type Config struct {
	HMACSecretKey string `toml:"hmac_secret_key"`

	RPCURL          string `toml:"rpc_url"`
	PrivateKey      string `toml:"private_key"`
	ContractAddress string `toml:"contract_address"`
	IssuerAddress   string `toml:"issuer_address"`

	ConsensusRaters    []Rater       `toml:"consensus_raters"`
	ConsensusThreshold uint          `toml:"consensus_threshold"`
	ConsensusDeadline  time.Duration `toml:"-"`
	RaterTimeout       time.Duration `toml:"-"`

	ChainID          int64    `toml:"chain_id"`
	GasPriceBoost    float64  `toml:"gas_price_boost"`
	GasLimitFallback uint64   `toml:"gas_limit_fallback"`
	MinGasPriceWei   *big.Int `toml:"-"`

	OpenRouterAPIKey      string  `toml:"openrouter_api_key"`
	OpenRouterRateLimitPS float64 `toml:"openrouter_rate_limit_per_second"`
}

// defaults matches spec.md §6's stated defaults.
func defaults() Config {
	return Config{
		ConsensusThreshold:    3,
		ConsensusDeadline:     60 * time.Second,
		GasPriceBoost:         1.5,
		GasLimitFallback:      500_000,
		MinGasPriceWei:        big.NewInt(1_000_000_000), // 1 gwei
		OpenRouterRateLimitPS: 5,
	}
}

// Mode selects which fatal-if-missing checks Load enforces, since
// HMAC_SECRET_KEY is required everywhere but RPC_URL/PRIVATE_KEY/
// CONTRACT_ADDRESS are only required on the commit/verify path
// (spec.md §6).
type Mode int

const (
	ModeFingerprintOnly Mode = iota // generate without commit, or any HMAC-only command
	ModeChain                       // commit/verify path: requires chain config too
)

// Load builds a Config from defaults, an optional TOML file at path
// (skipped silently if path is empty or the file does not exist, the
// same "config file is optional" behavior cmd/geth's own -config flag
// has), then environment variables, and finally validates required
// fields for mode.
func Load(path string, mode Mode) (Config, error) {
	cfg := defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if cfg.HMACSecretKey == "" {
		return Config{}, fmt.Errorf("config: %w: HMAC_SECRET_KEY", ErrMissingRequired)
	}
	if mode == ModeChain {
		missing := []string{}
		if cfg.RPCURL == "" {
			missing = append(missing, "RPC_URL")
		}
		if cfg.PrivateKey == "" {
			missing = append(missing, "PRIVATE_KEY")
		}
		if cfg.ContractAddress == "" {
			missing = append(missing, "CONTRACT_ADDRESS")
		}
		if len(missing) > 0 {
			return Config{}, fmt.Errorf("config: %w: %s", ErrMissingRequired, strings.Join(missing, ", "))
		}
	}
	return cfg, nil
}

// parseRaters parses CONSENSUS_RATERS as a comma-separated list of
// "id:provider:model" triples, the simplest env-var encoding that
// still round-trips the full Rater descriptor from spec.md §6; a TOML
// file is the preferred way to configure a rater set of any size.
func parseRaters(v string) []Rater {
	var raters []Rater
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			continue
		}
		raters = append(raters, Rater{ID: parts[0], Provider: parts[1], Model: parts[2]})
	}
	return raters
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HMAC_SECRET_KEY"); v != "" {
		cfg.HMACSecretKey = v
	}
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.PrivateKey = v
	}
	if v := os.Getenv("CONTRACT_ADDRESS"); v != "" {
		cfg.ContractAddress = v
	}
	if v := os.Getenv("ISSUER_ADDRESS"); v != "" {
		cfg.IssuerAddress = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.OpenRouterAPIKey = v
	}
	if v := os.Getenv("OPENROUTER_RATE_LIMIT_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OpenRouterRateLimitPS = f
		}
	}
	if v := os.Getenv("CONSENSUS_RATERS"); v != "" {
		cfg.ConsensusRaters = parseRaters(v)
	}
	if v := os.Getenv("CONSENSUS_THRESHOLD"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.ConsensusThreshold = uint(n)
		}
	}
	if v := os.Getenv("CONSENSUS_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ConsensusDeadline = d
		}
	}
	if v := os.Getenv("RATER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RaterTimeout = d
		}
	} else if cfg.RaterTimeout == 0 {
		cfg.RaterTimeout = cfg.ConsensusDeadline
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ChainID = n
		}
	}
	if v := os.Getenv("GAS_PRICE_BOOST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GasPriceBoost = f
		}
	}
	if v := os.Getenv("GAS_LIMIT_FALLBACK"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.GasLimitFallback = n
		}
	}
	if v := os.Getenv("MIN_GAS_PRICE_WEI"); v != "" {
		if n, ok := new(big.Int).SetString(v, 10); ok {
			cfg.MinGasPriceWei = n
		}
	}
}
