// Command gateway is the CLI entrypoint for the verifiable LLM
// generation gateway: generate (run the full pipeline on a prompt),
// verify (check a committed transaction), and status (report chain
// connectivity), built on urfave/cli/v2 the same way cmd/geth is.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	glog "github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/tracegate/gateway/chain"
	"github.com/tracegate/gateway/commit"
	"github.com/tracegate/gateway/config"
	"github.com/tracegate/gateway/consensus"
	"github.com/tracegate/gateway/fingerprint"
	"github.com/tracegate/gateway/gateway"
	"github.com/tracegate/gateway/generator"
	"github.com/tracegate/gateway/telemetry"
	"github.com/tracegate/gateway/verify"
)

var (
	configFlag    = &cli.StringFlag{Name: "config", Usage: "path to an optional TOML config file"}
	promptFlag    = &cli.StringFlag{Name: "prompt", Usage: "prompt text; reads stdin if omitted"}
	verbosityFlag = &cli.IntFlag{Name: "verbosity", Value: 3, Usage: "log verbosity, 0 (silent) to 5 (trace)"}

	// metrics is process-wide: every subcommand shares one Prometheus
	// registry so running generate then verify in the same process
	// never double-registers a collector.
	metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)
)

func main() {
	app := &cli.App{
		Name:  "gateway",
		Usage: "verifiable LLM generation gateway",
		Flags: []cli.Flag{verbosityFlag},
		Before: func(c *cli.Context) error {
			level := glog.FromLegacyLevel(c.Int("verbosity"))
			handler := glog.NewGlogHandler(glog.NewTerminalHandlerWithLevel(os.Stderr, level, true))
			handler.Verbosity(level)
			glog.SetDefault(glog.NewLogger(handler))
			return nil
		},
		Commands: []*cli.Command{
			generateCommand,
			verifyCommand,
			statusCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

var generateCommand = &cli.Command{
	Name:  "generate",
	Usage: "run the consensus-gate -> generate -> fingerprint -> commit pipeline on a prompt",
	Flags: []cli.Flag{
		configFlag,
		promptFlag,
		&cli.StringFlag{Name: "provider", Value: "openai", Usage: "generator provider id"},
		&cli.StringFlag{Name: "model", Value: "openai", Usage: "model id or provider alias"},
		&cli.BoolFlag{Name: "commit", Usage: "commit the result on-chain"},
		&cli.BoolFlag{Name: "wait", Usage: "block until the commit transaction is confirmed"},
	},
	Action: func(c *cli.Context) error {
		mode := config.ModeFingerprintOnly
		if c.Bool("commit") {
			mode = config.ModeChain
		}
		cfg, err := config.Load(c.String("config"), mode)
		if err != nil {
			return err
		}

		prompt := c.String("prompt")
		if prompt == "" {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("read prompt from stdin: %w", err)
			}
			prompt = strings.TrimSpace(string(data))
		}
		if prompt == "" {
			return cli.Exit("no prompt given (use --prompt or pipe stdin)", 1)
		}

		gw, cleanup, err := buildGateway(c.Context, cfg, c.Bool("commit"))
		if err != nil {
			return err
		}
		defer cleanup()

		resp, err := gw.Generate(c.Context, gateway.GenerateRequest{
			Provider:            c.String("provider"),
			Model:               c.String("model"),
			Prompt:              prompt,
			Parameters:          map[string]any{},
			CommitToBlockchain:  c.Bool("commit"),
			WaitForConfirmation: c.Bool("wait"),
		})
		if err != nil && resp == nil {
			return err
		}

		fmt.Printf("consensus: passed=%v safe=%d/%d\n", resp.Consensus.Passed, resp.Consensus.SafeVotes, resp.Consensus.Total)
		if err != nil {
			return err
		}
		fmt.Printf("response: %s\n", resp.Record.Response)
		fmt.Printf("fingerprint: %s\n", fingerprint.Hex(*resp.Fingerprint))
		if resp.Commit != nil {
			fmt.Printf("tx_hash: 0x%x status: %s\n", resp.Commit.TxHash, resp.Commit.Status)
		}
		return nil
	},
}

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "verify a committed transaction",
	Flags: []cli.Flag{
		configFlag,
		&cli.StringFlag{Name: "tx", Required: true, Usage: "transaction hash to verify"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"), config.ModeChain)
		if err != nil {
			return err
		}
		client, err := newChainClient(c.Context, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		pipeline := &verify.Pipeline{
			Chain:         client,
			Secret:        cfg.HMACSecretKey,
			IssuerAddress: common.HexToAddress(cfg.IssuerAddress),
			Metrics:       metrics,
		}
		result, err := pipeline.Verify(c.Context, common.HexToHash(c.String("tx")))
		if err != nil {
			return err
		}

		fmt.Printf("tx_exists: %v\ntx_success: %v\nissuer_matches: %v\nfingerprint_matches: %v\noverall_verified: %v\n",
			result.TxExists, result.TxSuccess, result.IssuerMatches, result.FingerprintMatches, result.OverallVerified)
		return nil
	},
}

var statusCommand = &cli.Command{
	Name:  "status",
	Usage: "report chain connectivity: gas price, chain id, signer balance",
	Flags: []cli.Flag{configFlag},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"), config.ModeChain)
		if err != nil {
			return err
		}
		client, err := newChainClient(c.Context, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		gasPrice, err := client.SuggestGasPrice(c.Context)
		if err != nil {
			return err
		}
		signer, err := chain.NewSigner(client, cfg.PrivateKey)
		if err != nil {
			return err
		}
		balance, err := client.RPC.BalanceAt(c.Context, signer.Address, nil)
		if err != nil {
			return fmt.Errorf("chain: signer balance: %w", err)
		}
		fmt.Printf("chain_id: %s\ngas_price_wei: %s\nsigner_address: %s\nsigner_balance_wei: %s\n", client.ChainID, gasPrice, signer.Address.Hex(), balance)
		return nil
	},
}

func newChainClient(ctx context.Context, cfg config.Config) (*chain.Client, error) {
	return chain.NewClient(ctx, cfg.RPCURL, common.HexToAddress(cfg.ContractAddress))
}

// buildGateway wires every subsystem from resolved config, following
// Design Notes §9's "inject these as explicit dependencies, own them
// in a single long-lived holder created at startup." withChain governs
// whether a chain.Client/Signer/commit.Pipeline are constructed at
// all, since a fingerprint-only invocation shouldn't require RPC_URL.
func buildGateway(ctx context.Context, cfg config.Config, withChain bool) (*gateway.Gateway, func(), error) {
	raters := make([]consensus.Rater, 0, len(cfg.ConsensusRaters))
	gen := generator.NewOpenRouterAdapter(cfg.OpenRouterAPIKey, cfg.OpenRouterRateLimitPS)
	registry := generator.NewRegistry(map[string]generator.Generator{
		"openai":   gen,
		"claude":   gen,
		"gemini":   gen,
		"grok":     gen,
		"deepseek": gen,
	})
	for _, r := range cfg.ConsensusRaters {
		raters = append(raters, &consensus.ModelRater{RaterID: r.ID, Provider: r.Provider, Model: r.Model, Gen: gen})
	}

	gate, err := consensus.NewGate(consensus.GateConfig{
		Raters:    raters,
		Threshold: cfg.ConsensusThreshold,
		Deadline:  cfg.ConsensusDeadline,
		PerCall:   cfg.RaterTimeout,
	})
	if err != nil {
		return nil, nil, err
	}

	gw := &gateway.Gateway{Gate: gate, Generator: registry, Secret: cfg.HMACSecretKey, Metrics: metrics}
	cleanup := func() {}

	if withChain {
		client, err := newChainClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		signer, err := chain.NewSigner(client, cfg.PrivateKey)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		pipeline := commit.NewPipeline(client, signer)
		pipeline.GasPriceBoost = cfg.GasPriceBoost
		pipeline.GasLimitFallback = cfg.GasLimitFallback
		pipeline.MinGasPriceWei = cfg.MinGasPriceWei
		pipeline.Metrics = metrics
		gw.Committer = pipeline
		cleanup = client.Close
	}

	return gw, cleanup, nil
}
