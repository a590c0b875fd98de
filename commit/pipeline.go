// Package commit implements the Commit Pipeline (spec.md §4.3): gas
// estimation, nonce-safe transaction construction and submission, and
// an optional confirmation wait.
package commit

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	glog "github.com/ethereum/go-ethereum/log"

	"github.com/tracegate/gateway/chain"
	"github.com/tracegate/gateway/fingerprint"
	"github.com/tracegate/gateway/telemetry"
	"github.com/tracegate/gateway/types"
)

// defaultGasMargin is the ~1.2x safety margin spec.md §4.3 step 2 applies
// to an estimated gas figure.
const defaultGasMargin = 1.2

// sepoliaChainID is the one test-chain id blockchain_service.py's
// commit_hash special-cases for the gas-price boost.
const sepoliaChainID = 11155111

// ChainRPC is the slice of chain.Client the Commit Pipeline depends
// on. Kept as an interface, rather than a concrete *chain.Client, so
// tests exercise the pipeline's gas/nonce/submit/receipt logic against
// a fake with no network or chain access, per the ambient test-tooling
// stack's "no network or chain access in tests" rule.
type ChainRPC interface {
	EstimateGas(ctx context.Context, from common.Address, data []byte) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// SignerAPI is the slice of chain.Signer the pipeline depends on.
type SignerAPI interface {
	NextNonce(ctx context.Context) (uint64, error)
	Release(nonce uint64)
	SignTx(tx *gethtypes.Transaction, chainID *big.Int) (*gethtypes.Transaction, error)
}

// Pipeline commits GenerationRecords on-chain. A Pipeline holds the
// chain client and signer for its lifetime; both are safe for
// concurrent Commit calls (spec.md §5: RPC client concurrent-read
// safe, signer mutex-guarded internally).
type Pipeline struct {
	RPC             ChainRPC
	ContractAddress common.Address
	ChainID         *big.Int

	Signer        SignerAPI
	SignerAddress common.Address

	GasLimitFallback uint64   // spec.md §6 GAS_LIMIT_FALLBACK, default 500000
	GasPriceBoost    float64  // spec.md §6 GAS_PRICE_BOOST, default 1.5
	BoostChainID     int64    // chain id the boost applies to; default sepoliaChainID
	MinGasPriceWei   *big.Int // spec.md §6 MIN_GAS_PRICE_WEI, default 1 gwei

	RPCTimeout  time.Duration // bounds gas/nonce/submit RPC calls, spec.md §5 "~20s"
	ReceiptPoll time.Duration // polling interval for the confirmation wait

	// Metrics is optional; when set, every Commit call records its
	// phase latencies, status, and gas cost/price (spec.md §1's
	// "fine-grained latency and cost telemetry" on the Commit Pipeline).
	Metrics *telemetry.Metrics
}

// NewPipeline builds a Pipeline from a live chain.Client and
// chain.Signer, with every gas, timeout and polling field set to its
// spec.md §6 default; callers override fields afterwards as needed.
func NewPipeline(c *chain.Client, s *chain.Signer) *Pipeline {
	return &Pipeline{
		RPC:              c,
		ContractAddress:  c.ContractAddress,
		ChainID:          c.ChainID,
		Signer:           s,
		SignerAddress:    s.Address,
		GasLimitFallback: 500_000,
		GasPriceBoost:    1.5,
		BoostChainID:     sepoliaChainID,
		MinGasPriceWei:   big.NewInt(1_000_000_000), // 1 gwei
		RPCTimeout:       20 * time.Second,
		ReceiptPoll:      2 * time.Second,
	}
}

// Commit implements spec.md §4.3 steps 1-6.
func (p *Pipeline) Commit(ctx context.Context, record types.GenerationRecord, fp types.Fingerprint, waitForConfirmation bool) (types.CommitResult, error) {
	start := time.Now()

	// Step 1: build call data. timestampISO and parametersJSON come
	// from the exact same canonicalization the fingerprint was signed
	// over, never recomputed independently, so there is no way for the
	// on-chain payload to diverge from what the fingerprint covers.
	_, parametersJSON, timestampISO, err := fingerprint.Canonicalize(record)
	if err != nil {
		return types.CommitResult{Status: types.CommitError}, err
	}
	callData, err := chain.PackStore(chain.StoreArgs{
		FingerprintHex: fingerprint.Hex(fp),
		Prompt:         record.Prompt,
		Response:       record.Response,
		Provider:       record.Provider,
		Model:          record.Model,
		TimestampISO:   timestampISO,
		ParametersJSON: parametersJSON,
		ConsensusVotes: record.ConsensusVotes,
	})
	if err != nil {
		return types.CommitResult{Status: types.CommitError}, err
	}

	// Step 2: gas estimation with margin and fallback.
	gasCtx, cancel := context.WithTimeout(ctx, p.RPCTimeout)
	gasLimit, err := p.RPC.EstimateGas(gasCtx, p.SignerAddress, callData)
	cancel()
	if err != nil {
		glog.Debug("commit: gas estimation failed, using fallback", "err", err, "fallback", p.GasLimitFallback)
		gasLimit = p.GasLimitFallback
	} else {
		gasLimit = uint64(float64(gasLimit) * defaultGasMargin)
	}

	// Step 3: gas price with chain-specific boost and floor.
	priceCtx, cancel := context.WithTimeout(ctx, p.RPCTimeout)
	gasPrice, err := p.RPC.SuggestGasPrice(priceCtx)
	cancel()
	if err != nil {
		return types.CommitResult{Status: types.CommitError}, ClassifyError(err)
	}
	if p.ChainID != nil && p.ChainID.Int64() == p.BoostChainID {
		boosted := new(big.Float).Mul(new(big.Float).SetInt(gasPrice), big.NewFloat(p.GasPriceBoost))
		boostedInt, _ := boosted.Int(nil)
		gasPrice = boostedInt
	}
	if p.MinGasPriceWei != nil && gasPrice.Cmp(p.MinGasPriceWei) < 0 {
		gasPrice = new(big.Int).Set(p.MinGasPriceWei)
	}

	// Step 4: nonce, build, sign, submit.
	nonceCtx, cancel := context.WithTimeout(ctx, p.RPCTimeout)
	nonce, err := p.Signer.NextNonce(nonceCtx)
	cancel()
	if err != nil {
		return types.CommitResult{Status: types.CommitError}, ClassifyError(err)
	}

	contractAddr := p.ContractAddress
	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &contractAddr,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     callData,
	})
	signedTx, err := p.Signer.SignTx(tx, p.ChainID)
	if err != nil {
		p.Signer.Release(nonce)
		return types.CommitResult{Status: types.CommitError}, ClassifyError(err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, p.RPCTimeout)
	err = p.RPC.SendTransaction(submitCtx, signedTx)
	cancel()
	submitMS := time.Since(start).Milliseconds()
	if err != nil {
		p.Signer.Release(nonce)
		return types.CommitResult{Status: types.CommitError}, ClassifyError(err)
	}

	var txHash [32]byte
	copy(txHash[:], signedTx.Hash().Bytes())

	glog.Debug("commit: transaction submitted", "tx_hash", signedTx.Hash(), "nonce", nonce, "gas_limit", gasLimit, "gas_price", gasPrice)

	// Step 5: return immediately if not waiting for confirmation.
	if !waitForConfirmation {
		estimatedCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
		totalMS := time.Since(start).Milliseconds()
		p.observe(submitMS, 0, totalMS, types.CommitPending.String(), nil, gasPrice)
		return types.CommitResult{
			TxHash:      txHash,
			GasPriceWei: gasPrice,
			GasCostWei:  estimatedCost,
			Status:      types.CommitPending,
			Timing: types.CommitTiming{
				SubmitMS: submitMS,
				TotalMS:  totalMS,
			},
		}, nil
	}

	// Step 6: block on the receipt.
	confirmStart := time.Now()
	receipt, err := p.waitReceipt(ctx, signedTx.Hash())
	confirmMS := time.Since(confirmStart).Milliseconds()
	if err != nil {
		totalMS := time.Since(start).Milliseconds()
		p.observe(submitMS, confirmMS, totalMS, types.CommitError.String(), nil, gasPrice)
		return types.CommitResult{
			TxHash: txHash,
			Status: types.CommitError,
			Timing: types.CommitTiming{SubmitMS: submitMS, ConfirmMS: confirmMS, TotalMS: totalMS},
		}, ClassifyError(err)
	}

	status := types.CommitConfirmedSuccess
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		status = types.CommitConfirmedFail
	}
	gasUsed := receipt.GasUsed
	blockNumber := receipt.BlockNumber.Uint64()
	gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), gasPrice)
	totalMS := time.Since(start).Milliseconds()
	p.observe(submitMS, confirmMS, totalMS, status.String(), gasCost, gasPrice)

	return types.CommitResult{
		TxHash:      txHash,
		BlockNumber: &blockNumber,
		GasUsed:     &gasUsed,
		GasPriceWei: gasPrice,
		GasCostWei:  gasCost,
		Status:      status,
		Timing: types.CommitTiming{
			SubmitMS:  submitMS,
			ConfirmMS: confirmMS,
			TotalMS:   totalMS,
		},
	}, nil
}

// observe records telemetry for one Commit call when Metrics is
// configured; a nil Metrics is a valid no-telemetry configuration.
func (p *Pipeline) observe(submitMS, confirmMS, totalMS int64, status string, gasCostWei, gasPriceWei *big.Int) {
	if p.Metrics == nil {
		return
	}
	costFloat := 0.0
	if gasCostWei != nil {
		costFloat, _ = new(big.Float).SetInt(gasCostWei).Float64()
	}
	priceFloat := 0.0
	if gasPriceWei != nil {
		priceFloat, _ = new(big.Float).SetInt(gasPriceWei).Float64()
	}
	p.Metrics.ObserveCommit(
		float64(submitMS)/1000, float64(confirmMS)/1000, float64(totalMS)/1000,
		status, costFloat, priceFloat,
	)
}

// waitReceipt polls for a transaction receipt on an unbounded loop
// governed only by ctx, matching spec.md §5's "the confirmation wait
// uses an unbounded wait on the RPC client's own polling loop" -
// callers needing a ceiling pass a deadline-bound ctx or use
// waitForConfirmation=false instead.
func (p *Pipeline) waitReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(p.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := p.RPC.TransactionReceipt(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
