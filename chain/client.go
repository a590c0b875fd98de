// Package chain wraps go-ethereum's ethclient for the one thing this
// gateway needs from a chain: submit a store(...) call and later read
// it back. It is a thin client of an existing chain, not a node -
// spec.md's Non-goals explicitly exclude running or operating chain
// infrastructure.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Client bundles an RPC connection with the fixed contract address
// this gateway commits records to, grounded on
// blockchain_service.py.__init__'s self.w3 / self.contract_address /
// self.contract setup.
type Client struct {
	RPC             *ethclient.Client
	ContractAddress common.Address
	ChainID         *big.Int
}

// NewClient dials rpcURL and resolves the chain id once, matching
// blockchain_service.py's eager connection check at construction time
// rather than deferring it to the first call.
func NewClient(ctx context.Context, rpcURL string, contractAddress common.Address) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("chain: fetch chain id: %w", err)
	}
	return &Client{RPC: rpc, ContractAddress: contractAddress, ChainID: chainID}, nil
}

func (c *Client) Close() {
	c.RPC.Close()
}

// SuggestGasPrice reads the network's current suggested gas price.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.RPC.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain: suggest gas price: %w", err)
	}
	return price, nil
}

// EstimateGas estimates gas for a call to the contract from "from"
// with the given calldata.
func (c *Client) EstimateGas(ctx context.Context, from common.Address, data []byte) (uint64, error) {
	gas, err := c.RPC.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &c.ContractAddress,
		Data: data,
	})
	if err != nil {
		return 0, fmt.Errorf("chain: estimate gas: %w", err)
	}
	return gas, nil
}

// PendingNonceAt returns the next nonce to use for addr, accounting
// for transactions still pending in the mempool.
func (c *Client) PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := c.RPC.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("chain: pending nonce: %w", err)
	}
	return nonce, nil
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.RPC.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("chain: send transaction: %w", err)
	}
	return nil
}

// TransactionReceipt polls once for a transaction's receipt; callers
// that wait for confirmation loop this at a fixed interval, mirroring
// blockchain_service.py.verify_transaction_hash's wait-and-retry.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.RPC.TransactionReceipt(ctx, txHash)
}

// TransactionByHash looks up a transaction (pending or mined) by hash.
func (c *Client) TransactionByHash(ctx context.Context, txHash common.Hash) (tx *types.Transaction, isPending bool, err error) {
	return c.RPC.TransactionByHash(ctx, txHash)
}
