package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds one account's private key and hands out monotonically
// increasing nonces under a mutex, so concurrent commits from the same
// account never race for the same nonce. Grounded on
// blockchain_service.py's self.nonce_lock / self._get_next_nonce,
// which serializes nonce assignment the same way around a single
// in-process lock.
type Signer struct {
	key     *ecdsa.PrivateKey
	Address common.Address
	client  *Client

	mu        sync.Mutex
	nextNonce uint64
	seeded    bool
}

// NewSigner parses a hex-encoded ECDSA private key (with or without a
// leading "0x") and derives its address.
func NewSigner(client *Client, privateKeyHex string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse private key: %w", err)
	}
	return &Signer{
		key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		client:  client,
	}, nil
}

// NextNonce returns the next nonce to use and reserves it, seeding the
// counter from the chain's pending nonce on first use.
func (s *Signer) NextNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		n, err := s.client.PendingNonceAt(ctx, s.Address)
		if err != nil {
			return 0, err
		}
		s.nextNonce = n
		s.seeded = true
	}
	nonce := s.nextNonce
	s.nextNonce++
	return nonce, nil
}

// Release gives a reserved nonce back to the pool, used when a signed
// transaction ultimately fails to submit so the next caller doesn't
// skip over it.
func (s *Signer) Release(nonce uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seeded && nonce == s.nextNonce-1 {
		s.nextNonce--
	}
}

// SignTx signs tx for this account against chainID using the latest
// signer for that chain, matching the chain-id-bound signing
// blockchain_service.py performs via web3's sign_transaction.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	signed, err := types.SignTx(tx, signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("chain: sign transaction: %w", err)
	}
	return signed, nil
}
