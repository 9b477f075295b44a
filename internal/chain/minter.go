package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNoFaucetKey = errors.New("FAUCET_OWNER_KEY not configured")

// TxBackend is the subset of ethclient.Client needed to submit a transaction.
type TxBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Minter calls mint(to) on the test token from the token owner account.
type Minter struct {
	backend TxBackend
	network Network
	key     *ecdsa.PrivateKey
	from    common.Address

	// serializes nonce selection
	mu sync.Mutex
}

func NewMinter(backend TxBackend, network Network, hexKey string) (*Minter, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, ErrNoFaucetKey
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("error parsing faucet key: %w", err)
	}
	return &Minter{
		backend: backend,
		network: network,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (m *Minter) From() common.Address { return m.from }

// Mint submits the mint transaction and returns its hash without waiting
// for inclusion.
func (m *Minter) Mint(ctx context.Context, to string) (string, error) {
	recipient, err := ParseAddress(to)
	if err != nil {
		return "", err
	}
	data, err := usdtABI.Pack("mint", recipient)
	if err != nil {
		return "", fmt.Errorf("error encoding mint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	chainID, err := m.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("error reading chain id: %w", err)
	}
	if chainID.Int64() != m.network.ChainID {
		return "", fmt.Errorf("%w: please switch network to %s", ErrWrongNetwork, m.network.DisplayName)
	}

	token := m.network.USDTAddress()
	nonce, err := m.backend.PendingNonceAt(ctx, m.from)
	if err != nil {
		return "", fmt.Errorf("error reading nonce: %w", err)
	}
	gasPrice, err := m.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("error reading gas price: %w", err)
	}
	gas, err := m.backend.EstimateGas(ctx, ethereum.CallMsg{From: m.from, To: &token, Data: data})
	if err != nil {
		return "", fmt.Errorf("error estimating gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &token,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), m.key)
	if err != nil {
		return "", fmt.Errorf("error signing mint: %w", err)
	}
	if err := m.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("error sending mint: %w", err)
	}
	return signed.Hash().Hex(), nil
}
