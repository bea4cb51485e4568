// Package chain anchors accepted scores on the player-stats ledger contract.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/arcade-scores/internal/config"
)

// ErrorDisabled is the Result.Error reported when no signer is configured
const ErrorDisabled = "disabled"

// updateUserStats minimal ABI
const playerStatsABI = `[
	{"name":"updateUserStats","type":"function","inputs":[
		{"name":"user","type":"address"},
		{"name":"scoreAmount","type":"uint256"},
		{"name":"transactionAmount","type":"uint256"}
	],"outputs":[]}
]`

// Backend is the subset of an Ethereum RPC client used for anchoring.
// *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Result is the outcome of one anchor call
type Result struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failed(err error) Result {
	return Result{Error: err.Error()}
}

// Client submits updateUserStats transactions signed by a single key.
// Nonce assignment is serialized so concurrent anchors do not collide.
type Client struct {
	backend     Backend
	contract    common.Address
	key         *ecdsa.PrivateKey
	from        common.Address
	abi         abi.ABI
	gasLimit    uint64
	timeout     time.Duration
	waitReceipt bool
	receiptPoll time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	chainID *big.Int
	closeFn func()
}

// NewClient dials the configured RPC endpoint. When anchoring is not
// configured it returns a disabled client that never touches the network.
func NewClient(ctx context.Context, cfg *config.ChainConfig, logger *slog.Logger) (*Client, error) {
	if !cfg.Enabled() {
		logger.Info("chain anchoring disabled, no signer configured")
		return Disabled(), nil
	}

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c, err := NewClientWithBackend(eth, cfg, logger)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.closeFn = eth.Close
	return c, nil
}

// NewClientWithBackend builds an enabled client over an existing backend
func NewClientWithBackend(backend Backend, cfg *config.ChainConfig, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.SignerKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signer key: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(playerStatsABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	return &Client{
		backend:     backend,
		contract:    common.HexToAddress(cfg.ContractAddress),
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		abi:         parsed,
		gasLimit:    cfg.GasLimit,
		timeout:     cfg.Timeout,
		waitReceipt: cfg.WaitReceipt,
		receiptPoll: cfg.ReceiptPoll,
		logger:      logger,
	}, nil
}

// Disabled returns a client whose every anchor reports "disabled"
func Disabled() *Client {
	return &Client{}
}

// Enabled reports whether the client will attempt network calls
func (c *Client) Enabled() bool {
	return c.backend != nil
}

// Signer returns the address paying for anchor transactions
func (c *Client) Signer() common.Address {
	return c.from
}

// Close releases the RPC connection
func (c *Client) Close() {
	if c.closeFn != nil {
		c.closeFn()
	}
}

// Anchor adds score and transactionCount to the player's ledger totals.
// It never returns an error; failures are reported in the Result.
func (c *Client) Anchor(ctx context.Context, playerAddress string, score, transactionCount int64) Result {
	if !c.Enabled() {
		return Result{Error: ErrorDisabled}
	}
	if !common.IsHexAddress(playerAddress) {
		return Result{Error: fmt.Sprintf("invalid player address %q", playerAddress)}
	}
	if score < 0 || transactionCount < 0 {
		return Result{Error: "negative amount"}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	data, err := c.abi.Pack("updateUserStats",
		common.HexToAddress(playerAddress),
		big.NewInt(score),
		big.NewInt(transactionCount),
	)
	if err != nil {
		return failed(fmt.Errorf("pack updateUserStats: %w", err))
	}

	signed, err := c.send(ctx, data)
	if err != nil {
		c.logger.Warn("chain anchor failed", "player_address", playerAddress, "score", score, "error", err)
		return failed(err)
	}
	txHash := signed.Hash().Hex()

	if c.waitReceipt {
		if err := c.awaitReceipt(ctx, signed.Hash()); err != nil {
			c.logger.Warn("chain anchor not confirmed", "player_address", playerAddress, "tx_hash", txHash, "error", err)
			return Result{TxHash: txHash, Error: err.Error()}
		}
	}

	c.logger.Debug("chain anchor submitted", "player_address", playerAddress, "score", score, "tx_hash", txHash)
	return Result{Success: true, TxHash: txHash}
}

// send signs and broadcasts a contract call holding the nonce lock
func (c *Client) send(ctx context.Context, data []byte) (*types.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.chainID == nil {
		chainID, err := c.backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("chain id: %w", err)
		}
		c.chainID = chainID
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	nonce, err := c.backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.gasLimit,
		To:       &c.contract,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}

// awaitReceipt polls until the transaction is mined or ctx expires
func (c *Client) awaitReceipt(ctx context.Context, hash common.Hash) error {
	poll := c.receiptPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction reverted: %s", hash.Hex())
			}
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("transaction receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for receipt: %w", ctx.Err())
		case <-time.After(poll):
		}
	}
}
