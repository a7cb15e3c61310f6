// Package chain submits and reads Conditional Tokens Framework operations on
// Polygon: splitting collateral into outcome tokens, redeeming settled
// positions, balance and resolution reads, and exchange approvals.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// Backend is the part of *ethclient.Client the chain client uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Config tunes transaction submission.
type Config struct {
	ChainID         int64
	SplitGasLimit   uint64
	ApproveGasLimit uint64
	GasPriceBumpPct int64
	ReceiptTimeout  time.Duration
	ReceiptPoll     time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChainID == 0 {
		c.ChainID = PolygonChainID
	}
	if c.SplitGasLimit == 0 {
		c.SplitGasLimit = 300_000
	}
	if c.ApproveGasLimit == 0 {
		c.ApproveGasLimit = 100_000
	}
	if c.ReceiptTimeout <= 0 {
		c.ReceiptTimeout = 120 * time.Second
	}
	if c.ReceiptPoll <= 0 {
		c.ReceiptPoll = 2 * time.Second
	}
	return c
}

// Client signs with one key and talks to one node.
type Client struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	cfg     Config
	nonces  *NonceTracker
	logger  *slog.Logger
}

// Dial connects to rpcURL and returns a Client plus a close function.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, cfg Config, logger *slog.Logger) (*Client, func(), error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: dial rpc: %w", err)
	}
	c, err := New(ec, key, cfg, logger)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	return c, ec.Close, nil
}

// New builds a Client on an existing backend.
func New(backend Backend, key *ecdsa.PrivateKey, cfg Config, logger *slog.Logger) (*Client, error) {
	if key == nil {
		return nil, fmt.Errorf("chain: %w: signing key is required", domain.ErrConfiguration)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	from := crypto.PubkeyToAddress(key.PublicKey)
	c := &Client{
		backend: backend,
		key:     key,
		from:    from,
		signer:  types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "chain")),
	}
	c.nonces = NewNonceTracker(func(ctx context.Context) (uint64, error) {
		return backend.PendingNonceAt(ctx, from)
	})
	return c, nil
}

// Address returns the sender address.
func (c *Client) Address() common.Address { return c.from }

// ---------------------------------------------------------------------------
// State-changing operations
// ---------------------------------------------------------------------------

// Split converts amountUSD of collateral into one YES and one NO token per
// dollar for the given condition. It returns the confirmed transaction hash.
func (c *Client) Split(ctx context.Context, conditionID string, amountUSD float64) (string, error) {
	cond, err := ParseConditionID(conditionID)
	if err != nil {
		return "", err
	}
	amount, err := ToBaseUnits(amountUSD)
	if err != nil {
		return "", err
	}
	data, err := ctfABI.Pack("splitPosition", CollateralAddress, common.Hash{}, cond, indexSets(BinaryPartition), amount)
	if err != nil {
		return "", fmt.Errorf("chain: pack splitPosition: %w", err)
	}
	return c.transact(ctx, "split", CTFAddress, data, c.cfg.SplitGasLimit, true)
}

// Redeem burns the caller's outcome tokens of a resolved condition for
// collateral. Losing index sets pay zero, so passing both sets is safe.
func (c *Client) Redeem(ctx context.Context, conditionID string, sets []int64) (string, error) {
	cond, err := ParseConditionID(conditionID)
	if err != nil {
		return "", err
	}
	if len(sets) == 0 {
		sets = BinaryPartition
	}
	data, err := ctfABI.Pack("redeemPositions", CollateralAddress, common.Hash{}, cond, indexSets(sets))
	if err != nil {
		return "", fmt.Errorf("chain: pack redeemPositions: %w", err)
	}
	return c.transact(ctx, "redeem", CTFAddress, data, c.cfg.SplitGasLimit, true)
}

// transact signs and submits a legacy transaction and waits for its receipt.
// A transaction that reaches the node but does not succeed comes back as a
// *domain.ChainExecutionError carrying its hash; it is never resubmitted.
func (c *Client) transact(ctx context.Context, op string, to common.Address, data []byte, gasLimit uint64, bump bool) (string, error) {
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: %s: gas price: %w", op, err)
	}
	if bump && c.cfg.GasPriceBumpPct > 0 {
		gasPrice = new(big.Int).Div(
			new(big.Int).Mul(gasPrice, big.NewInt(100+c.cfg.GasPriceBumpPct)),
			big.NewInt(100),
		)
	}

	nonce, err := c.nonces.Next(ctx)
	if err != nil {
		return "", fmt.Errorf("chain: %s: nonce: %w", op, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		c.nonces.Reset()
		return "", fmt.Errorf("chain: %s: %w: %v", op, domain.ErrSigningFailed, err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		c.nonces.Reset()
		return "", fmt.Errorf("chain: %s: send: %w", op, err)
	}

	hash := signed.Hash().Hex()
	c.logger.InfoContext(ctx, "transaction submitted",
		slog.String("op", op),
		slog.String("tx", hash),
		slog.Uint64("nonce", nonce),
	)

	receipt, err := c.waitReceipt(ctx, signed.Hash())
	if err != nil {
		return hash, &domain.ChainExecutionError{Op: op, TxHash: hash, Reason: err.Error()}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, &domain.ChainExecutionError{Op: op, TxHash: hash, Reason: "transaction reverted"}
	}
	c.logger.InfoContext(ctx, "transaction confirmed",
		slog.String("op", op),
		slog.String("tx", hash),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return hash, nil
}

// waitReceipt polls for a receipt until ReceiptTimeout elapses.
func (c *Client) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.ReceiptPoll)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.DebugContext(ctx, "receipt poll failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no receipt within %s: %w", c.cfg.ReceiptTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// TokenBalance returns the caller's balance of an outcome token in base units.
func (c *Client) TokenBalance(ctx context.Context, tokenID string) (*big.Int, error) {
	id, err := ParseTokenID(tokenID)
	if err != nil {
		return nil, err
	}
	return c.callUint(ctx, ctfABI, CTFAddress, "balanceOf", c.from, id)
}

// IsResolved reports whether the condition has reported payouts.
func (c *Client) IsResolved(ctx context.Context, conditionID string) (bool, error) {
	cond, err := ParseConditionID(conditionID)
	if err != nil {
		return false, err
	}
	den, err := c.callUint(ctx, ctfABI, CTFAddress, "payoutDenominator", cond)
	if err != nil {
		return false, err
	}
	return den.Sign() > 0, nil
}

// CollateralBalance returns the caller's USDC.e balance in base units.
func (c *Client) CollateralBalance(ctx context.Context) (*big.Int, error) {
	return c.callUint(ctx, erc20ABI, CollateralAddress, "balanceOf", c.from)
}

// NativeBalance returns the caller's POL balance in wei.
func (c *Client) NativeBalance(ctx context.Context) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, c.from, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: native balance: %w", err)
	}
	return bal, nil
}

func (c *Client) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("chain: %s returned nothing", method)
	}
	return vals, nil
}

func (c *Client) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	vals, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s returned %T", method, vals[0])
	}
	return v, nil
}

func (c *Client) callBool(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (bool, error) {
	vals, err := c.call(ctx, contract, to, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: %s returned %T", method, vals[0])
	}
	return v, nil
}
