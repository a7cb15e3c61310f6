// Package wallet holds the signing key for a polyclaw run and reports the
// account's balances and exchange approvals.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyclaw/internal/chain"
	"github.com/alanyoungcy/polyclaw/internal/config"
	"github.com/alanyoungcy/polyclaw/internal/crypto"
	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// nativeDecimals is the precision of POL.
const nativeDecimals = 18

// Reader is the chain access the wallet needs. *chain.Client satisfies it.
type Reader interface {
	NativeBalance(ctx context.Context) (*big.Int, error)
	CollateralBalance(ctx context.Context) (*big.Int, error)
	CheckApprovals(ctx context.Context) ([]domain.Approval, error)
	SetApprovals(ctx context.Context) ([]domain.Approval, error)
}

var _ Reader = (*chain.Client)(nil)

// Wallet is an unlocked account. The key is read-only for the life of the
// process unless Lock is called.
type Wallet struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
	reader  Reader
}

// LoadKey resolves the configured key source. A missing source is reported
// as domain.ErrConfiguration.
func LoadKey(cfg config.WalletConfig) (*ecdsa.PrivateKey, error) {
	key, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.PrivateKey,
		EncryptedKeyPath: cfg.EncryptedKeyPath,
		KeyPassword:      cfg.KeyPassword,
	})
	if errors.Is(err, crypto.ErrNoKey) {
		return nil, fmt.Errorf("wallet: %w: POLYCLAW_PRIVATE_KEY not set", domain.ErrConfiguration)
	}
	if err != nil {
		return nil, fmt.Errorf("wallet: load key: %w", err)
	}
	return key, nil
}

// New wraps key. A nil reader leaves balances and approvals unavailable.
func New(key *ecdsa.PrivateKey, reader Reader) *Wallet {
	return &Wallet{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
		reader:  reader,
	}
}

// Address is the checksummed account address.
func (w *Wallet) Address() string { return w.address.Hex() }

// Key returns the signing key, or domain.ErrConfiguration after Lock.
func (w *Wallet) Key() (*ecdsa.PrivateKey, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.key == nil {
		return nil, fmt.Errorf("wallet: %w: wallet is locked", domain.ErrConfiguration)
	}
	return w.key, nil
}

// Lock forgets the key.
func (w *Wallet) Lock() {
	w.mu.Lock()
	w.key = nil
	w.mu.Unlock()
}

func (w *Wallet) chainReader() (Reader, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.reader == nil {
		return nil, fmt.Errorf("wallet: %w: no RPC endpoint bound", domain.ErrConfiguration)
	}
	return w.reader, nil
}

// Balances reads POL and USDC.e balances concurrently.
func (w *Wallet) Balances(ctx context.Context) (domain.Balances, error) {
	r, err := w.chainReader()
	if err != nil {
		return domain.Balances{}, err
	}

	var native, collateral *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := r.NativeBalance(gctx)
		if err != nil {
			return fmt.Errorf("wallet: native balance: %w", err)
		}
		native = v
		return nil
	})
	g.Go(func() error {
		v, err := r.CollateralBalance(gctx)
		if err != nil {
			return fmt.Errorf("wallet: collateral balance: %w", err)
		}
		collateral = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.Balances{}, err
	}

	return domain.Balances{
		Address:    w.Address(),
		Native:     decimal.NewFromBigInt(native, -nativeDecimals).InexactFloat64(),
		Collateral: chain.FromBaseUnits(collateral),
	}, nil
}

// CheckApprovals reports each exchange approval and whether all are in place.
func (w *Wallet) CheckApprovals(ctx context.Context) ([]domain.Approval, bool, error) {
	r, err := w.chainReader()
	if err != nil {
		return nil, false, err
	}
	approvals, err := r.CheckApprovals(ctx)
	if err != nil {
		return nil, false, err
	}
	all := true
	for _, a := range approvals {
		all = all && a.Approved
	}
	return approvals, all, nil
}

// SetApprovals grants whatever approvals are missing.
func (w *Wallet) SetApprovals(ctx context.Context) ([]domain.Approval, error) {
	r, err := w.chainReader()
	if err != nil {
		return nil, err
	}
	return r.SetApprovals(ctx)
}
