package wallet

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polyclaw/internal/config"
	"github.com/alanyoungcy/polyclaw/internal/crypto"
	"github.com/alanyoungcy/polyclaw/internal/domain"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeReader struct {
	native, collateral *big.Int
	err                error
	approvals          []domain.Approval
	setCalls           int
}

func (f *fakeReader) NativeBalance(context.Context) (*big.Int, error)     { return f.native, f.err }
func (f *fakeReader) CollateralBalance(context.Context) (*big.Int, error) { return f.collateral, nil }
func (f *fakeReader) CheckApprovals(context.Context) ([]domain.Approval, error) {
	return f.approvals, nil
}
func (f *fakeReader) SetApprovals(context.Context) ([]domain.Approval, error) {
	f.setCalls++
	return f.approvals, nil
}

func TestLoadKeyMissingIsConfigurationError(t *testing.T) {
	_, err := LoadKey(config.WalletConfig{})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoadKeyFromEncryptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.enc")
	if err := crypto.WriteEncryptedKey(path, testKeyHex, "hunter2"); err != nil {
		t.Fatalf("WriteEncryptedKey: %v", err)
	}
	key, err := LoadKey(config.WalletConfig{EncryptedKeyPath: path, KeyPassword: "hunter2"})
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	raw, _ := LoadKey(config.WalletConfig{PrivateKey: "0x" + testKeyHex})
	if ethcrypto.PubkeyToAddress(key.PublicKey) != ethcrypto.PubkeyToAddress(raw.PublicKey) {
		t.Fatal("encrypted and raw key disagree")
	}

	if _, err := LoadKey(config.WalletConfig{EncryptedKeyPath: path, KeyPassword: "wrong"}); err == nil || errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected decrypt failure, got %v", err)
	}
}

func TestBalancesConvertsUnits(t *testing.T) {
	key, _ := LoadKey(config.WalletConfig{PrivateKey: testKeyHex})
	native, _ := new(big.Int).SetString("1500000000000000000", 10)
	w := New(key, &fakeReader{native: native, collateral: big.NewInt(123_450_000)})

	b, err := w.Balances(context.Background())
	if err != nil {
		t.Fatalf("Balances: %v", err)
	}
	if b.Native != 1.5 || b.Collateral != 123.45 {
		t.Fatalf("unexpected balances: %+v", b)
	}
	if b.Address != w.Address() {
		t.Fatalf("address mismatch: %s", b.Address)
	}
}

func TestBalancesPropagatesErrors(t *testing.T) {
	key, _ := LoadKey(config.WalletConfig{PrivateKey: testKeyHex})
	w := New(key, &fakeReader{err: errors.New("rpc down"), collateral: big.NewInt(1)})
	if _, err := w.Balances(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	unbound := New(key, nil)
	if _, err := unbound.Balances(context.Background()); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration without reader, got %v", err)
	}
}

func TestApprovalsAndLock(t *testing.T) {
	key, _ := LoadKey(config.WalletConfig{PrivateKey: testKeyHex})
	r := &fakeReader{approvals: []domain.Approval{{Approved: true}, {Approved: false}}}
	w := New(key, r)

	_, all, err := w.CheckApprovals(context.Background())
	if err != nil || all {
		t.Fatalf("expected incomplete approvals, got all=%v err=%v", all, err)
	}
	if _, err := w.SetApprovals(context.Background()); err != nil || r.setCalls != 1 {
		t.Fatalf("SetApprovals: %v calls=%d", err, r.setCalls)
	}

	if got, err := w.Key(); err != nil || got != key {
		t.Fatalf("Key: %v", err)
	}
	w.Lock()
	if _, err := w.Key(); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration after Lock, got %v", err)
	}
}
