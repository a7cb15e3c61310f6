package chain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

const testCondition = "0x1111111111111111111111111111111111111111111111111111111111111111"

// fakeBackend is an in-memory node. Every sent transaction gets a receipt
// whose status comes from statusFor (success by default).
type fakeBackend struct {
	mu         sync.Mutex
	nonce      uint64
	nonceCalls int
	gasPrice   *big.Int
	sendErr    error
	sent       []*types.Transaction
	statusFor  func(n int) uint64
	noReceipt  bool
	calls      func(msg ethereum.CallMsg) ([]byte, error)
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(137), nil }

func (f *fakeBackend) PendingNonceAt(ctx context.Context, _ common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.gasPrice != nil {
		return f.gasPrice, nil
	}
	return big.NewInt(30_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noReceipt {
		return nil, ethereum.NotFound
	}
	for i, tx := range f.sent {
		if tx.Hash() == hash {
			status := types.ReceiptStatusSuccessful
			if f.statusFor != nil {
				status = f.statusFor(i)
			}
			return &types.Receipt{Status: status, TxHash: hash, BlockNumber: big.NewInt(1), GasUsed: 21000}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.calls == nil {
		return nil, errors.New("no call handler")
	}
	return f.calls(msg)
}

func (f *fakeBackend) BalanceAt(ctx context.Context, _ common.Address, _ *big.Int) (*big.Int, error) {
	return big.NewInt(2_000_000_000_000_000), nil
}

func word(v *big.Int) []byte { return common.LeftPadBytes(v.Bytes(), 32) }

func newTestClient(t *testing.T, fb *fakeBackend) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	c, err := New(fb, key, Config{ReceiptTimeout: 200 * time.Millisecond, ReceiptPoll: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSplit_EncodesPartitionAndAmount(t *testing.T) {
	fb := &fakeBackend{nonce: 9}
	c := newTestClient(t, fb)

	hash, err := c.Split(context.Background(), testCondition, 50)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(fb.sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(fb.sent))
	}
	tx := fb.sent[0]
	if hash != tx.Hash().Hex() {
		t.Fatalf("hash mismatch: %s vs %s", hash, tx.Hash().Hex())
	}
	if *tx.To() != CTFAddress || tx.Gas() != 300_000 || tx.Nonce() != 9 {
		t.Fatalf("tx fields: to=%s gas=%d nonce=%d", tx.To().Hex(), tx.Gas(), tx.Nonce())
	}
	if want := big.NewInt(33_000_000_000); tx.GasPrice().Cmp(want) != 0 {
		t.Fatalf("gas price: got %s want %s (suggested + 10%%)", tx.GasPrice(), want)
	}

	method := ctfABI.Methods["splitPosition"]
	if !bytes.Equal(tx.Data()[:4], method.ID) {
		t.Fatalf("selector mismatch")
	}
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if args[0].(common.Address) != CollateralAddress {
		t.Fatalf("collateral: %v", args[0])
	}
	partition := args[3].([]*big.Int)
	if len(partition) != 2 || partition[0].Int64() != 1 || partition[1].Int64() != 2 {
		t.Fatalf("partition: %v", partition)
	}
	if amount := args[4].(*big.Int); amount.Cmp(big.NewInt(50_000_000)) != 0 {
		t.Fatalf("amount: got %s want 50000000", amount)
	}
}

func TestTransact_RevertIsChainExecutionErrorAndNotRetried(t *testing.T) {
	fb := &fakeBackend{statusFor: func(int) uint64 { return types.ReceiptStatusFailed }}
	c := newTestClient(t, fb)

	hash, err := c.Redeem(context.Background(), testCondition, nil)
	if !errors.Is(err, domain.ErrChainExecutionFailed) {
		t.Fatalf("expected ErrChainExecutionFailed, got %v", err)
	}
	var ce *domain.ChainExecutionError
	if !errors.As(err, &ce) || ce.TxHash == "" || ce.TxHash != hash {
		t.Fatalf("tx hash not carried: %v / %q", err, hash)
	}
	if len(fb.sent) != 1 {
		t.Fatalf("reverted tx must not be resubmitted, sent %d", len(fb.sent))
	}
}

func TestTransact_ReceiptTimeout(t *testing.T) {
	fb := &fakeBackend{noReceipt: true}
	c := newTestClient(t, fb)

	_, err := c.Split(context.Background(), testCondition, 1)
	if !errors.Is(err, domain.ErrChainExecutionFailed) {
		t.Fatalf("expected ErrChainExecutionFailed on timeout, got %v", err)
	}
}

func TestNonce_FetchedOncePerRun(t *testing.T) {
	fb := &fakeBackend{nonce: 4}
	c := newTestClient(t, fb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Redeem(ctx, testCondition, BinaryPartition); err != nil {
			t.Fatalf("Redeem %d: %v", i, err)
		}
	}
	if fb.nonceCalls != 1 {
		t.Fatalf("pending nonce fetched %d times, want 1", fb.nonceCalls)
	}
	for i, tx := range fb.sent {
		if tx.Nonce() != uint64(4+i) {
			t.Fatalf("tx %d nonce %d, want %d", i, tx.Nonce(), 4+i)
		}
	}
}

func TestNonce_ResetAfterSendFailure(t *testing.T) {
	fb := &fakeBackend{nonce: 1, sendErr: errors.New("connection refused")}
	c := newTestClient(t, fb)
	ctx := context.Background()

	if _, err := c.Split(ctx, testCondition, 1); err == nil || errors.Is(err, domain.ErrChainExecutionFailed) {
		t.Fatalf("send failure should be a plain error, got %v", err)
	}
	fb.sendErr = nil
	if _, err := c.Split(ctx, testCondition, 1); err != nil {
		t.Fatalf("Split: %v", err)
	}
	if fb.nonceCalls != 2 || fb.sent[0].Nonce() != 1 {
		t.Fatalf("nonce not re-fetched: calls=%d nonce=%d", fb.nonceCalls, fb.sent[0].Nonce())
	}
}

func TestReads(t *testing.T) {
	balanceOf := ctfABI.Methods["balanceOf"].ID
	payout := ctfABI.Methods["payoutDenominator"].ID
	usdc := erc20ABI.Methods["balanceOf"].ID

	fb := &fakeBackend{calls: func(msg ethereum.CallMsg) ([]byte, error) {
		sel := msg.Data[:4]
		switch {
		case *msg.To == CTFAddress && bytes.Equal(sel, balanceOf):
			return word(big.NewInt(3_000_000)), nil
		case *msg.To == CTFAddress && bytes.Equal(sel, payout):
			return word(big.NewInt(1)), nil
		case *msg.To == CollateralAddress && bytes.Equal(sel, usdc):
			return word(big.NewInt(12_500_000)), nil
		}
		return nil, errors.New("unexpected call")
	}}
	c := newTestClient(t, fb)
	ctx := context.Background()

	bal, err := c.TokenBalance(ctx, "71321045679252212594626385532706912750332728571942532289631379312455583992563")
	if err != nil || bal.Int64() != 3_000_000 {
		t.Fatalf("TokenBalance = %v, %v", bal, err)
	}
	resolved, err := c.IsResolved(ctx, testCondition)
	if err != nil || !resolved {
		t.Fatalf("IsResolved = %v, %v", resolved, err)
	}
	usd, err := c.CollateralBalance(ctx)
	if err != nil || FromBaseUnits(usd) != 12.5 {
		t.Fatalf("CollateralBalance = %v, %v", usd, err)
	}
}

func TestReads_PropagateRPCErrors(t *testing.T) {
	rpcErr := errors.New("503 service unavailable")
	fb := &fakeBackend{calls: func(ethereum.CallMsg) ([]byte, error) { return nil, rpcErr }}
	c := newTestClient(t, fb)

	if _, err := c.IsResolved(context.Background(), testCondition); !errors.Is(err, rpcErr) {
		t.Fatalf("IsResolved should surface rpc error, got %v", err)
	}
	if _, err := c.TokenBalance(context.Background(), "123"); !errors.Is(err, rpcErr) {
		t.Fatalf("TokenBalance should surface rpc error, got %v", err)
	}
}

func TestSetApprovals_SkipsGrantedAndSharesNonces(t *testing.T) {
	allowance := erc20ABI.Methods["allowance"].ID
	fb := &fakeBackend{nonce: 20, calls: func(msg ethereum.CallMsg) ([]byte, error) {
		if bytes.Equal(msg.Data[:4], allowance) {
			// Only the CTF spender already has an unlimited allowance.
			spender := common.BytesToAddress(msg.Data[4+32 : 4+64])
			if spender == CTFAddress {
				return word(new(big.Int).Lsh(big.NewInt(1), 256-1)), nil
			}
			return word(big.NewInt(0)), nil
		}
		return word(big.NewInt(0)), nil // isApprovedForAll = false
	}}
	c := newTestClient(t, fb)

	got, err := c.SetApprovals(context.Background())
	if err != nil {
		t.Fatalf("SetApprovals: %v", err)
	}
	if len(got) != 6 {
		t.Fatalf("approvals: %d", len(got))
	}
	if len(fb.sent) != 5 {
		t.Fatalf("sent %d approval txs, want 5", len(fb.sent))
	}
	for i, tx := range fb.sent {
		if tx.Nonce() != uint64(20+i) || tx.Gas() != 100_000 {
			t.Fatalf("tx %d nonce=%d gas=%d", i, tx.Nonce(), tx.Gas())
		}
	}
	for _, a := range got {
		if !a.Approved {
			t.Fatalf("approval not granted: %+v", a)
		}
	}
}
