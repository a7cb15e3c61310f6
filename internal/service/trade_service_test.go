package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/alanyoungcy/polyclaw/internal/domain"
	"github.com/alanyoungcy/polyclaw/internal/notify"
)

func rainMarket() domain.MarketInfo {
	return domain.MarketInfo{
		ID:          "512",
		Question:    "Will it rain?",
		ConditionID: "0xAAA",
		YesTokenID:  "tok-yes",
		NoTokenID:   "tok-no",
		YesPrice:    0.65,
		NoPrice:     0.35,
	}
}

type tradeFixture struct {
	markets  *fakeMarkets
	splitter *fakeSplitter
	balances *fakeBalances
	seller   *fakeSeller
	store    *memStore
	notifier *fakeNotifier
	svc      *TradeService
}

func newTradeFixture() *tradeFixture {
	f := &tradeFixture{
		markets:  &fakeMarkets{markets: map[string]domain.MarketInfo{"512": rainMarket()}},
		splitter: &fakeSplitter{tx: "0xsplit"},
		balances: &fakeBalances{bal: domain.Balances{Collateral: 100}},
		seller:   &fakeSeller{},
		store:    &memStore{},
		notifier: &fakeNotifier{},
	}
	f.svc = NewTradeService(f.markets, f.splitter, f.balances, f.seller, f.store, 0, discardLogger()).
		WithNotifier(f.notifier)
	f.svc.newID = func() string { return "pos-1" }
	return f
}

func TestBuyHedgeLiquidityFailureStillRecordsPosition(t *testing.T) {
	f := newTradeFixture()
	f.seller.err = fmt.Errorf("%w: no liquidity at $0.31 - tokens kept, sell manually", domain.ErrLiquidityUnavailable)

	res, err := f.svc.Buy(context.Background(), domain.TradeRequest{MarketID: "512", Side: "yes", Amount: 50})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.Success || res.SplitTx != "0xsplit" || res.ClobFilled {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Error, "no liquidity at $0.31") {
		t.Fatalf("expected hedge error in result, got %q", res.Error)
	}
	if res.Position != domain.SideYes || res.PositionID != "pos-1" || res.EntryPrice != 0.65 {
		t.Fatalf("unexpected result fields: %+v", res)
	}

	if got := f.splitter.calls; len(got) != 1 || got[0] != "0xAAA:50.00" {
		t.Fatalf("unexpected split calls: %v", got)
	}
	if len(f.seller.calls) != 1 || f.seller.calls[0] != (sellCall{"tok-no", 50, 0.35}) {
		t.Fatalf("unexpected sell calls: %+v", f.seller.calls)
	}

	rec := f.store.byID("pos-1")
	if rec.Status != domain.PositionStatusOpen || rec.ClobFilled || rec.ClobOrderID != nil {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.TokenID != "tok-yes" || rec.ConditionID != "0xAAA" || rec.SplitTx != "0xsplit" || rec.EntryAmount != 50 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Notes == nil || !strings.HasPrefix(*rec.Notes, "hedge failed: ") {
		t.Fatalf("expected hedge note, got %v", rec.Notes)
	}
	if f.notifier.count(notify.EventTradeExecuted) != 1 || f.notifier.count(notify.EventHedgeFailed) != 1 {
		t.Fatalf("unexpected events: %+v", f.notifier.events)
	}
}

func TestBuyFilledHedge(t *testing.T) {
	f := newTradeFixture()
	f.seller.orderID = "0xorder"
	f.seller.filled = true

	res, err := f.svc.Buy(context.Background(), domain.TradeRequest{MarketID: "512", Side: domain.SideNo, Amount: 10})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.Success || !res.ClobFilled || res.ClobOrderID != "0xorder" || res.Error != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if f.seller.calls[0].tokenID != "tok-yes" || f.seller.calls[0].ref != 0.65 {
		t.Fatalf("expected the YES side to be sold, got %+v", f.seller.calls[0])
	}
	rec := f.store.byID("pos-1")
	if rec.ClobOrderID == nil || *rec.ClobOrderID != "0xorder" || !rec.ClobFilled || rec.Notes != nil {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if f.notifier.count(notify.EventHedgeFailed) != 0 {
		t.Fatal("unexpected hedge_failed event")
	}
}

func TestBuySkipSellKeepsBothSides(t *testing.T) {
	f := newTradeFixture()
	res, err := f.svc.Buy(context.Background(), domain.TradeRequest{MarketID: "512", Side: domain.SideYes, Amount: 5, SkipSell: true})
	if err != nil || !res.Success {
		t.Fatalf("Buy: %+v %v", res, err)
	}
	if len(f.seller.calls) != 0 {
		t.Fatal("seller must not be called with SkipSell")
	}
	if rec := f.store.byID("pos-1"); rec.Notes == nil || !strings.Contains(*rec.Notes, "skipped") {
		t.Fatalf("expected skip note, got %+v", rec)
	}
}

func TestBuyGuardFailuresHaveNoSideEffects(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *tradeFixture)
		req   domain.TradeRequest
		want  error
	}{
		{
			name: "invalid side",
			req:  domain.TradeRequest{MarketID: "512", Side: "MAYBE", Amount: 5},
			want: domain.ErrInvalidSide,
		},
		{
			name: "non-positive amount",
			req:  domain.TradeRequest{MarketID: "512", Side: domain.SideYes, Amount: 0},
			want: domain.ErrInvalidOrder,
		},
		{
			name:  "no wallet",
			setup: func(f *tradeFixture) { f.svc.splitter = nil },
			req:   domain.TradeRequest{MarketID: "512", Side: domain.SideYes, Amount: 5},
			want:  domain.ErrConfiguration,
		},
		{
			name:  "insufficient funds",
			setup: func(f *tradeFixture) { f.balances.bal.Collateral = 4.99 },
			req:   domain.TradeRequest{MarketID: "512", Side: domain.SideYes, Amount: 5},
			want:  domain.ErrInsufficientFunds,
		},
		{
			name: "unknown market",
			req:  domain.TradeRequest{MarketID: "404", Side: domain.SideYes, Amount: 5},
			want: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTradeFixture()
			if tt.setup != nil {
				tt.setup(f)
			}
			res, err := f.svc.Buy(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if res.Success || res.Error == "" {
				t.Fatalf("unexpected result: %+v", res)
			}
			if len(f.splitter.calls) != 0 || len(f.seller.calls) != 0 || f.store.writes != 0 {
				t.Fatalf("side effects: splits=%d sells=%d writes=%d", len(f.splitter.calls), len(f.seller.calls), f.store.writes)
			}
			if len(f.notifier.events) != 0 {
				t.Fatalf("unexpected events: %+v", f.notifier.events)
			}
		})
	}
}

func TestBuyBalanceReadFailure(t *testing.T) {
	f := newTradeFixture()
	f.balances.err = errors.New("rpc down")
	if _, err := f.svc.Buy(context.Background(), domain.TradeRequest{MarketID: "512", Side: domain.SideYes, Amount: 5}); err == nil {
		t.Fatal("expected error")
	}
	if f.markets.calls != 0 || len(f.splitter.calls) != 0 {
		t.Fatal("must stop before fetching the market")
	}
}

func TestBuySplitFailureIsNotRecorded(t *testing.T) {
	f := newTradeFixture()
	f.splitter.err = &domain.ChainExecutionError{Op: "split", TxHash: "0xdead", Reason: "reverted"}

	res, err := f.svc.Buy(context.Background(), domain.TradeRequest{MarketID: "512", Side: domain.SideYes, Amount: 5})
	if !errors.Is(err, domain.ErrChainExecutionFailed) {
		t.Fatalf("expected chain execution error, got %v", err)
	}
	if res.Success || f.store.writes != 0 || len(f.seller.calls) != 0 {
		t.Fatalf("unexpected state: %+v writes=%d", res, f.store.writes)
	}
}

func TestBuyPersistFailureIsReportedNotFatal(t *testing.T) {
	f := newTradeFixture()
	f.seller.orderID = "0xorder"
	f.seller.filled = true
	f.store.addErr = errors.New("disk full")

	res, err := f.svc.Buy(context.Background(), domain.TradeRequest{MarketID: "512", Side: domain.SideYes, Amount: 5})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if !res.Success || res.PersistError != "disk full" || res.PositionID != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestBuyPersistsEvenWhenCallerCancels(t *testing.T) {
	f := newTradeFixture()
	ctx, cancel := context.WithCancel(context.Background())
	f.svc.seller = sellerFunc(func(ctx context.Context) (string, bool, error) {
		cancel()
		return "", false, ctx.Err()
	})

	res, err := f.svc.Buy(ctx, domain.TradeRequest{MarketID: "512", Side: domain.SideYes, Amount: 5})
	if err != nil || !res.Success {
		t.Fatalf("Buy: %+v %v", res, err)
	}
	if n, _ := f.store.Count(context.Background()); n != 1 {
		t.Fatalf("expected the record to be persisted, got %d", n)
	}
}

type sellerFunc func(ctx context.Context) (string, bool, error)

func (f sellerFunc) SellFillOrKill(ctx context.Context, tokenID string, amount, ref float64) (string, bool, error) {
	return f(ctx)
}
