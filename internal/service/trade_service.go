package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polyclaw/internal/domain"
	"github.com/alanyoungcy/polyclaw/internal/notify"
)

// MarketProvider returns live market metadata. *polymarket.GammaClient
// satisfies it.
type MarketProvider interface {
	GetMarket(ctx context.Context, id string) (domain.MarketInfo, error)
}

// Splitter converts collateral into a full YES/NO token set on chain.
type Splitter interface {
	Split(ctx context.Context, conditionID string, amountUSD float64) (string, error)
}

// BalanceSource reports the wallet's live balances.
type BalanceSource interface {
	Balances(ctx context.Context) (domain.Balances, error)
}

// HedgeSeller sells the unwanted side right after a split.
type HedgeSeller interface {
	SellFillOrKill(ctx context.Context, tokenID string, amount, referencePrice float64) (string, bool, error)
}

// EventNotifier receives saga outcomes. *notify.Notifier satisfies it.
type EventNotifier interface {
	Notify(ctx context.Context, event notify.Event, title, message string) error
}

// TradeService runs the buy saga: split collateral on chain, sell the
// unwanted side on the order book, and record the position.
//
// The split is the point of no return. Once it confirms, Buy reports
// success and always attempts to persist a record; later failures are
// attached to the result instead of failing it.
type TradeService struct {
	markets     MarketProvider
	splitter    Splitter
	balances    BalanceSource
	seller      HedgeSeller
	positions   domain.PositionStore
	notifier    EventNotifier
	settleDelay time.Duration
	logger      *slog.Logger

	newID func() string
	now   func() time.Time
}

// NewTradeService creates a TradeService. splitter and balances may be nil
// when no wallet is configured; Buy then fails with domain.ErrConfiguration.
func NewTradeService(
	markets MarketProvider,
	splitter Splitter,
	balances BalanceSource,
	seller HedgeSeller,
	positions domain.PositionStore,
	settleDelay time.Duration,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		markets:     markets,
		splitter:    splitter,
		balances:    balances,
		seller:      seller,
		positions:   positions,
		settleDelay: settleDelay,
		logger:      logger.With(slog.String("component", "trade_service")),
		newID:       func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

// WithNotifier attaches a notifier for trade_executed and hedge_failed.
func (s *TradeService) WithNotifier(n EventNotifier) *TradeService {
	s.notifier = n
	return s
}

// Buy acquires req.Side of req.MarketID for req.Amount USD of collateral.
//
// A non-nil error means nothing happened on chain (Success is false). After
// a confirmed split the error is nil, hedge problems are in result.Error and
// a failed store write is in result.PersistError.
func (s *TradeService) Buy(ctx context.Context, req domain.TradeRequest) (domain.TradeResult, error) {
	res := domain.TradeResult{
		MarketID: req.MarketID,
		Position: req.Side,
		Amount:   req.Amount,
	}
	fail := func(err error) (domain.TradeResult, error) {
		res.Error = err.Error()
		return res, err
	}

	side, err := domain.ParseSide(string(req.Side))
	if err != nil {
		return fail(fmt.Errorf("trade_service: %w", err))
	}
	res.Position = side
	if req.Amount <= 0 {
		return fail(fmt.Errorf("trade_service: %w: amount must be positive, got %v", domain.ErrInvalidOrder, req.Amount))
	}
	if s.splitter == nil || s.balances == nil {
		return fail(fmt.Errorf("trade_service: %w: wallet not configured", domain.ErrConfiguration))
	}

	bal, err := s.balances.Balances(ctx)
	if err != nil {
		return fail(fmt.Errorf("trade_service: check balance: %w", err))
	}
	if bal.Collateral < req.Amount {
		return fail(fmt.Errorf("trade_service: %w: have %.2f USDC.e, need %.2f",
			domain.ErrInsufficientFunds, bal.Collateral, req.Amount))
	}

	market, err := s.markets.GetMarket(ctx, req.MarketID)
	if err != nil {
		return fail(fmt.Errorf("trade_service: fetch market: %w", err))
	}
	if market.ConditionID == "" {
		return fail(fmt.Errorf("trade_service: market %s has no condition id", req.MarketID))
	}

	wantedToken := market.TokenFor(side)
	unwantedToken := market.TokenFor(side.Opposite())
	res.Question = market.Question
	res.WantedTokenID = wantedToken
	res.EntryPrice = market.PriceFor(side)

	s.logger.InfoContext(ctx, "splitting collateral",
		slog.String("market_id", req.MarketID),
		slog.String("position", string(side)),
		slog.Float64("amount", req.Amount),
		slog.Float64("wanted_price", res.EntryPrice),
		slog.Float64("unwanted_price", market.PriceFor(side.Opposite())),
	)

	splitTx, err := s.splitter.Split(ctx, market.ConditionID, req.Amount)
	if err != nil {
		return fail(fmt.Errorf("trade_service: split failed: %w", err))
	}

	// Committed from here on.
	res.Success = true
	res.SplitTx = splitTx
	postCtx := context.WithoutCancel(ctx)

	var hedgeErr error
	var note string
	switch {
	case req.SkipSell:
		note = "hedge skipped: holding both sides"
	case unwantedToken == "":
		note = "hedge skipped: market has no opposite token"
	case s.seller == nil:
		note = "hedge skipped: order book client unavailable"
	default:
		if err := sleepCtx(ctx, s.settleDelay); err != nil {
			hedgeErr = fmt.Errorf("hedge not attempted: %w", err)
			break
		}
		orderID, filled, err := s.seller.SellFillOrKill(ctx, unwantedToken, req.Amount, market.PriceFor(side.Opposite()))
		res.ClobOrderID = orderID
		res.ClobFilled = filled
		hedgeErr = err
	}
	if hedgeErr != nil {
		res.Error = hedgeErr.Error()
		note = "hedge failed: " + hedgeErr.Error()
		s.logger.WarnContext(postCtx, "hedge sell failed, opposite tokens kept",
			slog.String("market_id", req.MarketID),
			slog.String("token_id", unwantedToken),
			slog.String("split_tx", splitTx),
			slog.String("error", hedgeErr.Error()),
		)
	}

	rec := domain.PositionRecord{
		PositionID:  s.newID(),
		MarketID:    req.MarketID,
		ConditionID: market.ConditionID,
		Question:    market.Question,
		Position:    side,
		TokenID:     wantedToken,
		EntryTime:   s.now().UTC().Format(time.RFC3339),
		EntryAmount: req.Amount,
		EntryPrice:  res.EntryPrice,
		SplitTx:     splitTx,
		ClobFilled:  res.ClobFilled,
		Status:      domain.PositionStatusOpen,
	}
	if res.ClobOrderID != "" {
		rec.ClobOrderID = domain.StringPtr(res.ClobOrderID)
	}
	if note != "" {
		rec.Notes = domain.StringPtr(note)
	}

	if err := s.positions.Add(postCtx, rec); err != nil {
		res.PersistError = err.Error()
		s.logger.ErrorContext(postCtx, "position not persisted, re-enter it manually",
			slog.String("error", err.Error()),
			slog.Any("record", rec),
		)
	} else {
		res.PositionID = rec.PositionID
	}

	s.logger.InfoContext(postCtx, "trade executed",
		slog.String("position_id", rec.PositionID),
		slog.String("split_tx", splitTx),
		slog.Bool("clob_filled", res.ClobFilled),
	)
	s.notify(postCtx, notify.EventTradeExecuted, "Trade executed",
		fmt.Sprintf("%s %s $%.2f on %s\nsplit tx %s", side, req.MarketID, req.Amount, market.Question, splitTx))
	if hedgeErr != nil {
		s.notify(postCtx, notify.EventHedgeFailed, "Hedge sell failed",
			fmt.Sprintf("%s: %s", market.Question, hedgeErr.Error()))
	}

	return res, nil
}

func (s *TradeService) notify(ctx context.Context, event notify.Event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notification failed",
			slog.String("event", string(event)),
			slog.String("error", err.Error()),
		)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
