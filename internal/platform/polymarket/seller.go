package polymarket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// OrderPoster is the part of ClobClient the Seller needs.
type OrderPoster interface {
	PostOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error)
	ResetTransport()
}

// SellerConfig tunes the fill-or-kill retry loop.
type SellerConfig struct {
	MaxRetries int           // total attempts, default 5
	RetryPause time.Duration // pause before each retry, default 1s
	Discount   float64       // hedge discount off the reference price, default 0.10
	// ProxyConfigured enables retries on edge blocks. Without a proxy a new
	// transport would leave from the same IP.
	ProxyConfigured bool
}

func (c SellerConfig) withDefaults() SellerConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryPause <= 0 {
		c.RetryPause = time.Second
	}
	if c.Discount <= 0 {
		c.Discount = 0.10
	}
	return c
}

// Seller places the hedge leg of a trade on the order book.
type Seller struct {
	client OrderPoster
	cfg    SellerConfig
	logger *slog.Logger
}

// NewSeller creates a Seller around client.
func NewSeller(client OrderPoster, cfg SellerConfig, logger *slog.Logger) *Seller {
	return &Seller{
		client: client,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "seller")),
	}
}

// SellFillOrKill sells amount tokens of tokenID at once or not at all, priced
// below referencePrice by the configured discount. Edge blocks are retried on
// a fresh transport when a proxy is configured; any other failure stops the
// loop. Errors match domain.ErrEdgeBlocked or domain.ErrLiquidityUnavailable
// where the failure could be classified.
func (s *Seller) SellFillOrKill(ctx context.Context, tokenID string, amount, referencePrice float64) (string, bool, error) {
	price := HedgePrice(referencePrice, s.cfg.Discount)

	order, err := BuildOrder(tokenID, domain.OrderSideSell, domain.OrderTypeFOK, price.InexactFloat64(), amount)
	if err != nil {
		return "", false, err
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.InfoContext(ctx, "retrying fill-or-kill sell",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", s.cfg.MaxRetries),
			)
			s.client.ResetTransport()
			if err := sleepCtx(ctx, s.cfg.RetryPause); err != nil {
				lastErr = err
				break
			}
		}

		res, err := s.client.PostOrder(ctx, order)
		if err == nil {
			// An accepted FOK order has filled completely.
			return res.OrderID, true, nil
		}
		lastErr = err

		if IsEdgeBlock(err) && s.cfg.ProxyConfigured {
			s.logger.WarnContext(ctx, "order book refused request",
				slog.String("token_id", tokenID),
				slog.String("error", err.Error()),
			)
			continue
		}
		break
	}

	return "", false, classifySellError(lastErr, price.StringFixed(priceDecimals))
}

// BuyGTC rests a buy order at price. No retries.
func (s *Seller) BuyGTC(ctx context.Context, tokenID string, amount, price float64) (string, error) {
	return s.placeGTC(ctx, tokenID, domain.OrderSideBuy, amount, price)
}

// SellGTC rests a sell order at price. No retries.
func (s *Seller) SellGTC(ctx context.Context, tokenID string, amount, price float64) (string, error) {
	return s.placeGTC(ctx, tokenID, domain.OrderSideSell, amount, price)
}

func (s *Seller) placeGTC(ctx context.Context, tokenID string, side domain.OrderSide, amount, price float64) (string, error) {
	order, err := BuildOrder(tokenID, side, domain.OrderTypeGTC, price, amount)
	if err != nil {
		return "", err
	}
	res, err := s.client.PostOrder(ctx, order)
	if err != nil {
		return "", err
	}
	return res.OrderID, nil
}

// IsEdgeBlock reports whether err looks like the CDN in front of the order
// book refusing the request: a 403 mentioning a block or Cloudflare.
func IsEdgeBlock(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	is403 := StatusCode(err) == 403 || strings.Contains(msg, "403")
	return is403 && (strings.Contains(msg, "blocked") || strings.Contains(msg, "cloudflare"))
}

var liquidityMarkers = []string{
	"no match",
	"insufficient",
	"fully filled or killed",
	"couldn't be fully filled",
}

// IsLiquidityFailure reports whether err says the book could not absorb the
// order.
func IsLiquidityFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range liquidityMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// sellError carries a user-facing message while still matching both the
// classification sentinel and the underlying cause.
type sellError struct {
	kind  error
	msg   string
	cause error
}

func (e *sellError) Error() string   { return e.msg }
func (e *sellError) Unwrap() []error { return []error{e.kind, e.cause} }

func classifySellError(err error, price string) error {
	switch {
	case err == nil:
		return errors.New("polymarket: sell failed without an error")
	case IsEdgeBlock(err):
		return &sellError{
			kind: domain.ErrEdgeBlocked,
			msg: "IP blocked by Cloudflare. Your split succeeded - you have the tokens. " +
				"Sell manually at polymarket.com or try with HTTPS_PROXY env var.",
			cause: err,
		}
	case IsLiquidityFailure(err):
		return &sellError{
			kind:  domain.ErrLiquidityUnavailable,
			msg:   fmt.Sprintf("no liquidity at $%s - tokens kept, sell manually", price),
			cause: err,
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
