package polymarket

import (
	"fmt"
	"math/big"
	"math/rand/v2"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/polyclaw/internal/crypto"
	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// Rounding used for the 0.01 tick: prices to 2 places, sizes to 2, notional
// to 4. Amounts on the wire are 6-decimal base units.
const (
	priceDecimals    = 2
	sizeDecimals     = 2
	notionalDecimals = 4
	baseUnitDecimals = 6
)

var (
	minPrice = decimal.New(1, -priceDecimals)
	maxPrice = decimal.NewFromInt(1).Sub(minPrice)
)

// BuildOrder prices a limit order for tokenID. Size is in outcome tokens.
// For a SELL the maker gives tokens and receives collateral; for a BUY the
// reverse.
func BuildOrder(tokenID string, side domain.OrderSide, typ domain.OrderType, price, size float64) (domain.Order, error) {
	if tokenID == "" {
		return domain.Order{}, fmt.Errorf("polymarket: %w: empty token id", domain.ErrInvalidOrder)
	}
	p := decimal.NewFromFloat(price).Round(priceDecimals)
	if p.LessThan(minPrice) || p.GreaterThan(maxPrice) {
		return domain.Order{}, fmt.Errorf("polymarket: %w: price %s outside [%s, %s]", domain.ErrInvalidOrder, p, minPrice, maxPrice)
	}
	s := decimal.NewFromFloat(size).Truncate(sizeDecimals)
	if !s.IsPositive() {
		return domain.Order{}, fmt.Errorf("polymarket: %w: size %v too small", domain.ErrInvalidOrder, size)
	}
	notional := s.Mul(p).Truncate(notionalDecimals)

	order := domain.Order{
		TokenID: tokenID,
		Side:    side,
		Type:    typ,
		Price:   p.InexactFloat64(),
		Size:    s.InexactFloat64(),
	}
	switch side {
	case domain.OrderSideSell:
		order.MakerAmount = baseUnits(s)
		order.TakerAmount = baseUnits(notional)
	case domain.OrderSideBuy:
		order.MakerAmount = baseUnits(notional)
		order.TakerAmount = baseUnits(s)
	default:
		return domain.Order{}, fmt.Errorf("polymarket: %w: side %q", domain.ErrInvalidOrder, side)
	}
	return order, nil
}

// HedgePrice is the aggressive limit for an immediate sell: the reference
// price less discount, floored to the tick, never below one tick.
func HedgePrice(reference, discount float64) decimal.Decimal {
	p := decimal.NewFromFloat(reference).
		Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(discount))).
		RoundFloor(priceDecimals)
	if p.LessThan(minPrice) {
		return minPrice
	}
	return p
}

func baseUnits(d decimal.Decimal) *big.Int {
	return d.Shift(baseUnitDecimals).Truncate(0).BigInt()
}

// orderPayload fills the signed struct for order, made and signed by the
// client's wallet.
func (c *ClobClient) orderPayload(order domain.Order) (crypto.OrderPayload, error) {
	if order.MakerAmount == nil || order.TakerAmount == nil {
		return crypto.OrderPayload{}, fmt.Errorf("polymarket: %w: amounts not set", domain.ErrInvalidOrder)
	}
	side := crypto.SideBuy
	if order.Side == domain.OrderSideSell {
		side = crypto.SideSell
	}
	addr := c.signer.Address().Hex()
	return crypto.OrderPayload{
		Salt:          strconv.FormatInt(rand.Int64N(1<<53), 10),
		Maker:         addr,
		Signer:        addr,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       order.TokenID,
		MakerAmount:   order.MakerAmount.String(),
		TakerAmount:   order.TakerAmount.String(),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.signatureType,
	}, nil
}
