package domain

import "math/big"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType indicates the time-in-force policy.
type OrderType string

const (
	OrderTypeGTC OrderType = "GTC" // Good-Till-Cancelled
	OrderTypeFOK OrderType = "FOK" // Fill-Or-Kill
)

// Order is a limit order ready to be signed and posted to the order book.
type Order struct {
	TokenID     string
	Side        OrderSide
	Type        OrderType
	Price       float64
	Size        float64
	MakerAmount *big.Int // base units the maker gives
	TakerAmount *big.Int // base units the maker receives
	NegRisk     bool
}

// OrderResult wraps the API response after order submission.
type OrderResult struct {
	Success bool
	OrderID string
	Status  string // matched, live, delayed, unmatched
	Message string
}

// Filled reports whether the order matched immediately.
func (r OrderResult) Filled() bool {
	return r.Status == "matched"
}

// OpenOrder is a resting order as listed by the order book.
type OpenOrder struct {
	ID           string  `json:"id"`
	Market       string  `json:"market"`
	AssetID      string  `json:"asset_id"`
	Side         string  `json:"side"`
	Price        float64 `json:"price"`
	OriginalSize float64 `json:"original_size"`
	SizeMatched  float64 `json:"size_matched"`
	Status       string  `json:"status"`
}

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderbookSnapshot is the bids and asks for one token.
type OrderbookSnapshot struct {
	AssetID string       `json:"asset_id"`
	Bids    []PriceLevel `json:"bids"`
	Asks    []PriceLevel `json:"asks"`
}

// BestBid returns the highest bid, or 0 when the book has none.
func (s OrderbookSnapshot) BestBid() float64 {
	best := 0.0
	for _, l := range s.Bids {
		if l.Price > best {
			best = l.Price
		}
	}
	return best
}

// BestAsk returns the lowest ask, or 0 when the book has none.
func (s OrderbookSnapshot) BestAsk() float64 {
	best := 0.0
	for _, l := range s.Asks {
		if best == 0 || l.Price < best {
			best = l.Price
		}
	}
	return best
}
