package polymarket

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alanyoungcy/polyclaw/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "closed" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// stringList decodes either a JSON array of strings or a JSON string that
// itself holds such an array. Gamma uses both for outcomes, outcomePrices and
// clobTokenIds.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = nil
		return nil
	}

	if b[0] == '"' {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			*s = nil
			return nil
		}
		b = []byte(raw)
	}

	var vals []string
	if err := json.Unmarshal(b, &vals); err != nil {
		return err
	}
	*s = vals
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
func (r *APIOrderResult) ToDomainOrderResult() domain.OrderResult {
	return domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Status:  r.Status,
		Message: r.ErrorMsg,
	}
}

// APIOpenOrder is a resting order as listed by /data/orders.
type APIOpenOrder struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Market       string    `json:"market"`
	AssetID      string    `json:"asset_id"`
	Side         string    `json:"side"`
	OriginalSize flexFloat `json:"original_size"`
	SizeMatched  flexFloat `json:"size_matched"`
	Price        flexFloat `json:"price"`
}

func (o *APIOpenOrder) toDomain() domain.OpenOrder {
	return domain.OpenOrder{
		ID:           o.ID,
		Market:       o.Market,
		AssetID:      o.AssetID,
		Side:         o.Side,
		Price:        float64(o.Price),
		OriginalSize: float64(o.OriginalSize),
		SizeMatched:  float64(o.SizeMatched),
		Status:       o.Status,
	}
}

type openOrdersPage struct {
	Data       []APIOpenOrder `json:"data"`
	NextCursor string         `json:"next_cursor"`
}

// APIBook is the /book response. Prices and sizes arrive as strings.
type APIBook struct {
	Market  string         `json:"market"`
	AssetID string         `json:"asset_id"`
	Bids    []APIBookLevel `json:"bids"`
	Asks    []APIBookLevel `json:"asks"`
}

// APIBookLevel is one price level of an APIBook.
type APIBookLevel struct {
	Price flexFloat `json:"price"`
	Size  flexFloat `json:"size"`
}

// ToDomainSnapshot converts an APIBook to a domain.OrderbookSnapshot.
func (b *APIBook) ToDomainSnapshot() domain.OrderbookSnapshot {
	conv := func(levels []APIBookLevel) []domain.PriceLevel {
		out := make([]domain.PriceLevel, 0, len(levels))
		for _, l := range levels {
			out = append(out, domain.PriceLevel{Price: float64(l.Price), Size: float64(l.Size)})
		}
		return out
	}
	return domain.OrderbookSnapshot{
		AssetID: b.AssetID,
		Bids:    conv(b.Bids),
		Asks:    conv(b.Asks),
	}
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	ConditionID   string     `json:"conditionId"`
	Slug          string     `json:"slug"`
	Closed        flexBool   `json:"closed"`
	NegRisk       flexBool   `json:"negRisk"`
	Outcomes      stringList `json:"outcomes"`
	OutcomePrices stringList `json:"outcomePrices"`
	ClobTokenIDs  stringList `json:"clobTokenIds"`
	Tokens        []Token    `json:"tokens"`
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string    `json:"token_id"`
	Outcome string    `json:"outcome"`
	Price   flexFloat `json:"price"`
	Winner  bool      `json:"winner"`
}

// resolvedPriceThreshold is the outcome price at which a closed market is
// treated as settled in favour of that outcome.
const resolvedPriceThreshold = 0.99

// ToDomainMarket converts a Gamma APIMarket to a domain.MarketInfo. Token ids
// and prices come from the tokens array when present, else from the
// stringified clobTokenIds and outcomePrices lists. The market counts as
// resolved only when it is closed and a winner can be identified.
func (m *APIMarket) ToDomainMarket() domain.MarketInfo {
	info := domain.MarketInfo{
		ID:          m.ID,
		Question:    m.Question,
		Slug:        m.Slug,
		ConditionID: m.ConditionID,
		NegRisk:     bool(m.NegRisk),
	}

	type outcome struct {
		side   domain.Side
		token  string
		price  float64
		winner bool
	}
	var outcomes []outcome

	if len(m.Tokens) > 0 {
		for _, t := range m.Tokens {
			outcomes = append(outcomes, outcome{
				side:   outcomeSide(t.Outcome),
				token:  t.TokenID,
				price:  float64(t.Price),
				winner: t.Winner,
			})
		}
	} else {
		for i, name := range m.Outcomes {
			o := outcome{side: outcomeSide(name)}
			if i < len(m.ClobTokenIDs) {
				o.token = m.ClobTokenIDs[i]
			}
			if i < len(m.OutcomePrices) {
				o.price, _ = strconv.ParseFloat(m.OutcomePrices[i], 64)
			}
			outcomes = append(outcomes, o)
		}
		// Binary markets sometimes omit outcome names.
		if len(outcomes) == 0 && len(m.ClobTokenIDs) == 2 {
			outcomes = []outcome{
				{side: domain.SideYes, token: m.ClobTokenIDs[0]},
				{side: domain.SideNo, token: m.ClobTokenIDs[1]},
			}
			for i := range outcomes {
				if i < len(m.OutcomePrices) {
					outcomes[i].price, _ = strconv.ParseFloat(m.OutcomePrices[i], 64)
				}
			}
		}
	}

	for _, o := range outcomes {
		switch o.side {
		case domain.SideYes:
			info.YesTokenID, info.YesPrice = o.token, o.price
		case domain.SideNo:
			info.NoTokenID, info.NoPrice = o.token, o.price
		}
	}

	if !bool(m.Closed) {
		return info
	}
	for _, o := range outcomes {
		if o.side == "" {
			continue
		}
		if o.winner || o.price >= resolvedPriceThreshold {
			info.Resolved = true
			info.Outcome = o.side
			break
		}
	}
	return info
}

// outcomeSide maps Gamma outcome labels onto YES/NO. Anything else maps to
// the empty side.
func outcomeSide(label string) domain.Side {
	side, err := domain.ParseSide(label)
	if err != nil {
		return ""
	}
	return side
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIPosition is one holding returned by the Data API /positions endpoint.
type APIPosition struct {
	ProxyWallet  string    `json:"proxyWallet"`
	Asset        string    `json:"asset"`
	ConditionID  string    `json:"conditionId"`
	Market       string    `json:"market"`
	Size         flexFloat `json:"size"`
	CurrentValue flexFloat `json:"currentValue"`
	Redeemable   bool      `json:"redeemable"`
	Mergeable    bool      `json:"mergeable"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Outcome      string    `json:"outcome"`
	OutcomeIndex int       `json:"outcomeIndex"`
	NegativeRisk bool      `json:"negativeRisk"`
}

// Condition returns the condition id, falling back to the market field that
// older responses use.
func (p APIPosition) Condition() string {
	if p.ConditionID != "" {
		return p.ConditionID
	}
	return p.Market
}
