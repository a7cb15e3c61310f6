package domain

// RedeemSource says which scan path produced a candidate.
type RedeemSource string

const (
	SourceLocal   RedeemSource = "local"
	SourceDataAPI RedeemSource = "data_api"
)

// RedeemCandidate is a settled position found by a redemption scan. Losers
// carry IsWinner=false and a zero balance; they are never redeemed.
type RedeemCandidate struct {
	PositionID     string       `json:"position_id"`
	MarketID       string       `json:"market_id"`
	Question       string       `json:"question"`
	Position       string       `json:"position"`
	TokenID        string       `json:"token_id"`
	ConditionID    string       `json:"condition_id,omitempty"`
	IsWinner       bool         `json:"is_winner"`
	OnChainBalance uint64       `json:"on_chain_balance"`
	RedeemableUSD  float64      `json:"redeemable_usd"`
	MarketOutcome  string       `json:"market_outcome,omitempty"`
	Source         RedeemSource `json:"source"`
}

// Key identifies the underlying condition for de-duplication.
func (c RedeemCandidate) Key() string {
	if c.ConditionID != "" {
		return c.ConditionID
	}
	return c.MarketID
}

// RedeemResult is the outcome of acting on one candidate.
type RedeemResult struct {
	Success     bool    `json:"success"`
	PositionID  string  `json:"position_id"`
	MarketID    string  `json:"market_id"`
	Question    string  `json:"question"`
	Position    string  `json:"position"`
	IsWinner    bool    `json:"is_winner"`
	TokenCount  float64 `json:"token_count"`
	RedeemedUSD float64 `json:"redeemed_usd"`
	TxHash      string  `json:"tx_hash,omitempty"`
	Note        string  `json:"note,omitempty"`
	Error       string  `json:"error,omitempty"`
}
