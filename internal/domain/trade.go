package domain

// TradeRequest asks for one split-and-hedge acquisition.
type TradeRequest struct {
	MarketID string
	Side     Side
	Amount   float64 // USD of collateral to split
	SkipSell bool
}

// TradeResult is the outcome of a trade saga run. Success is true whenever
// the split confirmed on chain, whatever happened afterwards.
type TradeResult struct {
	Success       bool    `json:"success"`
	MarketID      string  `json:"market_id"`
	Position      Side    `json:"position"`
	Amount        float64 `json:"amount"`
	SplitTx       string  `json:"split_tx,omitempty"`
	ClobOrderID   string  `json:"clob_order_id,omitempty"`
	ClobFilled    bool    `json:"clob_filled"`
	Error         string  `json:"error,omitempty"`
	Question      string  `json:"question,omitempty"`
	WantedTokenID string  `json:"wanted_token_id,omitempty"`
	EntryPrice    float64 `json:"entry_price,omitempty"`
	PositionID    string  `json:"position_id,omitempty"`
	PersistError  string  `json:"persist_error,omitempty"`
}
