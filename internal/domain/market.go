package domain

// MarketInfo is the slice of market metadata the sagas need.
type MarketInfo struct {
	ID          string
	Question    string
	Slug        string
	ConditionID string
	NegRisk     bool
	Resolved    bool
	Outcome     Side // empty until resolved
	YesTokenID  string
	NoTokenID   string
	YesPrice    float64
	NoPrice     float64
}

// TokenFor returns the outcome token id for side.
func (m MarketInfo) TokenFor(side Side) string {
	if side == SideYes {
		return m.YesTokenID
	}
	return m.NoTokenID
}

// PriceFor returns the last quoted price for side.
func (m MarketInfo) PriceFor(side Side) float64 {
	if side == SideYes {
		return m.YesPrice
	}
	return m.NoPrice
}
