package domain

import (
	"fmt"
	"strings"
)

// Side is the outcome a position holds.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// ParseSide accepts any casing of yes/no.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideYes:
		return SideYes, nil
	case SideNo:
		return SideNo, nil
	}
	return "", fmt.Errorf("%w: got %q", ErrInvalidSide, s)
}

// Opposite returns the other outcome.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "open"
	PositionStatusClosed   PositionStatus = "closed"
	PositionStatusResolved PositionStatus = "resolved"
	PositionStatusRedeemed PositionStatus = "redeemed"
)

// Valid reports whether s is a known status.
func (s PositionStatus) Valid() bool {
	switch s {
	case PositionStatusOpen, PositionStatusClosed, PositionStatusResolved, PositionStatusRedeemed:
		return true
	}
	return false
}

// Terminal reports whether no further status change is allowed.
func (s PositionStatus) Terminal() bool {
	return s != PositionStatusOpen
}

// CanTransition reports whether a record in status from may move to to.
// Only open records move; re-applying the current status is always allowed.
func CanTransition(from, to PositionStatus) bool {
	if !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return from == PositionStatusOpen
}

// PositionRecord is one acquired position as persisted by the position store.
// JSON field names match the positions.json document layout.
type PositionRecord struct {
	PositionID  string         `json:"position_id"`
	MarketID    string         `json:"market_id"`
	ConditionID string         `json:"condition_id,omitempty"`
	Question    string         `json:"question"`
	Position    Side           `json:"position"`
	TokenID     string         `json:"token_id"`
	EntryTime   string         `json:"entry_time"`
	EntryAmount float64        `json:"entry_amount"`
	EntryPrice  float64        `json:"entry_price"`
	SplitTx     string         `json:"split_tx"`
	ClobOrderID *string        `json:"clob_order_id"`
	ClobFilled  bool           `json:"clob_filled"`
	Status      PositionStatus `json:"status"`
	Notes       *string        `json:"notes"`
}

// Validate checks the fields every stored record must carry.
func (r PositionRecord) Validate() error {
	var problems []string
	if r.PositionID == "" {
		problems = append(problems, "position_id is empty")
	}
	if r.MarketID == "" {
		problems = append(problems, "market_id is empty")
	}
	if r.Position != SideYes && r.Position != SideNo {
		problems = append(problems, fmt.Sprintf("position %q is not YES or NO", r.Position))
	}
	if r.SplitTx == "" {
		problems = append(problems, "split_tx is empty")
	}
	if !r.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", r.Status))
	}
	if r.EntryAmount < 0 {
		problems = append(problems, "entry_amount is negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(problems, "; "))
	}
	return nil
}

// StringPtr is a small helper for the optional record fields.
func StringPtr(s string) *string { return &s }
