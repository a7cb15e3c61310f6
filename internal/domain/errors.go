package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidOrder      = errors.New("invalid order parameters")
	ErrSigningFailed     = errors.New("signing failed")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidRecord     = errors.New("invalid position record")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSide       = errors.New("position must be YES or NO")

	// ErrConfiguration means the wallet or RPC endpoint is missing.
	ErrConfiguration = errors.New("configuration error")
	// ErrInsufficientFunds means the live collateral balance is below the
	// requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrChainExecutionFailed is matched by every *ChainExecutionError.
	ErrChainExecutionFailed = errors.New("chain execution failed")
	// ErrEdgeBlocked is the CDN in front of the order book refusing our IP.
	ErrEdgeBlocked = errors.New("edge blocked")
	// ErrLiquidityUnavailable means a fill-or-kill order found no match.
	ErrLiquidityUnavailable = errors.New("liquidity unavailable")
)

// ChainExecutionError reports a transaction that was submitted but did not
// succeed: reverted, or no receipt before the deadline. TxHash is set whenever
// the transaction reached the node.
type ChainExecutionError struct {
	Op     string
	TxHash string
	Reason string
}

func (e *ChainExecutionError) Error() string {
	if e.TxHash == "" {
		return fmt.Sprintf("%s failed: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s failed: %s (tx %s)", e.Op, e.Reason, e.TxHash)
}

// Is lets errors.Is(err, ErrChainExecutionFailed) match.
func (e *ChainExecutionError) Is(target error) bool {
	return target == ErrChainExecutionFailed
}

// ScanFailure is one position the redemption scan could not evaluate. The
// scan continues past it.
type ScanFailure struct {
	PositionID string `json:"position_id"`
	MarketID   string `json:"market_id"`
	Err        error  `json:"-"`
}

func (f ScanFailure) Error() string {
	return fmt.Sprintf("position %s (market %s): %v", f.PositionID, f.MarketID, f.Err)
}

func (f ScanFailure) Unwrap() error { return f.Err }

// MarshalJSON renders Err as a string.
func (f ScanFailure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		PositionID string `json:"position_id"`
		MarketID   string `json:"market_id"`
		Error      string `json:"error"`
	}{f.PositionID, f.MarketID, msg})
}
