package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CollateralDecimals is the precision of USDC.e and of CTF outcome tokens.
const CollateralDecimals = 6

// ToBaseUnits converts a display amount (USD or tokens) to 6-decimal base
// units, truncating anything finer than one micro-unit.
func ToBaseUnits(amount float64) (*big.Int, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("chain: amount must be positive, got %v", amount)
	}
	return decimal.NewFromFloat(amount).Shift(CollateralDecimals).Truncate(0).BigInt(), nil
}

// FromBaseUnits converts 6-decimal base units back to a display amount.
func FromBaseUnits(units *big.Int) float64 {
	if units == nil {
		return 0
	}
	return decimal.NewFromBigInt(units, -CollateralDecimals).InexactFloat64()
}

// ParseConditionID accepts a 32-byte hex condition id with or without the 0x
// prefix.
func ParseConditionID(raw string) (common.Hash, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if s == "" {
		return common.Hash{}, errors.New("chain: empty condition id")
	}
	if len(s) != 64 {
		return common.Hash{}, fmt.Errorf("chain: condition id length %d, want 64 hex chars", len(s))
	}
	if _, err := hex.DecodeString(s); err != nil {
		return common.Hash{}, fmt.Errorf("chain: condition id hex: %w", err)
	}
	return common.HexToHash("0x" + s), nil
}

// ParseTokenID parses an outcome token id. Token ids are uint256 values
// usually written in decimal.
func ParseTokenID(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	id, ok := new(big.Int), false
	if strings.HasPrefix(s, "0x") {
		id, ok = id.SetString(s[2:], 16)
	} else {
		id, ok = id.SetString(s, 10)
	}
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("chain: invalid token id %q", raw)
	}
	return id, nil
}

func indexSets(sets []int64) []*big.Int {
	out := make([]*big.Int, len(sets))
	for i, s := range sets {
		out[i] = big.NewInt(s)
	}
	return out
}
