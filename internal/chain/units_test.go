package chain

import (
	"math/big"
	"testing"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{50, 50_000_000},
		{0.1, 100_000},
		{12.3456789, 12_345_678},
		{0.000001, 1},
	}
	for _, tt := range tests {
		got, err := ToBaseUnits(tt.in)
		if err != nil {
			t.Fatalf("ToBaseUnits(%v): %v", tt.in, err)
		}
		if got.Cmp(big.NewInt(tt.want)) != 0 {
			t.Fatalf("ToBaseUnits(%v) = %s, want %d", tt.in, got, tt.want)
		}
	}
	if _, err := ToBaseUnits(0); err == nil {
		t.Fatalf("zero amount should fail")
	}
}

func TestFromBaseUnits(t *testing.T) {
	if got := FromBaseUnits(big.NewInt(3_000_000)); got != 3 {
		t.Fatalf("FromBaseUnits = %v, want 3", got)
	}
	if got := FromBaseUnits(nil); got != 0 {
		t.Fatalf("FromBaseUnits(nil) = %v", got)
	}
}

func TestParseConditionID(t *testing.T) {
	const hex64 = "1111111111111111111111111111111111111111111111111111111111111111"
	for _, in := range []string{"0x" + hex64, hex64, " 0x" + hex64 + " "} {
		if _, err := ParseConditionID(in); err != nil {
			t.Fatalf("ParseConditionID(%q): %v", in, err)
		}
	}
	for _, in := range []string{"", "0x1234", "0x" + hex64[:63] + "z"} {
		if _, err := ParseConditionID(in); err == nil {
			t.Fatalf("ParseConditionID(%q) should fail", in)
		}
	}
}

func TestParseTokenID(t *testing.T) {
	id, err := ParseTokenID("12345")
	if err != nil || id.Int64() != 12345 {
		t.Fatalf("ParseTokenID = %v, %v", id, err)
	}
	if _, err := ParseTokenID("abc"); err == nil {
		t.Fatalf("non-numeric token id should fail")
	}
}
