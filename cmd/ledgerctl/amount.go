package main

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var maxAmount = decimal.New(math.MaxInt64, 0)

// parseAmount reads a human amount ("1.5", "2e3") into integer base units.
func parseAmount(s string, decimals int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	units := d.Mul(decimal.New(1, decimals))
	if units.Sign() < 0 {
		return 0, fmt.Errorf("amount %q is negative", s)
	}
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, decimals)
	}
	if units.Cmp(maxAmount) > 0 {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	return units.IntPart(), nil
}

func formatAmount(units int64, decimals int32) string {
	return decimal.New(units, -decimals).StringFixed(decimals)
}
