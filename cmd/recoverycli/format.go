package main

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

func formatGwei(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -9).StringFixed(2)
}

func formatEther(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -18).StringFixed(6)
}

// parseETH converts a decimal ether amount to wei.
func parseETH(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", s)
	}
	return d.Shift(18).Truncate(0).BigInt(), nil
}
