package engine

import (
	"github.com/shopspring/decimal"
)

// orderQty derives the submitted quantity from the account's configured
// order value and leverage. Decimal math keeps the quantity exact; float
// rounding on notional values has produced off-by-one-tick rejections.
func orderQty(orderValue float64, leverage int) float64 {
	if orderValue <= 0 {
		return 0
	}
	if leverage <= 0 {
		leverage = 1
	}
	qty := decimal.NewFromFloat(orderValue).
		Mul(decimal.NewFromInt(int64(leverage))).
		Round(8)
	f, _ := qty.Float64()
	return f
}
