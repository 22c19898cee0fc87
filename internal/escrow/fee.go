package escrow

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// SplitFee splits amount into the escrow fee and the payout.
//
// The fee is amount × feePercent / 100 computed in decimal arithmetic and
// rounded half-away-from-zero to two places (the USD minor unit); the
// payout is the exact remainder, so fee + payout == amount always holds.
func SplitFee(amount, feePercent decimal.Decimal) (fee, payout decimal.Decimal) {
	fee = amount.Mul(feePercent).Div(hundred).Round(2)
	payout = amount.Sub(fee)
	return fee, payout
}
