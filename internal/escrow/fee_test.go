package escrow

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestSplitFee(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		feePercent string
		wantFee    string
		wantPayout string
	}{
		{"round numbers", "100.00", "5", "5.00", "95.00"},
		{"fee needs rounding", "33.33", "5", "1.67", "31.66"},
		{"small amount", "0.10", "5", "0.01", "0.09"},
		{"fractional percent", "200.00", "2.5", "5.00", "195.00"},
		{"zero fee", "100.00", "0", "0.00", "100.00"},
		{"repeating expansion", "10.01", "3", "0.30", "9.71"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			fee, payout := SplitFee(amount, decimal.RequireFromString(tt.feePercent))

			assert.True(t, fee.Equal(decimal.RequireFromString(tt.wantFee)),
				"fee = %s, want %s", fee, tt.wantFee)
			assert.True(t, payout.Equal(decimal.RequireFromString(tt.wantPayout)),
				"payout = %s, want %s", payout, tt.wantPayout)

			// The split must always reassemble exactly.
			assert.True(t, fee.Add(payout).Equal(amount),
				"fee %s + payout %s != amount %s", fee, payout, amount)
		})
	}
}

func TestSplitFeeNoCentDrift(t *testing.T) {
	// 33.33 * 5 / 100 = 1.6665 exactly; half-away-from-zero at two
	// places gives 1.67, never the float-drifted 1.66.
	fee, _ := SplitFee(decimal.RequireFromString("33.33"), decimal.NewFromInt(5))
	assert.Equal(t, "1.67", fee.StringFixed(2))
}
