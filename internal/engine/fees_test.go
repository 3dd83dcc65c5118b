package engine

import (
	"testing"
)

func TestFillFee_RateByOrderType(t *testing.T) {
	tests := []struct {
		orderType OrderType
		feeType   FeeType
		want      string
	}{
		{OrderMarket, FeeTaker, "0.048"},      // 1 * 120 * 0.0004
		{OrderLimit, FeeMaker, "0.024"},       // 1 * 120 * 0.0002
		{OrderStopMarket, FeeMaker, "0.024"},
		{OrderStopLimit, FeeMaker, "0.024"},
		{OrderTakeProfit, FeeMaker, "0.024"},
	}
	for _, tt := range tests {
		t.Run(string(tt.orderType), func(t *testing.T) {
			calc := NewFeeCalculator(DefaultFeeConfig(), "USDT")
			fee := calc.FillFee(tt.orderType, d("1"), d("120"), 5000, "order_1")
			if fee.Type != tt.feeType {
				t.Errorf("fee type = %s, want %s", fee.Type, tt.feeType)
			}
			if !fee.Amount.Equal(d(tt.want)) {
				t.Errorf("amount = %s, want %s", fee.Amount, tt.want)
			}
			if fee.Currency != "USDT" || fee.Timestamp != 5000 || fee.OrderID != "order_1" {
				t.Errorf("fee attribution wrong: %+v", fee)
			}
		})
	}
}

func TestFeeLedger(t *testing.T) {
	calc := NewFeeCalculator(DefaultFeeConfig(), "USDT")
	calc.FillFee(OrderMarket, d("1"), d("100"), 1000, "order_1")   // 0.04
	calc.FillFee(OrderMarket, d("1"), d("120"), 2000, "order_2")   // 0.048
	calc.FundingFee(d("1000"), 3000, "order_2")                    // 0.1
	calc.CommissionFee(d("1000"), 4000, "order_2")                 // 1

	if len(calc.Ledger()) != 4 {
		t.Fatalf("ledger entries = %d, want 4", len(calc.Ledger()))
	}
	if !calc.Total().Equal(d("1.188")) {
		t.Errorf("total = %s, want 1.188", calc.Total())
	}
	if calc.Ledger()[2].Type != FeeFunding || calc.Ledger()[3].Type != FeeCommission {
		t.Error("policy hook fee types wrong")
	}
}
