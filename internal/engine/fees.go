package engine

import (
	"github.com/shopspring/decimal"
)

// FeeType labels the policy that produced a fee.
type FeeType string

const (
	FeeMaker      FeeType = "MAKER"
	FeeTaker      FeeType = "TAKER"
	FeeFunding    FeeType = "FUNDING"
	FeeCommission FeeType = "COMMISSION"
)

// FeeConfig holds the fee rates applied to fills and policy hooks.
type FeeConfig struct {
	MakerRate      decimal.Decimal
	TakerRate      decimal.Decimal
	FundingRate    decimal.Decimal
	CommissionRate decimal.Decimal
}

// DefaultFeeConfig returns the standard futures fee schedule.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		MakerRate:      decimal.NewFromFloat(0.0002),
		TakerRate:      decimal.NewFromFloat(0.0004),
		FundingRate:    decimal.NewFromFloat(0.0001),
		CommissionRate: decimal.NewFromFloat(0.001),
	}
}

// Fee is one charged fee, attributable to the order that caused it.
type Fee struct {
	Type      FeeType
	Amount    decimal.Decimal
	Currency  string
	Timestamp int64
	OrderID   string
}

// FeeCalculator computes fees and keeps a ledger of everything charged.
type FeeCalculator struct {
	config   FeeConfig
	currency string
	ledger   []Fee
}

// NewFeeCalculator creates a calculator charging fees in the given currency.
func NewFeeCalculator(config FeeConfig, currency string) *FeeCalculator {
	return &FeeCalculator{config: config, currency: currency}
}

// FillFee computes and records the fee for a fill: notional times the taker
// rate for market orders, the maker rate for everything else.
func (c *FeeCalculator) FillFee(orderType OrderType, quantity, fillPrice decimal.Decimal, timestamp int64, orderID string) Fee {
	feeType := FeeMaker
	rate := c.config.MakerRate
	if orderType == OrderMarket {
		feeType = FeeTaker
		rate = c.config.TakerRate
	}

	fee := Fee{
		Type:      feeType,
		Amount:    quantity.Mul(fillPrice).Mul(rate),
		Currency:  c.currency,
		Timestamp: timestamp,
		OrderID:   orderID,
	}
	c.ledger = append(c.ledger, fee)
	return fee
}

// FundingFee computes and records a funding payment on position notional.
// Policy hook; the event loop does not call it.
func (c *FeeCalculator) FundingFee(notional decimal.Decimal, timestamp int64, orderID string) Fee {
	fee := Fee{
		Type:      FeeFunding,
		Amount:    notional.Mul(c.config.FundingRate),
		Currency:  c.currency,
		Timestamp: timestamp,
		OrderID:   orderID,
	}
	c.ledger = append(c.ledger, fee)
	return fee
}

// CommissionFee computes and records a flat commission on notional.
// Policy hook; the event loop does not call it.
func (c *FeeCalculator) CommissionFee(notional decimal.Decimal, timestamp int64, orderID string) Fee {
	fee := Fee{
		Type:      FeeCommission,
		Amount:    notional.Mul(c.config.CommissionRate),
		Currency:  c.currency,
		Timestamp: timestamp,
		OrderID:   orderID,
	}
	c.ledger = append(c.ledger, fee)
	return fee
}

// Ledger returns every fee charged so far, in charge order.
func (c *FeeCalculator) Ledger() []Fee {
	return c.ledger
}

// Total returns the sum of all charged fees.
func (c *FeeCalculator) Total() decimal.Decimal {
	total := decimal.Zero
	for _, fee := range c.ledger {
		total = total.Add(fee.Amount)
	}
	return total
}
