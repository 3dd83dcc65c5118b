package engine

import (
	"github.com/shopspring/decimal"

	"midas-engine/internal/market"
)

// MACrossStrategy is a minimal worked example: go long when the fast moving
// average crosses above the slow one, flatten when it crosses back below.
type MACrossStrategy struct {
	NopStrategy

	symbol   string
	fast     int
	slow     int
	quantity decimal.Decimal

	closes  []decimal.Decimal
	wasFast bool // fast MA above slow on the previous candle
	primed  bool
	holding bool
}

// NewMACrossStrategy creates a moving-average crossover strategy. fast must
// be smaller than slow.
func NewMACrossStrategy(symbol string, fast, slow int, quantity decimal.Decimal) *MACrossStrategy {
	return &MACrossStrategy{symbol: symbol, fast: fast, slow: slow, quantity: quantity}
}

func (s *MACrossStrategy) Name() string { return "ma_cross" }

func (s *MACrossStrategy) Parameters() map[string]any {
	return map[string]any{
		"symbol":   s.symbol,
		"fast":     s.fast,
		"slow":     s.slow,
		"quantity": s.quantity.String(),
	}
}

func (s *MACrossStrategy) OnCandle(candle market.Candle, _ *Account) []*Order {
	s.closes = append(s.closes, candle.Close)
	if len(s.closes) < s.slow {
		return nil
	}

	fastAbove := s.sma(s.fast).GreaterThan(s.sma(s.slow))
	defer func() {
		s.wasFast = fastAbove
		s.primed = true
	}()

	if !s.primed || fastAbove == s.wasFast {
		return nil
	}
	if fastAbove && !s.holding {
		return []*Order{NewMarketOrder(s.symbol, SideBuy, s.quantity)}
	}
	if !fastAbove && s.holding {
		return []*Order{NewMarketOrder(s.symbol, SideSell, s.quantity)}
	}
	return nil
}

func (s *MACrossStrategy) OnPositionOpened(*Position) { s.holding = true }
func (s *MACrossStrategy) OnPositionClosed(*Trade)    { s.holding = false }

// sma averages the last n closes.
func (s *MACrossStrategy) sma(n int) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range s.closes[len(s.closes)-n:] {
		sum = sum.Add(c)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}
