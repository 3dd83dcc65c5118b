package engine

import (
	"midas-engine/internal/market"
)

// Strategy is the decision boundary of a backtest. OnCandle runs once per
// candle after mark-to-market and order matching; any orders it returns are
// submitted to the pending queue. The remaining callbacks are notifications
// and must not block.
type Strategy interface {
	Name() string
	Parameters() map[string]any

	OnCandle(candle market.Candle, account *Account) []*Order
	OnOrderFilled(order *Order)
	OnPositionOpened(position *Position)
	OnPositionClosed(trade *Trade)
}

// NopStrategy implements Strategy with no behavior. Embed it to implement
// only the callbacks a strategy cares about.
type NopStrategy struct{}

func (NopStrategy) Name() string                              { return "nop" }
func (NopStrategy) Parameters() map[string]any                { return nil }
func (NopStrategy) OnCandle(market.Candle, *Account) []*Order { return nil }
func (NopStrategy) OnOrderFilled(*Order)                      {}
func (NopStrategy) OnPositionOpened(*Position)                {}
func (NopStrategy) OnPositionClosed(*Trade)                   {}
