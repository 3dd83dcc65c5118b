package engine

import "github.com/shopspring/decimal"

// TradeStatus is the lifecycle state of a trade record.
type TradeStatus string

const (
	TradeOpen      TradeStatus = "OPEN"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// Trade is the report record for the completed life of one position, from
// entry fill to exit fill.
type Trade struct {
	ID     string
	Symbol string

	EntryOrderID   string
	EntryOrderType OrderType
	EntrySide      Side
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	EntryTime      int64

	PositionSide PositionSide
	Leverage     decimal.Decimal

	ExitOrderID   string
	ExitOrderType OrderType
	ExitPrice     decimal.Decimal
	ExitTime      int64

	Status      TradeStatus
	RealizedPnL decimal.Decimal // net of entry and exit fees
	TotalFees   decimal.Decimal

	MaxPrice         decimal.Decimal
	MinPrice         decimal.Decimal
	MaxUnrealizedPnL decimal.Decimal
	MinUnrealizedPnL decimal.Decimal
}

// newTrade opens a trade record from an entry fill.
func newTrade(id string, entry *Order, position *Position, entryFee decimal.Decimal) *Trade {
	return &Trade{
		ID:               id,
		Symbol:           entry.Symbol,
		EntryOrderID:     entry.ID,
		EntryOrderType:   entry.Type,
		EntrySide:        entry.Side,
		Quantity:         position.Quantity(),
		EntryPrice:       entry.FillPrice,
		EntryTime:        entry.FilledAt,
		PositionSide:     position.Side,
		Leverage:         position.Leverage,
		Status:           TradeOpen,
		RealizedPnL:      decimal.Zero,
		TotalFees:        entryFee,
		MaxPrice:         entry.FillPrice,
		MinPrice:         entry.FillPrice,
		MaxUnrealizedPnL: decimal.Zero,
		MinUnrealizedPnL: decimal.Zero,
	}
}

// observe updates the running extremes from one mark-to-market step.
func (t *Trade) observe(price, unrealized decimal.Decimal) {
	if price.GreaterThan(t.MaxPrice) {
		t.MaxPrice = price
	}
	if price.LessThan(t.MinPrice) {
		t.MinPrice = price
	}
	if unrealized.GreaterThan(t.MaxUnrealizedPnL) {
		t.MaxUnrealizedPnL = unrealized
	}
	if unrealized.LessThan(t.MinUnrealizedPnL) {
		t.MinUnrealizedPnL = unrealized
	}
}

// close promotes the trade to CLOSED. grossPnL is the fee-free realized PnL;
// the recorded realized PnL is net of the entry fee already charged and the
// exit fee.
func (t *Trade) close(exitOrderID string, exitType OrderType, price decimal.Decimal, grossPnL, exitFee decimal.Decimal, exitTime int64) {
	t.ExitOrderID = exitOrderID
	t.ExitOrderType = exitType
	t.ExitPrice = price
	t.ExitTime = exitTime
	t.TotalFees = t.TotalFees.Add(exitFee)
	t.RealizedPnL = grossPnL.Sub(t.TotalFees)
	t.Status = TradeClosed
}

// DurationMinutes is the trade's lifetime in minutes, zero while open.
func (t *Trade) DurationMinutes() float64 {
	if t.Status != TradeClosed || t.ExitTime < t.EntryTime {
		return 0
	}
	return float64(t.ExitTime-t.EntryTime) / 60_000
}
