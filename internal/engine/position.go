package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PositionSide is the direction of a position.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionClosed     PositionStatus = "CLOSED"
	PositionLiquidated PositionStatus = "LIQUIDATED"
)

// InvariantError reports a position state violation. It is fatal to a
// backtest run.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "position invariant violated: " + e.Reason
}

// Position is one open or closed directional exposure. Size is signed:
// positive for LONG, negative for SHORT.
type Position struct {
	ID            string
	Symbol        string
	Side          PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	CurrentPrice  decimal.Decimal
	Leverage      decimal.Decimal
	EntryTime     int64
	Status        PositionStatus
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// NewPosition opens a position. quantity must be positive; the stored size is
// signed by side.
func NewPosition(id, symbol string, side PositionSide, quantity, entryPrice, leverage decimal.Decimal, entryTime int64) (*Position, error) {
	if quantity.Sign() <= 0 {
		return nil, &InvariantError{Reason: fmt.Sprintf("quantity must be positive, got %s", quantity)}
	}
	if leverage.LessThan(decimal.NewFromInt(1)) {
		return nil, &InvariantError{Reason: fmt.Sprintf("leverage must be >= 1, got %s", leverage)}
	}

	size := quantity
	if side == PositionShort {
		size = quantity.Neg()
	}
	return &Position{
		ID:            id,
		Symbol:        symbol,
		Side:          side,
		Size:          size,
		EntryPrice:    entryPrice,
		CurrentPrice:  entryPrice,
		Leverage:      leverage,
		EntryTime:     entryTime,
		Status:        PositionOpen,
		UnrealizedPnL: decimal.Zero,
		RealizedPnL:   decimal.Zero,
	}, nil
}

// pnl is the fee-free profit of closing quantity units at price.
func (p *Position) pnl(quantity, price decimal.Decimal) decimal.Decimal {
	if p.Side == PositionLong {
		return price.Sub(p.EntryPrice).Mul(quantity)
	}
	return p.EntryPrice.Sub(price).Mul(quantity)
}

// Quantity is the unsigned size.
func (p *Position) Quantity() decimal.Decimal {
	return p.Size.Abs()
}

// UpdatePrice marks the position to price and recomputes unrealized PnL.
func (p *Position) UpdatePrice(price decimal.Decimal) {
	p.CurrentPrice = price
	if p.Status != PositionOpen {
		return
	}
	p.UnrealizedPnL = p.pnl(p.Quantity(), price)
}

// Add extends the position by quantity units filled at price, recomputing the
// weighted average entry.
func (p *Position) Add(quantity, price decimal.Decimal) error {
	if p.Status != PositionOpen {
		return &InvariantError{Reason: "cannot add to closed position"}
	}
	if quantity.Sign() <= 0 {
		return &InvariantError{Reason: fmt.Sprintf("add quantity must be positive, got %s", quantity)}
	}

	oldQty := p.Quantity()
	newQty := oldQty.Add(quantity)
	p.EntryPrice = p.EntryPrice.Mul(oldQty).Add(price.Mul(quantity)).Div(newQty)
	if p.Side == PositionLong {
		p.Size = newQty
	} else {
		p.Size = newQty.Neg()
	}
	p.UpdatePrice(price)
	return nil
}

// ClosePartial realizes quantity units at price. Closing the full size
// transitions the position to CLOSED. Returns the fee-free realized PnL of
// the closed portion.
func (p *Position) ClosePartial(quantity, price decimal.Decimal) (decimal.Decimal, error) {
	if p.Status != PositionOpen {
		return decimal.Zero, &InvariantError{Reason: "cannot close a position that is not open"}
	}
	if quantity.Sign() <= 0 {
		return decimal.Zero, &InvariantError{Reason: fmt.Sprintf("close quantity must be positive, got %s", quantity)}
	}
	if quantity.GreaterThan(p.Quantity()) {
		return decimal.Zero, &InvariantError{
			Reason: fmt.Sprintf("cannot close %s, position size is %s", quantity, p.Quantity()),
		}
	}

	realized := p.pnl(quantity, price)
	p.RealizedPnL = p.RealizedPnL.Add(realized)

	remaining := p.Quantity().Sub(quantity)
	if p.Side == PositionLong {
		p.Size = remaining
	} else {
		p.Size = remaining.Neg()
	}
	p.CurrentPrice = price

	if remaining.IsZero() {
		p.Status = PositionClosed
		p.UnrealizedPnL = decimal.Zero
	} else {
		p.UnrealizedPnL = p.pnl(remaining, price)
	}
	return realized, nil
}

// CloseFull realizes the entire remaining size at price.
func (p *Position) CloseFull(price decimal.Decimal) (decimal.Decimal, error) {
	if p.Status != PositionOpen {
		return decimal.Zero, &InvariantError{Reason: "cannot close a position that is not open"}
	}
	return p.ClosePartial(p.Quantity(), price)
}

// MarginUsed is the quote-currency margin the position occupies at the
// current mark.
func (p *Position) MarginUsed() decimal.Decimal {
	return p.Quantity().Mul(p.CurrentPrice).Div(p.Leverage)
}
