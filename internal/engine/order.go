package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderType is the order variant.
type OrderType string

const (
	OrderMarket     OrderType = "MARKET"
	OrderLimit      OrderType = "LIMIT"
	OrderStopMarket OrderType = "STOP_MARKET"
	OrderStopLimit  OrderType = "STOP_LIMIT"
	OrderTakeProfit OrderType = "TAKE_PROFIT"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderNew      OrderStatus = "NEW"
	OrderFilled   OrderStatus = "FILLED"
	OrderCanceled OrderStatus = "CANCELED"
	OrderRejected OrderStatus = "REJECTED"
	OrderExpired  OrderStatus = "EXPIRED"
)

// Order is one instruction to trade. The typed price fields are meaningful
// per variant: Price for LIMIT, StopPrice for STOP_MARKET and STOP_LIMIT,
// LimitPrice additionally for STOP_LIMIT, TargetPrice for TAKE_PROFIT.
type Order struct {
	ID       string
	Symbol   string
	Type     OrderType
	Side     Side
	Quantity decimal.Decimal

	Price       decimal.Decimal
	StopPrice   decimal.Decimal
	LimitPrice  decimal.Decimal
	TargetPrice decimal.Decimal

	Status    OrderStatus
	CreatedAt int64
	FilledAt  int64
	FillPrice decimal.Decimal

	RejectReason string
}

// NewMarketOrder creates a market order. It fires on the next candle.
func NewMarketOrder(symbol string, side Side, quantity decimal.Decimal) *Order {
	return &Order{Symbol: symbol, Type: OrderMarket, Side: side, Quantity: quantity, Status: OrderNew}
}

// NewLimitOrder creates a limit order at price.
func NewLimitOrder(symbol string, side Side, quantity, price decimal.Decimal) *Order {
	return &Order{Symbol: symbol, Type: OrderLimit, Side: side, Quantity: quantity, Price: price, Status: OrderNew}
}

// NewStopMarketOrder creates a stop-market order triggered at stopPrice.
func NewStopMarketOrder(symbol string, side Side, quantity, stopPrice decimal.Decimal) *Order {
	return &Order{Symbol: symbol, Type: OrderStopMarket, Side: side, Quantity: quantity, StopPrice: stopPrice, Status: OrderNew}
}

// NewStopLimitOrder creates a stop-limit order triggered at stopPrice with a
// resting limit at limitPrice.
func NewStopLimitOrder(symbol string, side Side, quantity, stopPrice, limitPrice decimal.Decimal) *Order {
	return &Order{
		Symbol: symbol, Type: OrderStopLimit, Side: side, Quantity: quantity,
		StopPrice: stopPrice, LimitPrice: limitPrice, Status: OrderNew,
	}
}

// NewTakeProfitOrder creates a take-profit order triggered at targetPrice.
func NewTakeProfitOrder(symbol string, side Side, quantity, targetPrice decimal.Decimal) *Order {
	return &Order{Symbol: symbol, Type: OrderTakeProfit, Side: side, Quantity: quantity, TargetPrice: targetPrice, Status: OrderNew}
}

// Triggerable is the matching contract: whether the order fires at price.
type Triggerable interface {
	CanFire(price decimal.Decimal) bool
}

// CanFire reports whether the order triggers when the current price is p.
// Market orders always fire. Limit orders fire when price crosses to the
// favorable side; stops and take-profits when it crosses their threshold.
func (o *Order) CanFire(p decimal.Decimal) bool {
	switch o.Type {
	case OrderMarket:
		return true
	case OrderLimit:
		if o.Side == SideBuy {
			return p.LessThanOrEqual(o.Price)
		}
		return p.GreaterThanOrEqual(o.Price)
	case OrderStopMarket, OrderStopLimit:
		if o.Side == SideBuy {
			return p.GreaterThanOrEqual(o.StopPrice)
		}
		return p.LessThanOrEqual(o.StopPrice)
	case OrderTakeProfit:
		if o.Side == SideBuy {
			return p.GreaterThanOrEqual(o.TargetPrice)
		}
		return p.LessThanOrEqual(o.TargetPrice)
	}
	return false
}

// ValidationError rejects an order before queueing.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "order rejected: " + e.Reason
}

// validate checks the order's fields and, for buys, the account's quote
// balance. The market-order balance check reserves the bare quantity because
// no reference price exists at queue time; limit orders reserve quantity
// times limit price.
func validate(o *Order, account *Account, quoteAsset string) error {
	if o.Quantity.Sign() <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("quantity must be positive, got %s", o.Quantity)}
	}

	checks := []struct {
		name  string
		value decimal.Decimal
		used  bool
	}{
		{"price", o.Price, o.Type == OrderLimit},
		{"stop_price", o.StopPrice, o.Type == OrderStopMarket || o.Type == OrderStopLimit},
		{"limit_price", o.LimitPrice, o.Type == OrderStopLimit},
		{"target_price", o.TargetPrice, o.Type == OrderTakeProfit},
	}
	for _, c := range checks {
		if c.used && c.value.Sign() <= 0 {
			return &ValidationError{Reason: fmt.Sprintf("%s must be positive, got %s", c.name, c.value)}
		}
	}

	if o.Side == SideBuy {
		required := o.Quantity
		if o.Type == OrderLimit {
			required = o.Quantity.Mul(o.Price)
		}
		if account.FreeBalance(quoteAsset).LessThan(required) {
			return &ValidationError{
				Reason: fmt.Sprintf("insufficient balance: need %s %s, have %s",
					required, quoteAsset, account.FreeBalance(quoteAsset)),
			}
		}
	}
	return nil
}

// OrderService validates, queues, and matches pending orders.
type OrderService struct {
	quoteAsset string
	pending    []*Order
	ids        *idGenerator
}

// NewOrderService creates an order service charging balances in quoteAsset.
func NewOrderService(quoteAsset string, ids *idGenerator) *OrderService {
	return &OrderService{quoteAsset: quoteAsset, ids: ids}
}

// Submit validates the order and appends it to the pending queue. A rejected
// order gets status REJECTED and the typed reason; it is never queued.
func (s *OrderService) Submit(o *Order, account *Account, createdAt int64) error {
	o.ID = s.ids.next("order")
	o.CreatedAt = createdAt

	if err := validate(o, account, s.quoteAsset); err != nil {
		o.Status = OrderRejected
		var verr *ValidationError
		if errors.As(err, &verr) {
			o.RejectReason = verr.Reason
		}
		return err
	}

	s.pending = append(s.pending, o)
	return nil
}

// Cancel drops a pending order by id. Only NEW orders can be canceled.
func (s *OrderService) Cancel(orderID string) error {
	for i, o := range s.pending {
		if o.ID != orderID {
			continue
		}
		if o.Status != OrderNew {
			return fmt.Errorf("order %s is %s, only NEW orders can be canceled", orderID, o.Status)
		}
		o.Status = OrderCanceled
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		return nil
	}
	return fmt.Errorf("order %s is not pending", orderID)
}

// Match fills every pending order whose trigger holds at price, in arrival
// order, and removes them from the queue. Fill price is the given price.
func (s *OrderService) Match(price decimal.Decimal, now int64) []*Order {
	var filled []*Order
	remaining := s.pending[:0]
	for _, o := range s.pending {
		if !o.CanFire(price) {
			remaining = append(remaining, o)
			continue
		}
		o.Status = OrderFilled
		o.FilledAt = now
		o.FillPrice = price
		filled = append(filled, o)
	}
	s.pending = remaining
	return filled
}

// Pending returns the queued orders in arrival order.
func (s *OrderService) Pending() []*Order {
	return s.pending
}
