package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is one asset's holdings, split into spendable and reserved parts.
type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total is free plus locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// Account owns balances and positions for one backtest run.
type Account struct {
	ID            string
	Balances      map[string]Balance
	Positions     map[string]*Position
	TotalFeesPaid decimal.Decimal
	TotalPnL      decimal.Decimal
	CreatedAt     time.Time
}

// NewAccount creates an account seeded with an initial balance in the given
// asset.
func NewAccount(asset string, initial decimal.Decimal) *Account {
	return &Account{
		ID:            uuid.New().String(),
		Balances:      map[string]Balance{asset: {Free: initial}},
		Positions:     make(map[string]*Position),
		TotalFeesPaid: decimal.Zero,
		TotalPnL:      decimal.Zero,
		CreatedAt:     time.Now().UTC(),
	}
}

// FreeBalance returns the spendable amount of the asset.
func (a *Account) FreeBalance(asset string) decimal.Decimal {
	return a.Balances[asset].Free
}

// TotalBalance returns free plus locked for the asset.
func (a *Account) TotalBalance(asset string) decimal.Decimal {
	return a.Balances[asset].Total()
}

// Deposit credits the asset's free balance.
func (a *Account) Deposit(asset string, amount decimal.Decimal) {
	b := a.Balances[asset]
	b.Free = b.Free.Add(amount)
	a.Balances[asset] = b
}

// Withdraw debits the asset's free balance, failing when funds are short.
func (a *Account) Withdraw(asset string, amount decimal.Decimal) error {
	b := a.Balances[asset]
	if b.Free.LessThan(amount) {
		return fmt.Errorf("insufficient %s balance: have %s, need %s", asset, b.Free, amount)
	}
	b.Free = b.Free.Sub(amount)
	a.Balances[asset] = b
	return nil
}

// Lock moves amount from free to locked, reserving it as position margin.
func (a *Account) Lock(asset string, amount decimal.Decimal) error {
	b := a.Balances[asset]
	if b.Free.LessThan(amount) {
		return fmt.Errorf("insufficient free %s to lock: have %s, need %s", asset, b.Free, amount)
	}
	b.Free = b.Free.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	a.Balances[asset] = b
	return nil
}

// Unlock releases amount from locked back to free.
func (a *Account) Unlock(asset string, amount decimal.Decimal) error {
	b := a.Balances[asset]
	if b.Locked.LessThan(amount) {
		return fmt.Errorf("insufficient locked %s to unlock: have %s, need %s", asset, b.Locked, amount)
	}
	b.Locked = b.Locked.Sub(amount)
	b.Free = b.Free.Add(amount)
	a.Balances[asset] = b
	return nil
}

// ChargeFee debits the fee from the asset's free balance and accumulates it
// in the account's fee total. Fees may push the free balance negative; the
// accounting is settled, not rejected.
func (a *Account) ChargeFee(asset string, amount decimal.Decimal) {
	b := a.Balances[asset]
	b.Free = b.Free.Sub(amount)
	a.Balances[asset] = b
	a.TotalFeesPaid = a.TotalFeesPaid.Add(amount)
}

// SettlePnL credits (or debits) realized PnL to the asset's free balance and
// accumulates it in the account's PnL total.
func (a *Account) SettlePnL(asset string, amount decimal.Decimal) {
	b := a.Balances[asset]
	b.Free = b.Free.Add(amount)
	a.Balances[asset] = b
	a.TotalPnL = a.TotalPnL.Add(amount)
}

// OpenPositions returns the account's positions still in state OPEN.
func (a *Account) OpenPositions() []*Position {
	out := make([]*Position, 0, len(a.Positions))
	for _, p := range a.Positions {
		if p.Status == PositionOpen {
			out = append(out, p)
		}
	}
	return out
}

// Equity is the asset's total balance plus unrealized PnL across open
// positions.
func (a *Account) Equity(asset string) decimal.Decimal {
	equity := a.TotalBalance(asset)
	for _, p := range a.Positions {
		if p.Status == PositionOpen {
			equity = equity.Add(p.UnrealizedPnL)
		}
	}
	return equity
}
