package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"midas-engine/internal/market"
)

// ErrEmptyCandleSet rejects a backtest started without candles.
var ErrEmptyCandleSet = errors.New("backtest requires a non-empty candle set")

// Config parameterizes one backtest run.
type Config struct {
	Symbol         string
	InitialBalance decimal.Decimal
	QuoteAsset     string
	Fees           FeeConfig
	ProgressEvery  int // candles between progress logs, 0 disables
}

// Backtest drives a strategy over an ordered candle list, one candle at a
// time: mark open positions, match pending orders, step the strategy, report
// progress. The loop is single-threaded and has no wall-clock or RNG inputs,
// so equal inputs produce bit-identical trades and metrics.
type Backtest struct {
	cfg      Config
	strategy Strategy
	candles  []market.Candle
	log      zerolog.Logger

	account *Account
	orders  *OrderService
	fees    *FeeCalculator
	ids     *idGenerator

	position     *Position // current net position, nil when flat
	live         *Trade    // trade record for the current position
	lockedMargin decimal.Decimal

	trades    []*Trade // every trade, in open order
	completed []*Trade // closed trades, in close order
}

// NewBacktest assembles a run. The candle list must be ascending by open
// time.
func NewBacktest(cfg Config, strategy Strategy, candles []market.Candle, log zerolog.Logger) *Backtest {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	ids := newIDGenerator()
	return &Backtest{
		cfg:          cfg,
		strategy:     strategy,
		candles:      candles,
		log:          log.With().Str("component", "backtest").Str("strategy", strategy.Name()).Logger(),
		account:      NewAccount(cfg.QuoteAsset, cfg.InitialBalance),
		orders:       NewOrderService(cfg.QuoteAsset, ids),
		fees:         NewFeeCalculator(cfg.Fees, cfg.QuoteAsset),
		ids:          ids,
		lockedMargin: decimal.Zero,
	}
}

// Account exposes the run's account, primarily to strategies and tests.
func (b *Backtest) Account() *Account { return b.account }

// Trades returns every trade opened during the run, in open order.
func (b *Backtest) Trades() []*Trade { return b.trades }

// CompletedTrades returns closed trades in the order their positions closed.
func (b *Backtest) CompletedTrades() []*Trade { return b.completed }

// Run executes the event loop over all candles and returns the analyzed
// metrics. A position still open after the final candle is force-closed at
// that candle's close.
func (b *Backtest) Run() (*BacktestMetrics, error) {
	if len(b.candles) == 0 {
		return nil, ErrEmptyCandleSet
	}

	for i, candle := range b.candles {
		if err := b.step(candle); err != nil {
			return nil, fmt.Errorf("candle %d (open_time %d): %w", i, candle.OpenTime, err)
		}

		if b.cfg.ProgressEvery > 0 && (i+1)%b.cfg.ProgressEvery == 0 {
			b.log.Info().
				Int("processed", i+1).
				Int("total", len(b.candles)).
				Str("equity", b.account.Equity(b.cfg.QuoteAsset).String()).
				Msg("backtest progress")
		}
	}

	if err := b.forceClose(b.candles[len(b.candles)-1]); err != nil {
		return nil, err
	}

	last := b.candles[len(b.candles)-1]
	metrics := Analyze(
		b.strategy.Name(), b.cfg.Symbol,
		b.candles[0].OpenTime, last.CloseTime,
		b.cfg.InitialBalance, b.account.TotalBalance(b.cfg.QuoteAsset),
		b.trades, b.completed,
	)
	return metrics, nil
}

// step processes one candle: mark, match, strategy, in that order.
func (b *Backtest) step(candle market.Candle) error {
	price := candle.Close

	if b.position != nil && b.position.Status == PositionOpen {
		b.position.UpdatePrice(price)
		b.live.observe(price, b.position.UnrealizedPnL)
	}

	for _, filled := range b.orders.Match(price, candle.CloseTime) {
		if err := b.applyFill(filled); err != nil {
			return err
		}
	}

	for _, order := range b.safeOnCandle(candle) {
		if order == nil {
			continue
		}
		if err := b.orders.Submit(order, b.account, candle.CloseTime); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				b.log.Warn().Str("order_id", order.ID).Str("reason", verr.Reason).Msg("order rejected")
				continue
			}
			return err
		}
	}
	return nil
}

// safeOnCandle invokes the strategy callback, converting a panic into a
// logged skip of this candle's signals.
func (b *Backtest) safeOnCandle(candle market.Candle) (orders []*Order) {
	defer func() {
		if r := recover(); r != nil {
			orders = nil
			b.log.Error().
				Interface("panic", r).
				Int64("open_time", candle.OpenTime).
				Msg("strategy callback failed, candle skipped")
		}
	}()
	return b.strategy.OnCandle(candle, b.account)
}

// safeNotify shields the loop from panics in strategy notification hooks.
func (b *Backtest) safeNotify(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("callback", name).Msg("strategy callback failed")
		}
	}()
	fn()
}

// applyFill settles one filled order against the current position: extend on
// a same-direction fill, close (then possibly flip) on an opposite one, open
// when flat. Fees are charged at fill time.
func (b *Backtest) applyFill(order *Order) error {
	fee := b.fees.FillFee(order.Type, order.Quantity, order.FillPrice, order.FilledAt, order.ID)
	b.account.ChargeFee(b.cfg.QuoteAsset, fee.Amount)
	b.safeNotify("on_order_filled", func() { b.strategy.OnOrderFilled(order) })

	direction := PositionLong
	if order.Side == SideSell {
		direction = PositionShort
	}

	if b.position == nil || b.position.Status != PositionOpen {
		return b.openPosition(order, direction, order.Quantity, fee.Amount)
	}

	if b.position.Side == direction {
		if err := b.position.Add(order.Quantity, order.FillPrice); err != nil {
			return err
		}
		b.lockMargin(order.Quantity.Mul(order.FillPrice).Div(b.position.Leverage))
		b.live.Quantity = b.position.Quantity()
		b.live.EntryPrice = b.position.EntryPrice
		b.live.TotalFees = b.live.TotalFees.Add(fee.Amount)
		return nil
	}

	closeQty := decimal.Min(order.Quantity, b.position.Quantity())
	closeShare := closeQty.Div(order.Quantity)
	exitFee := fee.Amount.Mul(closeShare)

	before := b.position.Quantity()
	if _, err := b.position.ClosePartial(closeQty, order.FillPrice); err != nil {
		return err
	}
	b.unlockMargin(b.lockedMargin.Mul(closeQty).Div(before))

	if b.position.Status == PositionClosed {
		gross := b.position.RealizedPnL
		b.account.SettlePnL(b.cfg.QuoteAsset, gross)
		b.live.close(order.ID, order.Type, order.FillPrice, gross, exitFee, order.FilledAt)
		b.completed = append(b.completed, b.live)
		closedTrade := b.live
		b.position = nil
		b.live = nil
		b.safeNotify("on_position_closed", func() { b.strategy.OnPositionClosed(closedTrade) })
	} else {
		b.live.Quantity = b.position.Quantity()
		b.live.TotalFees = b.live.TotalFees.Add(exitFee)
	}

	leftover := order.Quantity.Sub(closeQty)
	if leftover.Sign() > 0 {
		return b.openPosition(order, direction, leftover, fee.Amount.Sub(exitFee))
	}
	return nil
}

// openPosition opens a new position and its trade record from a fill.
func (b *Backtest) openPosition(order *Order, side PositionSide, quantity, entryFee decimal.Decimal) error {
	position, err := NewPosition(
		b.ids.next("position"), order.Symbol, side,
		quantity, order.FillPrice, decimal.NewFromInt(1), order.FilledAt,
	)
	if err != nil {
		return err
	}
	b.account.Positions[position.ID] = position
	b.lockMargin(position.MarginUsed())

	trade := newTrade(b.ids.next("trade"), order, position, entryFee)
	b.trades = append(b.trades, trade)
	b.position = position
	b.live = trade

	b.safeNotify("on_position_opened", func() { b.strategy.OnPositionOpened(position) })
	return nil
}

// forceClose flattens a position still open after the final candle, at that
// candle's close, with a synthetic exit identifier. The exit fee uses the
// same rate as the trade's entry order type.
func (b *Backtest) forceClose(last market.Candle) error {
	if b.position == nil || b.position.Status != PositionOpen {
		return nil
	}

	price := last.Close
	quantity := b.position.Quantity()
	exitID := "final_close_" + b.position.ID

	fee := b.fees.FillFee(b.live.EntryOrderType, quantity, price, last.CloseTime, exitID)
	b.account.ChargeFee(b.cfg.QuoteAsset, fee.Amount)

	if _, err := b.position.CloseFull(price); err != nil {
		return err
	}
	b.unlockMargin(b.lockedMargin)

	gross := b.position.RealizedPnL
	b.account.SettlePnL(b.cfg.QuoteAsset, gross)
	b.live.close(exitID, b.live.EntryOrderType, price, gross, fee.Amount, last.CloseTime)
	b.completed = append(b.completed, b.live)

	closedTrade := b.live
	b.position = nil
	b.live = nil
	b.safeNotify("on_position_closed", func() { b.strategy.OnPositionClosed(closedTrade) })

	b.log.Info().Str("trade_id", closedTrade.ID).Str("exit", price.String()).Msg("open position force-closed at end of data")
	return nil
}

// lockMargin reserves margin best effort: a backtest account can run out of
// free balance through fees without invalidating the run.
func (b *Backtest) lockMargin(amount decimal.Decimal) {
	free := b.account.FreeBalance(b.cfg.QuoteAsset)
	if amount.GreaterThan(free) {
		amount = free
	}
	if amount.Sign() <= 0 {
		return
	}
	if err := b.account.Lock(b.cfg.QuoteAsset, amount); err == nil {
		b.lockedMargin = b.lockedMargin.Add(amount)
	}
}

func (b *Backtest) unlockMargin(amount decimal.Decimal) {
	if amount.GreaterThan(b.lockedMargin) {
		amount = b.lockedMargin
	}
	if amount.Sign() <= 0 {
		return
	}
	if err := b.account.Unlock(b.cfg.QuoteAsset, amount); err == nil {
		b.lockedMargin = b.lockedMargin.Sub(amount)
	}
}
