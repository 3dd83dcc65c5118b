package engine

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"midas-engine/internal/market"
)

// flatCandle builds a valid candle at index i whose OHLC all equal close.
func flatCandle(i int, close string) market.Candle {
	c := d(close)
	openTime := int64(i) * 60_000
	return market.Candle{
		OpenTime:  openTime,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1),
		CloseTime: openTime + 59_999,
	}
}

func candleSeries(closes ...string) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = flatCandle(i, c)
	}
	return out
}

// scriptedStrategy emits a fixed set of orders at fixed candle indexes.
type scriptedStrategy struct {
	NopStrategy
	script map[int][]*Order
	step   int
}

func (s *scriptedStrategy) Name() string { return "scripted" }

func (s *scriptedStrategy) OnCandle(market.Candle, *Account) []*Order {
	orders := s.script[s.step]
	s.step++
	return orders
}

func runConfig(initial string) Config {
	return Config{
		Symbol:         "BTCUSDT",
		InitialBalance: d(initial),
		QuoteAsset:     "USDT",
		Fees:           DefaultFeeConfig(),
	}
}

func TestRun_SimpleLongTrade(t *testing.T) {
	// Market BUY on candle 0 fills at candle 1 (close 100); Market SELL on
	// candle 10 fills at candle 11 (close 120).
	candles := candleSeries(
		"100", "100", "102", "104", "106", "108",
		"110", "112", "114", "116", "120", "120",
	)
	strategy := &scriptedStrategy{script: map[int][]*Order{
		0:  {NewMarketOrder("BTCUSDT", SideBuy, d("1"))},
		10: {NewMarketOrder("BTCUSDT", SideSell, d("1"))},
	}}

	b := NewBacktest(runConfig("10000"), strategy, candles, zerolog.Nop())
	m, err := b.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(b.CompletedTrades()) != 1 {
		t.Fatalf("completed trades = %d, want 1", len(b.CompletedTrades()))
	}
	trade := b.CompletedTrades()[0]
	if trade.Status != TradeClosed {
		t.Fatalf("trade status = %s, want CLOSED", trade.Status)
	}
	if !trade.EntryPrice.Equal(d("100")) || !trade.ExitPrice.Equal(d("120")) {
		t.Errorf("entry/exit = %s/%s, want 100/120", trade.EntryPrice, trade.ExitPrice)
	}
	// 20 gross minus taker fees on both fills: 100·0.0004 + 120·0.0004.
	if !trade.RealizedPnL.Equal(d("19.912")) {
		t.Errorf("realized = %s, want 19.912", trade.RealizedPnL)
	}
	if !trade.TotalFees.Equal(d("0.088")) {
		t.Errorf("total fees = %s, want 0.088", trade.TotalFees)
	}
	if trade.ExitOrderID == "" || trade.ExitTime < trade.EntryTime {
		t.Errorf("closed trade missing exit fields: %+v", trade)
	}

	if m.TotalTrades != 1 || m.WinningTrades != 1 {
		t.Errorf("counts = %d total, %d winning, want 1/1", m.TotalTrades, m.WinningTrades)
	}
	if m.WinRate != 100 {
		t.Errorf("win rate = %f, want 100", m.WinRate)
	}
	if m.ProfitFactor != ProfitFactorCap {
		t.Errorf("profit factor = %f, want %d", m.ProfitFactor, ProfitFactorCap)
	}
	if !m.FinalBalance.Equal(d("10019.912")) {
		t.Errorf("final balance = %s, want 10019.912", m.FinalBalance)
	}
}

func TestRun_StopLossFiresAtThreshold(t *testing.T) {
	// Entry fills at candle 1 (close 100); the stop is placed on candle 1
	// and sees closes 99, 96, 95 — firing only on the third.
	candles := candleSeries("100", "100", "99", "96", "95", "95")
	strategy := &scriptedStrategy{script: map[int][]*Order{
		0: {NewMarketOrder("BTCUSDT", SideBuy, d("1"))},
		1: {NewStopMarketOrder("BTCUSDT", SideSell, d("1"), d("95"))},
	}}

	b := NewBacktest(runConfig("10000"), strategy, candles, zerolog.Nop())
	m, err := b.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(b.CompletedTrades()) != 1 {
		t.Fatalf("completed trades = %d, want 1", len(b.CompletedTrades()))
	}
	trade := b.CompletedTrades()[0]
	if !trade.ExitPrice.Equal(d("95")) {
		t.Errorf("exit = %s, want 95", trade.ExitPrice)
	}
	// The stop fired on the candle closing at 95, not earlier.
	if trade.ExitTime != flatCandle(4, "95").CloseTime {
		t.Errorf("exit time = %d, want candle 4 close", trade.ExitTime)
	}
	// -5 gross minus taker entry fee (0.04) and maker exit fee (0.019).
	if !trade.RealizedPnL.Equal(d("-5.059")) {
		t.Errorf("realized = %s, want -5.059", trade.RealizedPnL)
	}
	if m.LosingTrades != 1 {
		t.Errorf("losing trades = %d, want 1", m.LosingTrades)
	}
}

func TestRun_ForceClosesOpenPosition(t *testing.T) {
	candles := candleSeries("100", "100", "110")
	strategy := &scriptedStrategy{script: map[int][]*Order{
		0: {NewMarketOrder("BTCUSDT", SideBuy, d("1"))},
	}}

	b := NewBacktest(runConfig("10000"), strategy, candles, zerolog.Nop())
	if _, err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(b.CompletedTrades()) != 1 {
		t.Fatalf("completed trades = %d, want 1", len(b.CompletedTrades()))
	}
	trade := b.CompletedTrades()[0]
	if trade.Status != TradeClosed || !trade.ExitPrice.Equal(d("110")) {
		t.Errorf("force close missing: %+v", trade)
	}
	if trade.ExitOrderID != "final_close_position_1" {
		t.Errorf("exit order id = %q", trade.ExitOrderID)
	}
	for _, p := range b.Account().Positions {
		if p.Status == PositionOpen {
			t.Error("position still open after run")
		}
	}
	// No locked margin survives the force close.
	if !b.Account().Balances["USDT"].Locked.IsZero() {
		t.Errorf("locked balance = %s after run", b.Account().Balances["USDT"].Locked)
	}
}

func TestRun_TracksExtremes(t *testing.T) {
	candles := candleSeries("100", "100", "130", "90", "100")
	strategy := &scriptedStrategy{script: map[int][]*Order{
		0: {NewMarketOrder("BTCUSDT", SideBuy, d("1"))},
	}}

	b := NewBacktest(runConfig("10000"), strategy, candles, zerolog.Nop())
	if _, err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	trade := b.CompletedTrades()[0]
	if !trade.MaxPrice.Equal(d("130")) || !trade.MinPrice.Equal(d("90")) {
		t.Errorf("price extremes = %s/%s, want 130/90", trade.MaxPrice, trade.MinPrice)
	}
	if !trade.MaxUnrealizedPnL.Equal(d("30")) || !trade.MinUnrealizedPnL.Equal(d("-10")) {
		t.Errorf("pnl extremes = %s/%s, want 30/-10", trade.MaxUnrealizedPnL, trade.MinUnrealizedPnL)
	}
}

func TestRun_EmptyCandleSet(t *testing.T) {
	b := NewBacktest(runConfig("10000"), &scriptedStrategy{}, nil, zerolog.Nop())
	if _, err := b.Run(); !errors.Is(err, ErrEmptyCandleSet) {
		t.Errorf("expected ErrEmptyCandleSet, got %v", err)
	}
}

type panickyStrategy struct {
	NopStrategy
	step int
}

func (s *panickyStrategy) Name() string { return "panicky" }

func (s *panickyStrategy) OnCandle(market.Candle, *Account) []*Order {
	s.step++
	if s.step == 2 {
		panic("strategy bug")
	}
	return nil
}

func TestRun_SurvivesStrategyPanic(t *testing.T) {
	candles := candleSeries("100", "101", "102")
	strategy := &panickyStrategy{}

	b := NewBacktest(runConfig("10000"), strategy, candles, zerolog.Nop())
	if _, err := b.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strategy.step != 3 {
		t.Errorf("strategy steps = %d, want 3 (loop must continue past the panic)", strategy.step)
	}
}

func TestRun_RejectedOrderDoesNotHalt(t *testing.T) {
	candles := candleSeries("100", "100", "100")
	strategy := &scriptedStrategy{script: map[int][]*Order{
		0: {NewMarketOrder("BTCUSDT", SideBuy, d("0"))}, // invalid
		1: {NewMarketOrder("BTCUSDT", SideBuy, d("1"))},
	}}

	b := NewBacktest(runConfig("10000"), strategy, candles, zerolog.Nop())
	m, err := b.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1 (only the valid order trades)", m.TotalTrades)
	}
}

func TestRun_Deterministic(t *testing.T) {
	closes := []string{
		"100", "100", "103", "99", "105", "101",
		"108", "95", "112", "90", "120", "120",
	}
	script := func() Strategy {
		return &scriptedStrategy{script: map[int][]*Order{
			0: {NewMarketOrder("BTCUSDT", SideBuy, d("2"))},
			4: {NewStopMarketOrder("BTCUSDT", SideSell, d("1"), d("96"))},
			8: {NewMarketOrder("BTCUSDT", SideSell, d("1"))},
		}}
	}

	run := func() (*BacktestMetrics, []*Trade) {
		b := NewBacktest(runConfig("10000"), script(), candleSeries(closes...), zerolog.Nop())
		m, err := b.Run()
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return m, b.Trades()
	}

	m1, trades1 := run()
	m2, trades2 := run()

	if m1.Summary() != m2.Summary() {
		t.Errorf("metrics differ between runs:\n%s\n--\n%s", m1.Summary(), m2.Summary())
	}
	if !m1.TotalPnL.Equal(m2.TotalPnL) || !m1.FinalBalance.Equal(m2.FinalBalance) {
		t.Error("pnl or balance differ between runs")
	}
	if len(trades1) != len(trades2) {
		t.Fatalf("trade counts differ: %d vs %d", len(trades1), len(trades2))
	}
	for i := range trades1 {
		a, b := trades1[i], trades2[i]
		if a.ID != b.ID || a.Status != b.Status ||
			!a.RealizedPnL.Equal(b.RealizedPnL) || !a.TotalFees.Equal(b.TotalFees) ||
			a.EntryTime != b.EntryTime || a.ExitTime != b.ExitTime {
			t.Errorf("trade %d differs: %+v vs %+v", i, a, b)
		}
	}
}
