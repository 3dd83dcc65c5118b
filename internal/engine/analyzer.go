package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ProfitFactorCap substitutes for an undefined profit factor when there are
// gains but no losses.
const ProfitFactorCap = 999999

// BacktestMetrics is the analyzed outcome of one run. Monetary fields are
// exact decimals; percentages, ratios, and durations are floats.
type BacktestMetrics struct {
	StrategyName string
	Symbol       string
	StartTime    int64
	EndTime      int64

	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal

	TotalTrades   int
	ClosedTrades  int
	WinningTrades int
	LosingTrades  int

	TotalPnL  decimal.Decimal
	TotalFees decimal.Decimal
	NetPnL    decimal.Decimal

	TotalReturn  float64 // percent
	WinRate      float64 // percent
	ProfitFactor float64
	MaxDrawdown  float64 // percent

	AverageWin           decimal.Decimal
	AverageLoss          decimal.Decimal
	AverageTradeDuration float64 // minutes
}

// Analyze computes run metrics. trades is every trade opened; closed is the
// CLOSED subset in the order the positions closed, which fixes the drawdown
// walk order.
func Analyze(strategyName, symbol string, start, end int64, initial, final decimal.Decimal, trades, closed []*Trade) *BacktestMetrics {
	m := &BacktestMetrics{
		StrategyName:   strategyName,
		Symbol:         symbol,
		StartTime:      start,
		EndTime:        end,
		InitialBalance: initial,
		FinalBalance:   final,
		TotalTrades:    len(trades),
		ClosedTrades:   len(closed),
		TotalPnL:       decimal.Zero,
		TotalFees:      decimal.Zero,
		AverageWin:     decimal.Zero,
		AverageLoss:    decimal.Zero,
	}

	for _, t := range trades {
		m.TotalFees = m.TotalFees.Add(t.TotalFees)
	}

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	var durationSum float64
	var durationCount int

	for _, t := range closed {
		m.TotalPnL = m.TotalPnL.Add(t.RealizedPnL)
		switch {
		case t.RealizedPnL.Sign() > 0:
			m.WinningTrades++
			grossProfit = grossProfit.Add(t.RealizedPnL)
		default:
			m.LosingTrades++
			grossLoss = grossLoss.Add(t.RealizedPnL)
		}
		if t.ExitTime >= t.EntryTime && t.EntryTime > 0 {
			durationSum += float64(t.ExitTime-t.EntryTime) / 60_000
			durationCount++
		}
	}
	m.NetPnL = m.TotalPnL.Sub(m.TotalFees)

	if initial.Sign() > 0 {
		m.TotalReturn, _ = final.Sub(initial).Div(initial).Mul(decimal.NewFromInt(100)).Float64()
	}
	if m.ClosedTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.ClosedTrades) * 100
	}

	switch {
	case grossLoss.IsZero() && grossProfit.Sign() > 0:
		m.ProfitFactor = ProfitFactorCap
	case grossLoss.IsZero():
		m.ProfitFactor = 0
	default:
		m.ProfitFactor, _ = grossProfit.Div(grossLoss.Abs()).Float64()
	}

	if m.WinningTrades > 0 {
		m.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(m.LosingTrades)))
	}
	if durationCount > 0 {
		m.AverageTradeDuration = durationSum / float64(durationCount)
	}

	m.MaxDrawdown = maxDrawdown(initial, closed)
	return m
}

// maxDrawdown walks closed trades in order, tracking the running balance and
// its running maximum; the result is the largest peak-to-trough decline as a
// percent of the peak.
func maxDrawdown(initial decimal.Decimal, closed []*Trade) float64 {
	balance := initial
	peak := initial
	worst := 0.0

	for _, t := range closed {
		balance = balance.Add(t.RealizedPnL)
		if balance.GreaterThan(peak) {
			peak = balance
			continue
		}
		if peak.Sign() <= 0 {
			continue
		}
		dd, _ := peak.Sub(balance).Div(peak).Mul(decimal.NewFromInt(100)).Float64()
		if dd > worst {
			worst = dd
		}
	}
	return worst
}

// Summary renders the compact metrics block printed after a run.
func (m *BacktestMetrics) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "strategy:        %s (%s)\n", m.StrategyName, m.Symbol)
	fmt.Fprintf(&b, "final balance:   %s (return %.2f%%)\n", m.FinalBalance.StringFixed(2), m.TotalReturn)
	fmt.Fprintf(&b, "trades:          %d total, %d closed, %d won, %d lost\n",
		m.TotalTrades, m.ClosedTrades, m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(&b, "win rate:        %.2f%%\n", m.WinRate)
	fmt.Fprintf(&b, "profit factor:   %.2f\n", m.ProfitFactor)
	fmt.Fprintf(&b, "max drawdown:    %.3f%%\n", m.MaxDrawdown)
	fmt.Fprintf(&b, "pnl:             total %s, fees %s, net %s\n",
		m.TotalPnL.StringFixed(4), m.TotalFees.StringFixed(4), m.NetPnL.StringFixed(4))
	fmt.Fprintf(&b, "avg win/loss:    %s / %s\n", m.AverageWin.StringFixed(4), m.AverageLoss.StringFixed(4))
	fmt.Fprintf(&b, "avg duration:    %.1f min", m.AverageTradeDuration)
	return b.String()
}
