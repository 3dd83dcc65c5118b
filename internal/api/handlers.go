package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"midas-engine/internal/engine"
	"midas-engine/internal/market"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleSymbols(c *gin.Context) {
	symbols, err := s.repo.Symbols(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("symbol listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list symbols"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

type candleResponse struct {
	OpenTime         int64  `json:"open_time"`
	Open             string `json:"open"`
	High             string `json:"high"`
	Low              string `json:"low"`
	Close            string `json:"close"`
	Volume           string `json:"volume"`
	CloseTime        int64  `json:"close_time"`
	QuoteAssetVolume string `json:"quote_asset_volume"`
	NumberOfTrades   int64  `json:"number_of_trades"`
}

func toCandleResponse(candles []market.Candle) []candleResponse {
	out := make([]candleResponse, len(candles))
	for i, candle := range candles {
		out[i] = candleResponse{
			OpenTime:         candle.OpenTime,
			Open:             candle.Open.String(),
			High:             candle.High.String(),
			Low:              candle.Low.String(),
			Close:            candle.Close.String(),
			Volume:           candle.Volume.String(),
			CloseTime:        candle.CloseTime,
			QuoteAssetVolume: candle.QuoteAssetVolume.String(),
			NumberOfTrades:   candle.NumberOfTrades,
		}
	}
	return out
}

func (s *Server) handleCandles(c *gin.Context) {
	symbol := c.Param("symbol")
	interval, err := market.ParseInterval(c.Param("interval"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	start := queryInt64(c, "start", 0)
	end := queryInt64(c, "end", time.Now().UnixMilli())
	if end < start {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must not precede start"})
		return
	}

	candles, err := s.repo.LoadRange(c.Request.Context(), symbol, interval, start, end)
	if err != nil {
		s.log.Error().Str("symbol", symbol).Err(err).Msg("candle load failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load candles"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": interval,
		"count":    len(candles),
		"candles":  toCandleResponse(candles),
	})
}

func (s *Server) handleUpdate(c *gin.Context) {
	if s.updater == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "updater is not configured"})
		return
	}

	symbol := c.Param("symbol")
	stats, err := s.updater.UpdateSymbol(c.Request.Context(), symbol)
	if err != nil {
		s.log.Error().Str("symbol", symbol).Err(err).Msg("update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if stats.Skipped {
		c.JSON(http.StatusConflict, gin.H{"error": "symbol has no 1m history; run a historical fetch first"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   stats.Symbol,
		"fetched":  stats.Fetched,
		"inserted": stats.Inserted,
	})
}

type backtestRequest struct {
	Symbol         string `json:"symbol" binding:"required"`
	Interval       string `json:"interval" binding:"required"`
	StartTime      int64  `json:"start_time"`
	EndTime        int64  `json:"end_time"`
	InitialBalance string `json:"initial_balance"`
	FastWindow     int    `json:"fast_window"`
	SlowWindow     int    `json:"slow_window"`
	Quantity       string `json:"quantity"`
}

type backtestResponse struct {
	Strategy       string  `json:"strategy"`
	Symbol         string  `json:"symbol"`
	StartTime      int64   `json:"start_time"`
	EndTime        int64   `json:"end_time"`
	InitialBalance string  `json:"initial_balance"`
	FinalBalance   string  `json:"final_balance"`
	TotalTrades    int     `json:"total_trades"`
	ClosedTrades   int     `json:"closed_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	TotalPnL       string  `json:"total_pnl"`
	TotalFees      string  `json:"total_fees"`
	NetPnL         string  `json:"net_pnl"`
	TotalReturn    float64 `json:"total_return"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	AvgDurationMin float64 `json:"average_trade_duration"`
}

func (s *Server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	interval, err := market.ParseInterval(req.Interval)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	initial := decimal.NewFromInt(10_000)
	if req.InitialBalance != "" {
		if initial, err = decimal.NewFromString(req.InitialBalance); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid initial_balance"})
			return
		}
	}
	quantity := decimal.NewFromFloat(0.001)
	if req.Quantity != "" {
		if quantity, err = decimal.NewFromString(req.Quantity); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid quantity"})
			return
		}
	}
	fast, slow := req.FastWindow, req.SlowWindow
	if fast <= 0 {
		fast = 9
	}
	if slow <= 0 {
		slow = 21
	}
	if fast >= slow {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fast_window must be smaller than slow_window"})
		return
	}

	end := req.EndTime
	if end == 0 {
		end = time.Now().UnixMilli()
	}
	candles, err := s.repo.LoadRange(c.Request.Context(), req.Symbol, interval, req.StartTime, end)
	if err != nil {
		s.log.Error().Str("symbol", req.Symbol).Err(err).Msg("candle load failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load candles"})
		return
	}

	strategy := engine.NewMACrossStrategy(req.Symbol, fast, slow, quantity)
	run := engine.NewBacktest(engine.Config{
		Symbol:         req.Symbol,
		InitialBalance: initial,
		Fees:           engine.DefaultFeeConfig(),
	}, strategy, candles, s.log)

	metrics, err := run.Run()
	if err != nil {
		if errors.Is(err, engine.ErrEmptyCandleSet) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no candles in the requested range"})
			return
		}
		s.log.Error().Str("symbol", req.Symbol).Err(err).Msg("backtest failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backtest failed"})
		return
	}

	c.JSON(http.StatusOK, backtestResponse{
		Strategy:       metrics.StrategyName,
		Symbol:         metrics.Symbol,
		StartTime:      metrics.StartTime,
		EndTime:        metrics.EndTime,
		InitialBalance: metrics.InitialBalance.String(),
		FinalBalance:   metrics.FinalBalance.String(),
		TotalTrades:    metrics.TotalTrades,
		ClosedTrades:   metrics.ClosedTrades,
		WinningTrades:  metrics.WinningTrades,
		LosingTrades:   metrics.LosingTrades,
		TotalPnL:       metrics.TotalPnL.String(),
		TotalFees:      metrics.TotalFees.String(),
		NetPnL:         metrics.NetPnL.String(),
		TotalReturn:    metrics.TotalReturn,
		WinRate:        metrics.WinRate,
		ProfitFactor:   metrics.ProfitFactor,
		MaxDrawdown:    metrics.MaxDrawdown,
		AvgDurationMin: metrics.AverageTradeDuration,
	})
}

func queryInt64(c *gin.Context, key string, fallback int64) int64 {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}
