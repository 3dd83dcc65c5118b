// Package sink persists candle batches to either flat CSV files or the
// relational store. The two backends are interchangeable at pipeline start.
package sink

import (
	"context"

	"midas-engine/internal/market"
)

// Sink persists candle batches for one or more (symbol, interval) streams.
// Implementations must serialize writes per stream; callers partition work by
// symbol so one stream is only ever written by one goroutine.
type Sink interface {
	// Begin prepares the (symbol, interval) stream for writing: the CSV
	// backend truncates and writes the header row, the table backend
	// ensures the symbol's tables exist.
	Begin(ctx context.Context, symbol string, interval market.Interval) error
	// WriteBatch persists one batch and makes it durable before returning.
	WriteBatch(ctx context.Context, symbol string, interval market.Interval, candles []market.Candle) error
	// Close releases any resources held for the stream.
	Close(symbol string, interval market.Interval) error
}
