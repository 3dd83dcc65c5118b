package sink

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"midas-engine/internal/database"
	"midas-engine/internal/market"
)

// TableSink persists candle batches into the per-(symbol, interval) tables
// with first-writer-wins conflict handling.
type TableSink struct {
	repo *database.Repository
	log  zerolog.Logger

	mu       sync.Mutex
	prepared map[string]bool
}

// NewTableSink creates a table sink over the candle repository.
func NewTableSink(repo *database.Repository, log zerolog.Logger) *TableSink {
	return &TableSink{
		repo:     repo,
		log:      log.With().Str("component", "table_sink").Logger(),
		prepared: make(map[string]bool),
	}
}

// Begin ensures the symbol's candle tables exist. Repeat calls for the same
// symbol are no-ops.
func (s *TableSink) Begin(ctx context.Context, symbol string, _ market.Interval) error {
	s.mu.Lock()
	done := s.prepared[symbol]
	s.mu.Unlock()
	if done {
		return nil
	}

	if err := s.repo.CreateTables(ctx, symbol); err != nil {
		return err
	}

	s.mu.Lock()
	s.prepared[symbol] = true
	s.mu.Unlock()
	return nil
}

// WriteBatch inserts the batch transactionally, ignoring duplicate
// open_time rows.
func (s *TableSink) WriteBatch(ctx context.Context, symbol string, interval market.Interval, candles []market.Candle) error {
	inserted, err := s.repo.InsertCandles(ctx, symbol, interval, candles)
	if err != nil {
		return err
	}
	s.log.Debug().
		Str("symbol", symbol).
		Str("interval", string(interval)).
		Int("batch", len(candles)).
		Int64("inserted", inserted).
		Msg("batch persisted")
	return nil
}

// Close is a no-op; the connection pool is owned by the caller.
func (s *TableSink) Close(string, market.Interval) error {
	return nil
}
