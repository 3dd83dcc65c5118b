// Package updater tops up stored candle history: for each symbol it fetches
// 1m candles newer than the latest stored row, aggregates the fresh slice
// into every supported interval, and inserts with first-writer-wins conflict
// handling.
package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"midas-engine/internal/aggregate"
	"midas-engine/internal/market"
)

// KlineSource fetches one page of candles ending at a given time. A nil or
// empty result means the source has nothing at or before endTime.
type KlineSource interface {
	FetchBatch(ctx context.Context, symbol string, interval market.Interval, endTime int64) []market.Candle
}

// Store is the persistence surface the updater needs.
type Store interface {
	Symbols(ctx context.Context) ([]string, error)
	LatestOpenTime(ctx context.Context, symbol string, interval market.Interval) (int64, bool, error)
	InsertCandles(ctx context.Context, symbol string, interval market.Interval, candles []market.Candle) (int64, error)
}

// CursorStore caches the last persisted 1m open_time per symbol, saving a
// database round trip per update pass. Nil is a valid store; both sides are
// best effort, a miss just falls back to the database.
type CursorStore interface {
	GetCursor(ctx context.Context, symbol string) (int64, bool)
	SetCursor(ctx context.Context, symbol string, openTime int64)
}

// Stats summarizes one symbol's update pass.
type Stats struct {
	Symbol   string
	Skipped  bool  // no 1m history to extend
	Fetched  int   // fresh 1m candles pulled
	Inserted int64 // rows inserted across all intervals
	Err      error
}

// Updater extends each symbol's candle tables up to the present.
type Updater struct {
	source   KlineSource
	store    Store
	cursors  CursorStore
	apiLimit int
	sleep    time.Duration
	log      zerolog.Logger

	now func() int64
}

// New creates an updater. cursors may be nil.
func New(source KlineSource, store Store, cursors CursorStore, apiLimit int, sleep time.Duration, log zerolog.Logger) *Updater {
	return &Updater{
		source:   source,
		store:    store,
		cursors:  cursors,
		apiLimit: apiLimit,
		sleep:    sleep,
		log:      log.With().Str("component", "updater").Logger(),
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// UpdateSymbol fetches candles newer than the symbol's stored 1m history and
// persists them across all intervals. Symbols with no 1m history are skipped:
// bootstrapping is the historical fetcher's job.
func (u *Updater) UpdateSymbol(ctx context.Context, symbol string) (Stats, error) {
	stats := Stats{Symbol: symbol}

	last, ok, err := u.lastOpenTime(ctx, symbol)
	if err != nil {
		return stats, err
	}
	if !ok {
		stats.Skipped = true
		u.log.Warn().Str("symbol", symbol).Msg("no 1m history, skipping")
		return stats, nil
	}

	fresh, err := u.fetchForward(ctx, symbol, last+1)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(fresh)
	if len(fresh) == 0 {
		u.log.Info().Str("symbol", symbol).Msg("already up to date")
		return stats, nil
	}

	// The fresh 1m slice is re-aggregated into every interval. A coarser
	// bucket already stored as a partial is left untouched by the
	// conflict-ignore insert.
	for interval, candles := range aggregate.AllIntervals(fresh) {
		if len(candles) == 0 {
			continue
		}
		inserted, err := u.store.InsertCandles(ctx, symbol, interval, candles)
		if err != nil {
			return stats, fmt.Errorf("failed to insert %s %s candles: %w", symbol, interval, err)
		}
		stats.Inserted += inserted
	}

	if u.cursors != nil {
		u.cursors.SetCursor(ctx, symbol, fresh[len(fresh)-1].OpenTime)
	}

	u.log.Info().
		Str("symbol", symbol).
		Int("fetched", stats.Fetched).
		Int64("inserted", stats.Inserted).
		Msg("symbol updated")
	return stats, nil
}

// lastOpenTime resolves the symbol's resume point: the cached cursor when
// present, otherwise the latest stored 1m open_time. A false second return
// means the symbol has no 1m history at all.
func (u *Updater) lastOpenTime(ctx context.Context, symbol string) (int64, bool, error) {
	if u.cursors != nil {
		if cursor, ok := u.cursors.GetCursor(ctx, symbol); ok {
			u.log.Debug().Str("symbol", symbol).Int64("cursor", cursor).Msg("resuming from cached cursor")
			return cursor, true, nil
		}
	}
	last, ok, err := u.store.LatestOpenTime(ctx, symbol, market.Interval1m)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read latest 1m open_time for %s: %w", symbol, err)
	}
	return last, ok, nil
}

// fetchForward slides a window of apiLimit minutes from cursor toward the
// present, collecting candles strictly newer than the cursor. It stops on an
// empty batch, on a batch with nothing new, or when the window passes now.
func (u *Updater) fetchForward(ctx context.Context, symbol string, cursor int64) ([]market.Candle, error) {
	nowMs := u.now()
	window := int64(u.apiLimit) * market.Interval1m.WidthMs()

	var fresh []market.Candle
	for cursor <= nowMs {
		if err := ctx.Err(); err != nil {
			return fresh, err
		}

		end := cursor + window
		if end > nowMs {
			end = nowMs
		}

		batch := u.source.FetchBatch(ctx, symbol, market.Interval1m, end)
		if len(batch) == 0 {
			break
		}

		newRows := 0
		for _, c := range batch {
			if c.OpenTime <= cursor {
				continue
			}
			fresh = append(fresh, c)
			newRows++
		}
		if newRows == 0 {
			break
		}

		cursor = batch[len(batch)-1].OpenTime + 1

		u.log.Debug().
			Str("symbol", symbol).
			Int("new", newRows).
			Int64("cursor", cursor).
			Msg("window advanced")

		if err := sleepCtx(ctx, u.sleep); err != nil {
			return fresh, err
		}
	}
	return fresh, nil
}

// UpdateAll runs one update pass over every symbol known to the store. One
// symbol's failure never stops the others.
func (u *Updater) UpdateAll(ctx context.Context) ([]Stats, error) {
	symbols, err := u.store.Symbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}

	results := make([]Stats, 0, len(symbols))
	for _, symbol := range symbols {
		stats, err := u.UpdateSymbol(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return results, err
			}
			stats.Err = err
			u.log.Error().Str("symbol", symbol).Err(err).Msg("symbol update failed")
		}
		results = append(results, stats)
	}
	return results, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
