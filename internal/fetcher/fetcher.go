// Package fetcher downloads full 1m candle history for a set of symbols by
// paginating the kline endpoint backwards from the present until the
// exchange has nothing older to return.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"

	"midas-engine/internal/market"
	"midas-engine/internal/sink"
)

// KlineSource fetches one page of candles ending at a given time. A nil or
// empty result means the source has nothing at or before endTime.
type KlineSource interface {
	FetchBatch(ctx context.Context, symbol string, interval market.Interval, endTime int64) []market.Candle
}

// Result summarizes one symbol's historical download.
type Result struct {
	Symbol  string
	Rows    int64
	Batches int
	Err     error
}

// HistoricalFetcher walks each symbol's 1m history from newest to oldest and
// streams every batch into a sink.
type HistoricalFetcher struct {
	source  KlineSource
	sink    sink.Sink
	sleep   time.Duration
	workers int
	log     zerolog.Logger

	// now supplies the initial pagination anchor in epoch milliseconds.
	now func() int64
}

// New creates a historical fetcher. workers bounds the number of symbols
// downloaded concurrently; sleep is the pause between requests per worker.
func New(source KlineSource, s sink.Sink, workers int, sleep time.Duration, log zerolog.Logger) *HistoricalFetcher {
	if workers < 1 {
		workers = 1
	}
	return &HistoricalFetcher{
		source:  source,
		sink:    s,
		sleep:   sleep,
		workers: workers,
		log:     log.With().Str("component", "fetcher").Logger(),
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// FetchSymbol downloads the symbol's entire 1m history. Pagination starts at
// the current time and moves the end cursor to just before the oldest candle
// of each batch; an empty batch means history is exhausted.
func (f *HistoricalFetcher) FetchSymbol(ctx context.Context, symbol string) (Result, error) {
	res := Result{Symbol: symbol}

	if err := f.sink.Begin(ctx, symbol, market.Interval1m); err != nil {
		return res, fmt.Errorf("failed to start sink for %s: %w", symbol, err)
	}
	defer f.sink.Close(symbol, market.Interval1m)

	end := f.now()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch := f.source.FetchBatch(ctx, symbol, market.Interval1m, end)
		if len(batch) == 0 {
			break
		}

		if err := f.sink.WriteBatch(ctx, symbol, market.Interval1m, batch); err != nil {
			return res, fmt.Errorf("failed to persist batch for %s: %w", symbol, err)
		}
		res.Rows += int64(len(batch))
		res.Batches++

		// Batches are ascending; the next page ends just before the
		// oldest candle seen so far.
		end = batch[0].OpenTime - 1

		f.log.Debug().
			Str("symbol", symbol).
			Int("batch", len(batch)).
			Int64("next_end", end).
			Msg("batch fetched")

		if err := sleepCtx(ctx, f.sleep); err != nil {
			return res, err
		}
	}

	f.log.Info().
		Str("symbol", symbol).
		Int64("rows", res.Rows).
		Int("batches", res.Batches).
		Msg("history complete")
	return res, nil
}

// FetchAll downloads history for every symbol using a bounded worker pool.
// One symbol's failure never stops the others; each symbol's outcome is
// recorded in the returned results, sorted by symbol.
func (f *HistoricalFetcher) FetchAll(ctx context.Context, symbols []string) []Result {
	jobs := make(chan string)
	results := make([]Result, 0, len(symbols))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < f.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				res, err := f.FetchSymbol(ctx, symbol)
				if err != nil {
					res.Err = err
					f.log.Error().Str("symbol", symbol).Err(err).Msg("symbol fetch failed")
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}

	for _, symbol := range symbols {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })
	return results
}

// PrintSummary writes a per-symbol status table to stdout.
func PrintSummary(results []Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tSTATUS\tROWS\tBATCHES")
	for _, r := range results {
		status := "SUCCESS"
		if r.Err != nil {
			status = "FAILED"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", r.Symbol, status, r.Rows, r.Batches)
	}
	w.Flush()
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
