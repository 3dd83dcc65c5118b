package database

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"midas-engine/internal/aggregate"
	"midas-engine/internal/market"
)

// IngestResult summarizes one CSV file's ingestion.
type IngestResult struct {
	Symbol   string
	Rows     int
	Inserted int64
	Err      error
}

// IngestCSVDir bootstraps the store from a directory of historical 1m CSV
// files named {symbol}_1m.csv. For each file it creates the symbol's tables,
// inserts the 1m rows, and inserts the aggregation of the full history into
// every coarser interval. One file's failure never stops the others.
func (r *Repository) IngestCSVDir(ctx context.Context, dir string, log zerolog.Logger) ([]IngestResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*_1m.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no *_1m.csv files in %s", dir)
	}
	sort.Strings(paths)

	log = log.With().Str("component", "ingest").Logger()
	results := make([]IngestResult, 0, len(paths))
	for _, path := range paths {
		symbol := strings.ToUpper(strings.TrimSuffix(filepath.Base(path), "_1m.csv"))
		res := IngestResult{Symbol: symbol}

		res.Rows, res.Inserted, res.Err = r.ingestFile(ctx, symbol, path)
		if res.Err != nil {
			log.Error().Str("file", path).Err(res.Err).Msg("file ingestion failed")
		} else {
			log.Info().
				Str("symbol", symbol).
				Int("rows", res.Rows).
				Int64("inserted", res.Inserted).
				Msg("file ingested")
		}
		results = append(results, res)

		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

// ingestFile reads one 1m CSV, sorts it ascending, and persists it across
// all intervals.
func (r *Repository) ingestFile(ctx context.Context, symbol, path string) (int, int64, error) {
	candles, err := readCandleCSV(path)
	if err != nil {
		return 0, 0, err
	}
	if len(candles) == 0 {
		return 0, 0, fmt.Errorf("%s contains no candle rows", path)
	}

	// Fetcher output is chronologically descending; aggregation needs
	// ascending input.
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })

	if err := r.CreateTables(ctx, symbol); err != nil {
		return len(candles), 0, err
	}

	var inserted int64
	for interval, rows := range aggregate.AllIntervals(candles) {
		if len(rows) == 0 {
			continue
		}
		n, err := r.InsertCandles(ctx, symbol, interval, rows)
		if err != nil {
			return len(candles), inserted, err
		}
		inserted += n
	}
	return len(candles), inserted, nil
}

// readCandleCSV parses a header-prefixed candle CSV, skipping malformed rows.
func readCandleCSV(path string) ([]market.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(records) < 1 {
		return nil, nil
	}

	candles := make([]market.Candle, 0, len(records)-1)
	for _, record := range records[1:] { // skip header
		candle, err := market.CandleFromCSVRecord(record)
		if err != nil {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
