package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"midas-engine/internal/market"
)

// Repository provides access to the per-(symbol, interval) candle tables.
type Repository struct {
	db        *DB
	batchSize int
}

// NewRepository creates a candle repository. batchSize bounds rows per
// insert batch.
func NewRepository(db *DB, batchSize int) *Repository {
	return &Repository{db: db, batchSize: batchSize}
}

const candleTableSchema = `
CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	open_time BIGINT NOT NULL,
	open DECIMAL(20, 8) NOT NULL,
	high DECIMAL(20, 8) NOT NULL,
	low DECIMAL(20, 8) NOT NULL,
	close DECIMAL(20, 8) NOT NULL,
	volume DECIMAL(20, 8) NOT NULL,
	close_time BIGINT NOT NULL,
	quote_asset_volume DECIMAL(20, 8) NOT NULL,
	number_of_trades INTEGER NOT NULL,
	taker_buy_base DECIMAL(20, 8) NOT NULL,
	taker_buy_quote DECIMAL(20, 8) NOT NULL,
	ignore_field DECIMAL(20, 8) NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(open_time)
)`

var candleIndexTemplates = []string{
	"CREATE INDEX IF NOT EXISTS idx_%[1]s_open_time ON %[1]s(open_time)",
	"CREATE INDEX IF NOT EXISTS idx_%[1]s_close_time ON %[1]s(close_time)",
	"CREATE INDEX IF NOT EXISTS idx_%[1]s_time_range ON %[1]s(open_time, close_time)",
}

// CreateTables creates one candle table per supported interval for the
// symbol, with open_time/close_time/(open_time, close_time) indexes.
func (r *Repository) CreateTables(ctx context.Context, symbol string) error {
	for _, interval := range market.SupportedIntervals {
		table := market.TableName(symbol, interval)
		if _, err := r.db.Pool.Exec(ctx, fmt.Sprintf(candleTableSchema, table)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table, err)
		}
		for _, tmpl := range candleIndexTemplates {
			if _, err := r.db.Pool.Exec(ctx, fmt.Sprintf(tmpl, table)); err != nil {
				return fmt.Errorf("failed to create index on %s: %w", table, err)
			}
		}
	}
	r.db.log.Info().Str("symbol", symbol).Int("tables", len(market.SupportedIntervals)).Msg("candle tables ready")
	return nil
}

const insertCandleSQL = `
INSERT INTO %s (
	open_time, open, high, low, close, volume,
	close_time, quote_asset_volume, number_of_trades,
	taker_buy_base, taker_buy_quote, ignore_field
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (open_time) DO NOTHING`

// InsertCandles inserts candles into the (symbol, interval) table in batches
// inside a single transaction, ignoring open_time conflicts. Returns the
// number of rows actually inserted. Any failure rolls the whole call back.
func (r *Repository) InsertCandles(ctx context.Context, symbol string, interval market.Interval, candles []market.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	table := market.TableName(symbol, interval)
	query := fmt.Sprintf(insertCandleSQL, table)

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var inserted int64
	for start := 0; start < len(candles); start += r.batchSize {
		end := start + r.batchSize
		if end > len(candles) {
			end = len(candles)
		}

		batch := &pgx.Batch{}
		for _, c := range candles[start:end] {
			batch.Queue(query,
				c.OpenTime, c.Open.String(), c.High.String(), c.Low.String(),
				c.Close.String(), c.Volume.String(), c.CloseTime,
				c.QuoteAssetVolume.String(), c.NumberOfTrades,
				c.TakerBuyBase.String(), c.TakerBuyQuote.String(), c.IgnoreField.String(),
			)
		}

		results := tx.SendBatch(ctx, batch)
		for i := start; i < end; i++ {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return 0, fmt.Errorf("failed to insert into %s: %w", table, err)
			}
			inserted += tag.RowsAffected()
		}
		if err := results.Close(); err != nil {
			return 0, fmt.Errorf("failed to flush batch for %s: %w", table, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit insert into %s: %w", table, err)
	}
	return inserted, nil
}

// LatestOpenTime returns the maximum open_time stored for (symbol, interval).
// The second return is false when the table is empty.
func (r *Repository) LatestOpenTime(ctx context.Context, symbol string, interval market.Interval) (int64, bool, error) {
	table := market.TableName(symbol, interval)
	query := fmt.Sprintf("SELECT MAX(open_time) FROM %s", table)

	var latest *int64
	if err := r.db.Pool.QueryRow(ctx, query).Scan(&latest); err != nil {
		return 0, false, fmt.Errorf("failed to read latest open_time from %s: %w", table, err)
	}
	if latest == nil {
		return 0, false, nil
	}
	return *latest, true, nil
}

const selectCandlesSQL = `
SELECT open_time, open::text, high::text, low::text, close::text, volume::text,
	close_time, quote_asset_volume::text, number_of_trades,
	taker_buy_base::text, taker_buy_quote::text, ignore_field::text
FROM %s
WHERE open_time >= $1 AND open_time <= $2
ORDER BY open_time ASC`

// LoadRange returns the candles with open_time in [startMs, endMs], ascending.
func (r *Repository) LoadRange(ctx context.Context, symbol string, interval market.Interval, startMs, endMs int64) ([]market.Candle, error) {
	table := market.TableName(symbol, interval)
	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(selectCandlesSQL, table), startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var candles []market.Candle
	for rows.Next() {
		var (
			c      market.Candle
			fields [9]string
		)
		if err := rows.Scan(
			&c.OpenTime, &fields[0], &fields[1], &fields[2], &fields[3], &fields[4],
			&c.CloseTime, &fields[5], &c.NumberOfTrades,
			&fields[6], &fields[7], &fields[8],
		); err != nil {
			return nil, fmt.Errorf("failed to scan candle from %s: %w", table, err)
		}

		record := []string{
			fmt.Sprintf("%d", c.OpenTime), fields[0], fields[1], fields[2], fields[3], fields[4],
			fmt.Sprintf("%d", c.CloseTime), fields[5], fmt.Sprintf("%d", c.NumberOfTrades),
			fields[6], fields[7], fields[8],
		}
		parsed, err := market.CandleFromCSVRecord(record)
		if err != nil {
			return nil, fmt.Errorf("failed to decode candle from %s: %w", table, err)
		}
		candles = append(candles, parsed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
	}
	return candles, nil
}

// CountCandles returns the row count of the (symbol, interval) table.
func (r *Repository) CountCandles(ctx context.Context, symbol string, interval market.Interval) (int64, error) {
	table := market.TableName(symbol, interval)
	var count int64
	if err := r.db.Pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return count, nil
}

// Symbols lists the symbols present in the store, derived from the *_1m
// table names.
func (r *Repository) Symbols(ctx context.Context) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name LIKE '%\_1m'
		ORDER BY table_name`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list candle tables: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		symbols = append(symbols, strings.ToUpper(strings.TrimSuffix(table, "_1m")))
	}
	return symbols, rows.Err()
}
