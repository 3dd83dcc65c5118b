// Command midas-engine manages historical candle data and runs backtests.
//
// Subcommands:
//
//	fetch     download full 1m history for the configured symbols
//	update    top up stored candles to the present
//	init-db   create candle tables for the configured symbols
//	ingest    load historical CSV files into the database
//	backtest  run a strategy over stored candles
//	serve     expose the candle store and backtests over HTTP
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"midas-engine/config"
	"midas-engine/internal/api"
	"midas-engine/internal/binance"
	"midas-engine/internal/cache"
	"midas-engine/internal/database"
	"midas-engine/internal/engine"
	"midas-engine/internal/fetcher"
	"midas-engine/internal/market"
	"midas-engine/internal/sink"
	"midas-engine/internal/updater"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LoggingConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "fetch":
		err = runFetch(ctx, cfg, log, os.Args[2:])
	case "update":
		err = runUpdate(ctx, cfg, log, os.Args[2:])
	case "init-db":
		err = runInitDB(ctx, cfg, log)
	case "ingest":
		err = runIngest(ctx, cfg, log)
	case "backtest":
		err = runBacktest(ctx, cfg, log, os.Args[2:])
	case "serve":
		err = runServe(ctx, cfg, log)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: midas-engine <fetch|update|init-db|ingest|backtest|serve> [flags]")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func newClient(cfg *config.Config, retryDelay time.Duration, log zerolog.Logger) *binance.Client {
	return binance.NewClient(binance.Config{
		BaseURL:    cfg.BinanceConfig.BaseURL,
		Timeout:    cfg.BinanceConfig.RequestTimeout,
		APILimit:   cfg.BinanceConfig.APILimit,
		MaxRetries: cfg.FetcherConfig.MaxRetries,
		RetryDelay: retryDelay,
	}, log)
}

func openDatabase(cfg *config.Config, log zerolog.Logger) (*database.DB, *database.Repository, error) {
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Name,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return db, database.NewRepository(db, cfg.DatabaseConfig.BatchSize), nil
}

func runFetch(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	sinkKind := fs.String("sink", "csv", "where to persist candles: csv or db")
	symbolsFlag := fs.String("symbols", "", "comma-separated symbols, default from config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	symbols := cfg.FetcherConfig.DefaultCoins
	if *symbolsFlag != "" {
		symbols = splitSymbols(*symbolsFlag)
	}

	var target sink.Sink
	switch *sinkKind {
	case "csv":
		s, err := sink.NewCSVSink(cfg.CSVConfig.DataDir, log)
		if err != nil {
			return err
		}
		target = s
	case "db":
		db, repo, err := openDatabase(cfg, log)
		if err != nil {
			return err
		}
		defer db.Close()
		target = sink.NewTableSink(repo, log)
	default:
		return fmt.Errorf("unknown sink %q, want csv or db", *sinkKind)
	}

	client := newClient(cfg, cfg.FetcherConfig.RetryDelay, log)
	f := fetcher.New(client, target, cfg.FetcherConfig.Workers, cfg.FetcherConfig.SleepInterval(), log)

	results := f.FetchAll(ctx, symbols)
	fetcher.PrintSummary(results)

	for _, r := range results {
		if r.Err != nil {
			return fmt.Errorf("%d of %d symbols failed", countFailed(results), len(results))
		}
	}
	return ctx.Err()
}

func runUpdate(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	loop := fs.Duration("loop", 0, "rerun continuously with this pause between passes, 0 runs once")
	if err := fs.Parse(args); err != nil {
		return err
	}

	db, repo, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	var cursors updater.CursorStore
	if cfg.RedisConfig.Enabled {
		cursorCache, err := cache.NewCursorCache(cfg.RedisConfig, log)
		if err != nil {
			log.Warn().Err(err).Msg("cursor cache unavailable, continuing without it")
		} else {
			defer cursorCache.Close()
			cursors = cursorCache
		}
	}

	client := newClient(cfg, cfg.FetcherConfig.UpdateRetryDelay, log)
	u := updater.New(client, repo, cursors, cfg.BinanceConfig.APILimit, cfg.FetcherConfig.SleepInterval(), log)

	for {
		results, err := u.UpdateAll(ctx)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err != nil {
				log.Warn().Str("symbol", r.Symbol).Err(r.Err).Msg("symbol left stale this pass")
			}
		}

		if *loop <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(*loop):
		}
	}
}

func runInitDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, repo, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, symbol := range cfg.FetcherConfig.DefaultCoins {
		if err := repo.CreateTables(ctx, symbol); err != nil {
			return fmt.Errorf("failed to create tables for %s: %w", symbol, err)
		}
		log.Info().Str("symbol", symbol).Msg("tables ready")
	}
	return nil
}

func runIngest(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, repo, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	results, err := repo.IngestCSVDir(ctx, cfg.CSVConfig.DataDir, log)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed to ingest", failed, len(results))
	}
	return nil
}

func runBacktest(ctx context.Context, cfg *config.Config, log zerolog.Logger, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	symbol := fs.String("symbol", "BTCUSDT", "symbol to test")
	intervalFlag := fs.String("interval", "1h", "candle interval")
	start := fs.Int64("start", 0, "range start, epoch ms")
	end := fs.Int64("end", time.Now().UnixMilli(), "range end, epoch ms")
	balance := fs.String("balance", "10000", "initial quote balance")
	fast := fs.Int("fast", 9, "fast moving average window")
	slow := fs.Int("slow", 21, "slow moving average window")
	quantity := fs.String("quantity", "0.001", "order quantity")
	progress := fs.Int("progress", 10000, "candles between progress logs, 0 disables")
	if err := fs.Parse(args); err != nil {
		return err
	}

	interval, err := market.ParseInterval(*intervalFlag)
	if err != nil {
		return err
	}
	initial, err := decimal.NewFromString(*balance)
	if err != nil {
		return fmt.Errorf("invalid balance %q: %w", *balance, err)
	}
	qty, err := decimal.NewFromString(*quantity)
	if err != nil {
		return fmt.Errorf("invalid quantity %q: %w", *quantity, err)
	}
	if *fast >= *slow {
		return fmt.Errorf("fast window (%d) must be smaller than slow window (%d)", *fast, *slow)
	}

	db, repo, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	candles, err := repo.LoadRange(ctx, *symbol, interval, *start, *end)
	if err != nil {
		return err
	}
	log.Info().Str("symbol", *symbol).Str("interval", string(interval)).Int("candles", len(candles)).Msg("candles loaded")

	strategy := engine.NewMACrossStrategy(*symbol, *fast, *slow, qty)
	run := engine.NewBacktest(engine.Config{
		Symbol:         *symbol,
		InitialBalance: initial,
		Fees:           engine.DefaultFeeConfig(),
		ProgressEvery:  *progress,
	}, strategy, candles, log)

	metrics, err := run.Run()
	if err != nil {
		return err
	}

	fmt.Println(metrics.Summary())
	return nil
}

func runServe(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, repo, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	var cursors updater.CursorStore
	if cfg.RedisConfig.Enabled {
		cursorCache, err := cache.NewCursorCache(cfg.RedisConfig, log)
		if err != nil {
			log.Warn().Err(err).Msg("cursor cache unavailable, continuing without it")
		} else {
			defer cursorCache.Close()
			cursors = cursorCache
		}
	}

	client := newClient(cfg, cfg.FetcherConfig.UpdateRetryDelay, log)
	u := updater.New(client, repo, cursors, cfg.BinanceConfig.APILimit, cfg.FetcherConfig.SleepInterval(), log)

	server := api.NewServer(cfg.ServerConfig, db, repo, u, log)
	return server.Run(ctx)
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

func countFailed(results []fetcher.Result) int {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	return failed
}
