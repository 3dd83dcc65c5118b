package sink

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"midas-engine/internal/market"
)

func minuteCandle(openTime int64, close float64) market.Candle {
	d := decimal.NewFromFloat(close)
	return market.Candle{
		OpenTime:         openTime,
		Open:             d,
		High:             d.Add(decimal.NewFromInt(1)),
		Low:              d.Sub(decimal.NewFromInt(1)),
		Close:            d,
		Volume:           decimal.NewFromInt(1),
		CloseTime:        openTime + 59999,
		QuoteAssetVolume: d,
		NumberOfTrades:   1,
		TakerBuyBase:     d,
		TakerBuyQuote:    d,
		IgnoreField:      decimal.Zero,
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestCSVSink_WritesHeaderAndReversedBatches(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	ctx := context.Background()
	if err := s.Begin(ctx, "BTCUSDT", market.Interval1m); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	// Newest batch first, each ascending, as the backward fetcher produces.
	newest := []market.Candle{minuteCandle(180000, 4), minuteCandle(240000, 5)}
	older := []market.Candle{minuteCandle(0, 1), minuteCandle(60000, 2), minuteCandle(120000, 3)}
	if err := s.WriteBatch(ctx, "BTCUSDT", market.Interval1m, newest); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := s.WriteBatch(ctx, "BTCUSDT", market.Interval1m, older); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := s.Close("BTCUSDT", market.Interval1m); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readCSV(t, filepath.Join(dir, "btcusdt_1m.csv"))
	if len(records) != 6 {
		t.Fatalf("expected header + 5 rows, got %d", len(records))
	}
	for i, name := range market.CSVHeader {
		if records[0][i] != name {
			t.Errorf("header column %d = %q, want %q", i, records[0][i], name)
		}
	}

	// Each batch is reversed internally: 240000, 180000 then 120000, 60000, 0.
	wantOrder := []int64{240000, 180000, 120000, 60000, 0}
	for i, want := range wantOrder {
		got, err := strconv.ParseInt(records[i+1][0], 10, 64)
		if err != nil {
			t.Fatalf("row %d open_time: %v", i+1, err)
		}
		if got != want {
			t.Errorf("row %d open_time = %d, want %d", i+1, got, want)
		}
	}
}

func TestCSVSink_BeginTruncates(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	ctx := context.Background()
	for run := 0; run < 2; run++ {
		if err := s.Begin(ctx, "ETHUSDT", market.Interval1m); err != nil {
			t.Fatalf("Begin run %d: %v", run, err)
		}
		if err := s.WriteBatch(ctx, "ETHUSDT", market.Interval1m, []market.Candle{minuteCandle(0, 1)}); err != nil {
			t.Fatalf("WriteBatch run %d: %v", run, err)
		}
	}
	if err := s.Close("ETHUSDT", market.Interval1m); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readCSV(t, filepath.Join(dir, "ethusdt_1m.csv"))
	if len(records) != 2 {
		t.Fatalf("expected truncation on second Begin, got %d rows", len(records))
	}
}

func TestCSVSink_WriteWithoutBegin(t *testing.T) {
	s, err := NewCSVSink(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}
	err = s.WriteBatch(context.Background(), "BTCUSDT", market.Interval1m, []market.Candle{minuteCandle(0, 1)})
	if err == nil {
		t.Error("expected error for write before Begin")
	}
}

func TestCSVSink_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	ctx := context.Background()
	in := minuteCandle(60000, 123.45678901)
	if err := s.Begin(ctx, "BTCUSDT", market.Interval1m); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := s.WriteBatch(ctx, "BTCUSDT", market.Interval1m, []market.Candle{in}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := s.Close("BTCUSDT", market.Interval1m); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records := readCSV(t, filepath.Join(dir, "btcusdt_1m.csv"))
	parsed, err := market.CandleFromCSVRecord(records[1])
	if err != nil {
		t.Fatalf("CandleFromCSVRecord: %v", err)
	}
	if !parsed.Close.Equal(in.Close) || parsed.OpenTime != in.OpenTime {
		t.Errorf("round trip changed candle: %+v vs %+v", parsed, in)
	}
}
