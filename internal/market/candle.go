// Package market defines the candle data model shared by the fetch pipeline,
// the aggregation engine and the backtest core.
package market

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// CSVHeader holds the twelve kline field names in wire order.
var CSVHeader = []string{
	"open_time", "open", "high", "low", "close", "volume",
	"close_time", "quote_asset_volume", "number_of_trades",
	"taker_buy_base", "taker_buy_quote", "ignore",
}

// Candle is a single OHLCV record. Price and volume fields keep the venue's
// full decimal precision.
type Candle struct {
	OpenTime         int64
	Open             decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Close            decimal.Decimal
	Volume           decimal.Decimal
	CloseTime        int64
	QuoteAssetVolume decimal.Decimal
	NumberOfTrades   int64
	TakerBuyBase     decimal.Decimal
	TakerBuyQuote    decimal.Decimal
	IgnoreField      decimal.Decimal
}

// Validate checks the structural candle invariants: low <= min(open, close),
// max(open, close) <= high, volume >= 0 and open_time < close_time.
func (c Candle) Validate() error {
	lo := decimal.Min(c.Open, c.Close)
	hi := decimal.Max(c.Open, c.Close)
	if c.Low.GreaterThan(lo) {
		return fmt.Errorf("candle %d: low %s above min(open, close) %s", c.OpenTime, c.Low, lo)
	}
	if c.High.LessThan(hi) {
		return fmt.Errorf("candle %d: high %s below max(open, close) %s", c.OpenTime, c.High, hi)
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle %d: negative volume %s", c.OpenTime, c.Volume)
	}
	if c.OpenTime >= c.CloseTime {
		return fmt.Errorf("candle %d: open_time not before close_time %d", c.OpenTime, c.CloseTime)
	}
	return nil
}

// Aligned reports whether the candle's open_time sits on a bucket boundary of
// the given interval.
func (c Candle) Aligned(interval Interval) bool {
	return BucketStart(c.OpenTime, interval.Minutes()) == c.OpenTime
}

// CSVRecord renders the candle as a twelve-column CSV row in wire order.
func (c Candle) CSVRecord() []string {
	return []string{
		strconv.FormatInt(c.OpenTime, 10),
		c.Open.String(),
		c.High.String(),
		c.Low.String(),
		c.Close.String(),
		c.Volume.String(),
		strconv.FormatInt(c.CloseTime, 10),
		c.QuoteAssetVolume.String(),
		strconv.FormatInt(c.NumberOfTrades, 10),
		c.TakerBuyBase.String(),
		c.TakerBuyQuote.String(),
		c.IgnoreField.String(),
	}
}

// CandleFromCSVRecord parses a twelve-column CSV row back into a candle.
func CandleFromCSVRecord(record []string) (Candle, error) {
	if len(record) != len(CSVHeader) {
		return Candle{}, fmt.Errorf("expected %d columns, got %d", len(CSVHeader), len(record))
	}

	var (
		c   Candle
		err error
	)
	if c.OpenTime, err = strconv.ParseInt(record[0], 10, 64); err != nil {
		return Candle{}, fmt.Errorf("invalid open_time %q: %w", record[0], err)
	}
	if c.CloseTime, err = strconv.ParseInt(record[6], 10, 64); err != nil {
		return Candle{}, fmt.Errorf("invalid close_time %q: %w", record[6], err)
	}
	if c.NumberOfTrades, err = strconv.ParseInt(record[8], 10, 64); err != nil {
		return Candle{}, fmt.Errorf("invalid number_of_trades %q: %w", record[8], err)
	}

	fields := []struct {
		dst  *decimal.Decimal
		name string
		raw  string
	}{
		{&c.Open, "open", record[1]},
		{&c.High, "high", record[2]},
		{&c.Low, "low", record[3]},
		{&c.Close, "close", record[4]},
		{&c.Volume, "volume", record[5]},
		{&c.QuoteAssetVolume, "quote_asset_volume", record[7]},
		{&c.TakerBuyBase, "taker_buy_base", record[9]},
		{&c.TakerBuyQuote, "taker_buy_quote", record[10]},
		{&c.IgnoreField, "ignore", record[11]},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return Candle{}, fmt.Errorf("invalid %s %q: %w", f.name, f.raw, err)
		}
	}

	return c, nil
}
