// Package binance fetches kline (candlestick) batches from the Binance
// Futures REST API.
package binance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"midas-engine/internal/market"
)

// klineColumns is the number of positional elements in one kline row.
const klineColumns = 12

// Config holds fetch client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	APILimit   int
	MaxRetries int
	RetryDelay time.Duration
}

// Client performs paginated kline requests with bounded retries.
type Client struct {
	baseURL    string
	httpClient *http.Client
	apiLimit   int
	maxRetries int
	retryDelay time.Duration
	log        zerolog.Logger
}

// NewClient creates a kline fetch client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiLimit:   cfg.APILimit,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		log:        log.With().Str("component", "binance").Logger(),
	}
}

// APILimit returns the configured maximum candles per request.
func (c *Client) APILimit() int {
	return c.apiLimit
}

// FetchBatch fetches up to APILimit candles ending at endTime (epoch ms),
// sorted ascending by open time as returned by the venue. Transport and parse
// failures are retried up to MaxRetries with RetryDelay between attempts;
// after the final failure an empty batch is returned so callers treat it as a
// pagination boundary. Malformed rows are skipped with a warning.
func (c *Client) FetchBatch(ctx context.Context, symbol string, interval market.Interval, endTime int64) []market.Candle {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(interval))
	params.Set("limit", strconv.Itoa(c.apiLimit))
	params.Set("endTime", strconv.FormatInt(endTime, 10))

	endpoint := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		rows, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return c.parseRows(symbol, interval, rows)
		}

		c.log.Warn().
			Str("symbol", symbol).
			Str("interval", string(interval)).
			Int("attempt", attempt).
			Int("max_retries", c.maxRetries).
			Err(err).
			Msg("kline request failed")

		if attempt < c.maxRetries {
			if !sleepCtx(ctx, c.retryDelay) {
				break
			}
		}
	}

	c.log.Error().
		Str("symbol", symbol).
		Str("interval", string(interval)).
		Int64("end_time", endTime).
		Msg("kline request exhausted retries")
	return nil
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string) ([][]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var rows [][]any
	if err := unmarshalNumbers(body, &rows); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}
	return rows, nil
}

func (c *Client) parseRows(symbol string, interval market.Interval, rows [][]any) []market.Candle {
	candles := make([]market.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := parseKlineRow(row)
		if err != nil {
			c.log.Warn().
				Str("symbol", symbol).
				Str("interval", string(interval)).
				Int("row", i).
				Err(err).
				Msg("skipping malformed kline row")
			continue
		}
		candles = append(candles, candle)
	}
	return candles
}

// unmarshalNumbers decodes JSON keeping numbers as json.Number so integer
// timestamps survive without float rounding.
func unmarshalNumbers(body []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(v)
}

// parseKlineRow converts one positional kline array into a candle. The wire
// shape is [open_time, open, high, low, close, volume, close_time,
// quote_asset_volume, number_of_trades, taker_buy_base, taker_buy_quote,
// ignore] with string-encoded decimals.
func parseKlineRow(row []any) (market.Candle, error) {
	if len(row) != klineColumns {
		return market.Candle{}, fmt.Errorf("expected %d elements, got %d", klineColumns, len(row))
	}

	var (
		c   market.Candle
		err error
	)
	if c.OpenTime, err = parseInt(row[0]); err != nil {
		return market.Candle{}, fmt.Errorf("open_time: %w", err)
	}
	if c.Open, err = parseDecimal(row[1]); err != nil {
		return market.Candle{}, fmt.Errorf("open: %w", err)
	}
	if c.High, err = parseDecimal(row[2]); err != nil {
		return market.Candle{}, fmt.Errorf("high: %w", err)
	}
	if c.Low, err = parseDecimal(row[3]); err != nil {
		return market.Candle{}, fmt.Errorf("low: %w", err)
	}
	if c.Close, err = parseDecimal(row[4]); err != nil {
		return market.Candle{}, fmt.Errorf("close: %w", err)
	}
	if c.Volume, err = parseDecimal(row[5]); err != nil {
		return market.Candle{}, fmt.Errorf("volume: %w", err)
	}
	if c.CloseTime, err = parseInt(row[6]); err != nil {
		return market.Candle{}, fmt.Errorf("close_time: %w", err)
	}
	if c.QuoteAssetVolume, err = parseDecimal(row[7]); err != nil {
		return market.Candle{}, fmt.Errorf("quote_asset_volume: %w", err)
	}
	if c.NumberOfTrades, err = parseInt(row[8]); err != nil {
		return market.Candle{}, fmt.Errorf("number_of_trades: %w", err)
	}
	if c.TakerBuyBase, err = parseDecimal(row[9]); err != nil {
		return market.Candle{}, fmt.Errorf("taker_buy_base: %w", err)
	}
	if c.TakerBuyQuote, err = parseDecimal(row[10]); err != nil {
		return market.Candle{}, fmt.Errorf("taker_buy_quote: %w", err)
	}
	if c.IgnoreField, err = parseDecimal(row[11]); err != nil {
		return market.Candle{}, fmt.Errorf("ignore: %w", err)
	}
	return c, nil
}

func parseInt(val any) (int64, error) {
	switch v := val.(type) {
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", val)
	}
}

func parseDecimal(val any) (decimal.Decimal, error) {
	switch v := val.(type) {
	case string:
		return decimal.NewFromString(v)
	case json.Number:
		return decimal.NewFromString(v.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected type %T", val)
	}
}

// sleepCtx sleeps for d unless the context is cancelled first. Returns false
// on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
