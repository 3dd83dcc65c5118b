// Package aggregate rolls one-minute candles up into coarser intervals.
package aggregate

import (
	"midas-engine/internal/market"
)

// ToInterval aggregates a chronologically ordered slice of 1m candles into
// the target interval. Consecutive candles whose bucket start matches belong
// to one output bucket; a bucket is emitted on boundary change and at the end
// of the input. Gaps in the input are not filled; a bucket reduces over
// whatever minutes are present. For the 1m target the input is returned as
// is. The function is pure: same input, same output.
func ToInterval(candles []market.Candle, target market.Interval) []market.Candle {
	if target == market.Interval1m {
		return candles
	}
	if len(candles) == 0 {
		return nil
	}

	widthMinutes := target.Minutes()
	out := make([]market.Candle, 0, len(candles)/int(widthMinutes)+1)

	groupStart := 0
	currentBucket := market.BucketStart(candles[0].OpenTime, widthMinutes)

	for i := 1; i < len(candles); i++ {
		bucket := market.BucketStart(candles[i].OpenTime, widthMinutes)
		if bucket != currentBucket {
			out = append(out, reduce(candles[groupStart:i]))
			groupStart = i
			currentBucket = bucket
		}
	}
	out = append(out, reduce(candles[groupStart:]))

	return out
}

// AllIntervals aggregates the 1m input once per supported interval and
// returns the results keyed by interval.
func AllIntervals(candles []market.Candle) map[market.Interval][]market.Candle {
	out := make(map[market.Interval][]market.Candle, len(market.SupportedIntervals))
	for _, interval := range market.SupportedIntervals {
		out[interval] = ToInterval(candles, interval)
	}
	return out
}

// reduce folds one bucket group (ascending by open time) into a single
// candle: first open, last close, max high, min low, summed volumes.
func reduce(group []market.Candle) market.Candle {
	first := group[0]
	last := group[len(group)-1]

	agg := market.Candle{
		OpenTime:         first.OpenTime,
		Open:             first.Open,
		High:             first.High,
		Low:              first.Low,
		Close:            last.Close,
		CloseTime:        last.CloseTime,
		Volume:           first.Volume,
		QuoteAssetVolume: first.QuoteAssetVolume,
		NumberOfTrades:   first.NumberOfTrades,
		TakerBuyBase:     first.TakerBuyBase,
		TakerBuyQuote:    first.TakerBuyQuote,
		IgnoreField:      first.IgnoreField,
	}

	for _, c := range group[1:] {
		if c.High.GreaterThan(agg.High) {
			agg.High = c.High
		}
		if c.Low.LessThan(agg.Low) {
			agg.Low = c.Low
		}
		agg.Volume = agg.Volume.Add(c.Volume)
		agg.QuoteAssetVolume = agg.QuoteAssetVolume.Add(c.QuoteAssetVolume)
		agg.NumberOfTrades += c.NumberOfTrades
		agg.TakerBuyBase = agg.TakerBuyBase.Add(c.TakerBuyBase)
		agg.TakerBuyQuote = agg.TakerBuyQuote.Add(c.TakerBuyQuote)
		agg.IgnoreField = agg.IgnoreField.Add(c.IgnoreField)
	}

	return agg
}
