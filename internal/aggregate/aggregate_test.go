package aggregate

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"midas-engine/internal/market"
)

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// tenMinutes builds ten 1m candles at open_time 0..540000 with open 1..10,
// high 1.5..10.5, low 0.5..9.5, close 1.1..10.1, volume 1.0 each.
func tenMinutes() []market.Candle {
	candles := make([]market.Candle, 10)
	for i := 0; i < 10; i++ {
		base := float64(i + 1)
		candles[i] = market.Candle{
			OpenTime:         int64(i) * 60000,
			Open:             dec(base),
			High:             dec(base + 0.5),
			Low:              dec(base - 0.5),
			Close:            dec(base + 0.1),
			Volume:           dec(1.0),
			CloseTime:        int64(i)*60000 + 59999,
			QuoteAssetVolume: dec(base * 10),
			NumberOfTrades:   int64(i + 1),
			TakerBuyBase:     dec(0.5),
			TakerBuyQuote:    dec(5),
			IgnoreField:      dec(0),
		}
	}
	return candles
}

func TestToInterval_TenMinutesToFive(t *testing.T) {
	out := ToInterval(tenMinutes(), market.Interval5m)

	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}

	tests := []struct {
		openTime int64
		open     float64
		high     float64
		low      float64
		close_   float64
		volume   float64
	}{
		{0, 1, 5.5, 0.5, 5.1, 5},
		{300000, 6, 10.5, 5.5, 10.1, 5},
	}
	for i, want := range tests {
		got := out[i]
		if got.OpenTime != want.openTime {
			t.Errorf("bucket %d: open_time %d, want %d", i, got.OpenTime, want.openTime)
		}
		for _, f := range []struct {
			name string
			got  decimal.Decimal
			want float64
		}{
			{"open", got.Open, want.open},
			{"high", got.High, want.high},
			{"low", got.Low, want.low},
			{"close", got.Close, want.close_},
			{"volume", got.Volume, want.volume},
		} {
			if !f.got.Equal(dec(f.want)) {
				t.Errorf("bucket %d: %s = %s, want %v", i, f.name, f.got, f.want)
			}
		}
	}

	if out[0].NumberOfTrades != 1+2+3+4+5 {
		t.Errorf("bucket 0: number_of_trades = %d, want 15", out[0].NumberOfTrades)
	}
	if out[0].CloseTime != 4*60000+59999 {
		t.Errorf("bucket 0: close_time = %d", out[0].CloseTime)
	}
}

func TestToInterval_IdentityFor1m(t *testing.T) {
	in := tenMinutes()
	out := ToInterval(in, market.Interval1m)
	if len(out) != len(in) {
		t.Fatalf("expected identity, got %d candles", len(out))
	}
	for i := range in {
		if out[i].OpenTime != in[i].OpenTime || !out[i].Close.Equal(in[i].Close) {
			t.Errorf("candle %d changed under 1m aggregation", i)
		}
	}
}

func TestToInterval_Idempotent(t *testing.T) {
	once := ToInterval(tenMinutes(), market.Interval5m)
	twice := ToInterval(once, market.Interval5m)

	if len(twice) != len(once) {
		t.Fatalf("idempotence broken: %d vs %d buckets", len(twice), len(once))
	}
	for i := range once {
		a, b := once[i], twice[i]
		if a.OpenTime != b.OpenTime || !a.Open.Equal(b.Open) || !a.High.Equal(b.High) ||
			!a.Low.Equal(b.Low) || !a.Close.Equal(b.Close) || !a.Volume.Equal(b.Volume) {
			t.Errorf("bucket %d changed on re-aggregation:\n%+v\n%+v", i, a, b)
		}
	}
}

func TestToInterval_VolumeTotality(t *testing.T) {
	in := tenMinutes()
	for _, interval := range market.SupportedIntervals {
		out := ToInterval(in, interval)

		var inTotal, outTotal decimal.Decimal
		for _, c := range in {
			inTotal = inTotal.Add(c.Volume)
		}
		for _, c := range out {
			outTotal = outTotal.Add(c.Volume)
		}
		if !inTotal.Equal(outTotal) {
			t.Errorf("%s: volume not conserved: %s vs %s", interval, outTotal, inTotal)
		}
	}
}

func TestToInterval_GapsDoNotSynthesize(t *testing.T) {
	in := tenMinutes()
	// Drop minutes 2..4 so the first 5m bucket only has minutes 0, 1.
	gapped := append(append([]market.Candle{}, in[0], in[1]), in[5:]...)

	out := ToInterval(gapped, market.Interval5m)
	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}
	if !out[0].Volume.Equal(dec(2)) {
		t.Errorf("partial bucket volume = %s, want 2", out[0].Volume)
	}
	if !out[0].Close.Equal(dec(2.1)) {
		t.Errorf("partial bucket close = %s, want 2.1", out[0].Close)
	}
}

func TestToInterval_BucketAlignment(t *testing.T) {
	// Input starting mid-bucket still groups by epoch-aligned boundaries.
	in := tenMinutes()[3:] // open times 180000..540000
	out := ToInterval(in, market.Interval5m)
	if len(out) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(out))
	}
	if out[0].OpenTime != 180000 {
		t.Errorf("first bucket open_time = %d, want 180000 (first present minute)", out[0].OpenTime)
	}
	if out[1].OpenTime != 300000 {
		t.Errorf("second bucket open_time = %d, want 300000", out[1].OpenTime)
	}
}

func TestAllIntervals(t *testing.T) {
	out := AllIntervals(tenMinutes())
	if len(out) != len(market.SupportedIntervals) {
		t.Fatalf("expected %d interval results, got %d", len(market.SupportedIntervals), len(out))
	}
	if len(out[market.Interval1m]) != 10 {
		t.Errorf("1m should be identity, got %d", len(out[market.Interval1m]))
	}
	if len(out[market.Interval1h]) != 1 {
		t.Errorf("1h should be a single bucket, got %d", len(out[market.Interval1h]))
	}
}

func TestToInterval_Empty(t *testing.T) {
	for _, interval := range []market.Interval{market.Interval1m, market.Interval5m} {
		if out := ToInterval(nil, interval); len(out) != 0 {
			t.Errorf("%s: expected empty output, got %d", interval, len(out))
		}
	}
}

func ExampleToInterval() {
	out := ToInterval(tenMinutes(), market.Interval5m)
	for _, c := range out {
		fmt.Printf("%d open=%s close=%s volume=%s\n", c.OpenTime, c.Open, c.Close, c.Volume)
	}
	// Output:
	// 0 open=1 close=5.1 volume=5
	// 300000 open=6 close=10.1 volume=5
}
