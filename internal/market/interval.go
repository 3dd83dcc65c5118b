package market

import (
	"fmt"
	"strings"
)

// Interval is one of the fifteen supported candle widths.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval3m  Interval = "3m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1D  Interval = "1D"
	Interval3D  Interval = "3D"
	Interval1W  Interval = "1W"
	Interval1M  Interval = "1M"
)

// SupportedIntervals lists every interval in ascending width order.
var SupportedIntervals = []Interval{
	Interval1m, Interval3m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval2h, Interval4h, Interval6h, Interval8h, Interval12h,
	Interval1D, Interval3D, Interval1W, Interval1M,
}

// intervalMinutes maps each interval to its width in minutes.
// 1M is a fixed 43200-minute bucket, not a calendar month.
var intervalMinutes = map[Interval]int64{
	Interval1m:  1,
	Interval3m:  3,
	Interval5m:  5,
	Interval15m: 15,
	Interval30m: 30,
	Interval1h:  60,
	Interval2h:  120,
	Interval4h:  240,
	Interval6h:  360,
	Interval8h:  480,
	Interval12h: 720,
	Interval1D:  1440,
	Interval3D:  4320,
	Interval1W:  10080,
	Interval1M:  43200,
}

// Minutes returns the interval width in minutes.
func (i Interval) Minutes() int64 {
	return intervalMinutes[i]
}

// WidthMs returns the interval width in milliseconds.
func (i Interval) WidthMs() int64 {
	return intervalMinutes[i] * 60 * 1000
}

// Valid reports whether i is a member of the supported set.
func (i Interval) Valid() bool {
	_, ok := intervalMinutes[i]
	return ok
}

// ParseInterval validates a string against the supported set.
func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if !i.Valid() {
		return "", fmt.Errorf("unsupported interval: %q", s)
	}
	return i, nil
}

// BucketStart returns the epoch-ms start of the bucket containing tMs for the
// given width in minutes. Integer arithmetic, aligned to the UNIX epoch, so
// every coarser bucket boundary coincides with a one-minute boundary.
func BucketStart(tMs, widthMinutes int64) int64 {
	widthSec := widthMinutes * 60
	return (tMs / 1000 / widthSec) * widthSec * 1000
}

// StorageSuffix returns the interval token used in table and file names.
// PostgreSQL folds unquoted identifiers to lowercase and common filesystems
// fold file names, so the monthly interval needs a token that stays distinct
// from 1m after folding.
func (i Interval) StorageSuffix() string {
	if i == Interval1M {
		return "1mo"
	}
	return strings.ToLower(string(i))
}

// TableName returns the per-(symbol, interval) table name, e.g. "btcusdt_1m".
func TableName(symbol string, interval Interval) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(symbol), interval.StorageSuffix())
}

// CSVFileName returns the per-(symbol, interval) CSV file name.
func CSVFileName(symbol string, interval Interval) string {
	return fmt.Sprintf("%s_%s.csv", strings.ToLower(symbol), interval.StorageSuffix())
}
