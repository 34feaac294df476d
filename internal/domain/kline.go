package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Kline represents a single candlestick data point.
// Once built a Kline is treated as immutable; series hand out shared pointers.
type Kline struct {
	OpenTime    time.Time // Start time of the interval (millisecond precision)
	CloseTime   time.Time // End time of the interval
	Symbol      string    // Exchange symbol (e.g. "BTCUSDT")
	Interval    string    // Kline interval (e.g., "3m", "4h")
	Open        float64   // Opening price
	High        float64   // Highest price
	Low         float64   // Lowest price
	Close       float64   // Closing price
	Volume      float64   // Base asset volume
	QuoteVolume float64   // Quote asset volume
	Trades      int64     // Number of trades, 0 if the source does not report it
	IsFinal     bool      // Whether this kline is the final one for the interval
}

// FillDerived completes fields a source may omit: CloseTime becomes
// OpenTime + interval - 1ms and QuoteVolume becomes Volume * Close.
func (k *Kline) FillDerived() {
	if k.CloseTime.IsZero() && !k.OpenTime.IsZero() {
		if d, err := IntervalDuration(k.Interval); err == nil {
			k.CloseTime = k.OpenTime.Add(d - time.Millisecond)
		}
	}
	if k.QuoteVolume == 0 && k.Volume > 0 {
		k.QuoteVolume = k.Volume * k.Close
	}
}

// Validate rejects bars with negative prices or inconsistent ranges.
func (k *Kline) Validate() error {
	if k.OpenTime.IsZero() {
		return fmt.Errorf("kline has no open time")
	}
	if k.Open < 0 || k.High < 0 || k.Low < 0 || k.Close < 0 || k.Volume < 0 {
		return fmt.Errorf("kline %s@%s has negative values", k.Symbol, k.OpenTime.UTC().Format(time.RFC3339))
	}
	if k.High < k.Low {
		return fmt.Errorf("kline %s@%s has high %.8f below low %.8f", k.Symbol, k.OpenTime.UTC().Format(time.RFC3339), k.High, k.Low)
	}
	return nil
}

// IntervalDuration converts an exchange interval string ("1m", "3m", "4h",
// "1d", "1w") to its duration.
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval '%s'", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval '%s'", interval)
	}
	var unit time.Duration
	switch interval[len(interval)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid interval unit in '%s'", interval)
	}
	return time.Duration(n) * unit, nil
}
