package indicators

import (
	"math"

	"cryptoDataPipe/internal/domain"
)

// Closes extracts close prices, skipping nil bars and NaN closes.
func Closes(klines []*domain.Kline) []float64 {
	out := make([]float64, 0, len(klines))
	for _, k := range klines {
		if k == nil || math.IsNaN(k.Close) {
			continue
		}
		out = append(out, k.Close)
	}
	return out
}

// validBars drops nil bars and bars with NaN prices.
func validBars(klines []*domain.Kline) []*domain.Kline {
	out := make([]*domain.Kline, 0, len(klines))
	for _, k := range klines {
		if k == nil || math.IsNaN(k.High) || math.IsNaN(k.Low) || math.IsNaN(k.Close) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func dropNaN(values []float64) []float64 {
	for _, v := range values {
		if math.IsNaN(v) {
			out := make([]float64, 0, len(values))
			for _, x := range values {
				if !math.IsNaN(x) {
					out = append(out, x)
				}
			}
			return out
		}
	}
	return values
}

// EMA seeds with the mean of the first period values, then applies
// ema = (x - ema) * 2/(period+1) + ema to the rest.
func EMA(values []float64, period int) Value {
	values = dropNaN(values)
	if period <= 0 || len(values) < period {
		return Unavailable
	}
	return Available(emaRaw(values, period))
}

func emaRaw(values []float64, period int) float64 {
	multiplier := 2.0 / float64(period+1)
	ema := 0.0
	for _, v := range values[:period] {
		ema += v
	}
	ema /= float64(period)
	for _, v := range values[period:] {
		ema = (v-ema)*multiplier + ema
	}
	return ema
}

// MACD periods.
const (
	MACDFast = 12
	MACDSlow = 26
)

// MACD is EMA(12) - EMA(26) of the values.
func MACD(values []float64) Value {
	values = dropNaN(values)
	if len(values) < MACDSlow {
		return Unavailable
	}
	return Available(emaRaw(values, MACDFast) - emaRaw(values, MACDSlow))
}

// RSI uses Wilder's smoothing. It needs period+1 values. The result is
// clamped to [0,100]; flat input yields 50 and input without losses 100.
func RSI(values []float64, period int) Value {
	values = dropNaN(values)
	if period <= 0 || len(values) <= period {
		return Unavailable
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		if avgGain == 0 {
			return Available(50)
		}
		return Available(100)
	}
	rsi := 100 - 100/(1+avgGain/avgLoss)
	return Available(math.Max(0, math.Min(100, rsi)))
}

// ATR is Wilder's average true range. True range starts at the second bar
// (it needs the previous close), so period+1 bars are required.
func ATR(klines []*domain.Kline, period int) Value {
	bars := validBars(klines)
	if period <= 0 || len(bars) < period+1 {
		return Unavailable
	}

	trueRange := func(i int) float64 {
		high, low, prevClose := bars[i].High, bars[i].Low, bars[i-1].Close
		return math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += trueRange(i)
	}
	atr /= float64(period)

	p := float64(period)
	for i := period + 1; i < len(bars); i++ {
		atr = (atr*(p-1) + trueRange(i)) / p
	}
	return Available(atr)
}

// DefaultSeriesLength is the number of trailing points in indicator series.
const DefaultSeriesLength = 10

// TrailingSeries evaluates calc over the prefixes ending at each of the last
// n positions of values, oldest first. Unavailable points are omitted, so the
// result may be shorter than n.
func TrailingSeries(values []float64, n int, calc func([]float64) Value) []float64 {
	values = dropNaN(values)
	if n <= 0 {
		n = DefaultSeriesLength
	}
	start := len(values) - n
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, n)
	for end := start + 1; end <= len(values); end++ {
		if v := calc(values[:end]); v.OK {
			out = append(out, v.V)
		}
	}
	return out
}

// TrailingBarSeries is TrailingSeries over bars, for indicators that need OHLC.
func TrailingBarSeries(klines []*domain.Kline, n int, calc func([]*domain.Kline) Value) []float64 {
	bars := validBars(klines)
	if n <= 0 {
		n = DefaultSeriesLength
	}
	start := len(bars) - n
	if start < 0 {
		start = 0
	}
	out := make([]float64, 0, n)
	for end := start + 1; end <= len(bars); end++ {
		if v := calc(bars[:end]); v.OK {
			out = append(out, v.V)
		}
	}
	return out
}

// MidPrices returns (high+low)/2 of the last n bars.
func MidPrices(klines []*domain.Kline, n int) []float64 {
	bars := validBars(klines)
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	out := make([]float64, 0, len(bars))
	for _, k := range bars {
		out = append(out, (k.High+k.Low)/2)
	}
	return out
}
