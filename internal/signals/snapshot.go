// Package signals turns market snapshots into indicator snapshots for
// downstream consumers.
package signals

import (
	"fmt"
	"time"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/indicators"
	"cryptoDataPipe/internal/ports"
)

// Indicator periods.
const (
	EMAShortPeriod = 20
	EMALongPeriod  = 50
	RSIShortPeriod = 7
	RSILongPeriod  = 14
	ATRShortPeriod = 3
	ATRLongPeriod  = 14
)

// ComputeConfig controls series length and price-change lookbacks.
type ComputeConfig struct {
	SeriesLength    int // Trailing points per indicator series (default 10)
	ShortChangeBars int // Short-interval bars back for the short price change (default 20, one hour of 3m bars)
	LongChangeBars  int // Long-interval bars back for the long price change (default 2)
}

func (c ComputeConfig) withDefaults() ComputeConfig {
	if c.SeriesLength <= 0 {
		c.SeriesLength = indicators.DefaultSeriesLength
	}
	if c.ShortChangeBars <= 0 {
		c.ShortChangeBars = 20
	}
	if c.LongChangeBars <= 0 {
		c.LongChangeBars = 2
	}
	return c
}

// IntradaySeries holds the trailing short-interval series.
type IntradaySeries struct {
	MidPrices []float64 `json:"mid_prices"`
	EMA20     []float64 `json:"ema20"`
	MACD      []float64 `json:"macd"`
	RSI7      []float64 `json:"rsi7"`
	RSI14     []float64 `json:"rsi14"`
}

// LongTermContext holds long-interval scalars and series.
type LongTermContext struct {
	EMA20         indicators.Value `json:"ema20"`
	EMA50         indicators.Value `json:"ema50"`
	ATR3          indicators.Value `json:"atr3"`
	ATR14         indicators.Value `json:"atr14"`
	CurrentVolume float64          `json:"current_volume"`
	AverageVolume float64          `json:"average_volume"`
	MACD          []float64        `json:"macd"`
	RSI14         []float64        `json:"rsi14"`
}

// SignalSnapshot is the indicator view of one MarketSnapshot. Unavailable
// indicators encode as null.
type SignalSnapshot struct {
	Symbol        string            `json:"symbol"`
	Price         float64           `json:"price"`
	ShortInterval string            `json:"short_interval"`
	LongInterval  string            `json:"long_interval"`
	Provenance    domain.Provenance `json:"provenance"`
	IsPosition    bool              `json:"is_position"`
	IsCandidate   bool              `json:"is_candidate"`

	PriceChangeShort indicators.Value `json:"price_change_1h"`
	PriceChangeLong  indicators.Value `json:"price_change_4h"`

	EMA20Short indicators.Value `json:"ema20_short"`
	MACDShort  indicators.Value `json:"macd_short"`
	RSI7Short  indicators.Value `json:"rsi7_short"`
	RSI14Short indicators.Value `json:"rsi14_short"`

	EMA20Long indicators.Value `json:"ema20_long"`
	EMA50Long indicators.Value `json:"ema50_long"`
	MACDLong  indicators.Value `json:"macd_long"`
	RSI7Long  indicators.Value `json:"rsi7_long"`
	RSI14Long indicators.Value `json:"rsi14_long"`
	ATR14Long indicators.Value `json:"atr14_long"`

	Intraday IntradaySeries  `json:"intraday_series"`
	LongTerm LongTermContext `json:"longer_term_context"`

	// Filled by the Analyzer when a derivatives source is configured.
	OpenInterest      indicators.Value `json:"open_interest"`
	OpenInterestValue indicators.Value `json:"open_interest_usd"`
	FundingRate       indicators.Value `json:"funding_rate"`

	ComputedAt time.Time `json:"computed_at"`
}

var (
	ema20 = indicators.NewEMA(EMAShortPeriod)
	ema50 = indicators.NewEMA(EMALongPeriod)
	macd  = indicators.NewMACD()
	rsi7  = indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: RSIShortPeriod}})
	rsi14 = indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: RSILongPeriod}})
	atr3  = indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: ATRShortPeriod}})
	atr14 = indicators.NewATR(indicators.ATRConfig{IndicatorConfig: indicators.IndicatorConfig{Period: ATRLongPeriod}})
)

// Compute derives a SignalSnapshot from snap. It fails only when snap carries
// no usable data (error provenance or no bars at all); short histories yield
// unavailable indicators instead.
func Compute(snap domain.MarketSnapshot, cfg ComputeConfig) (SignalSnapshot, error) {
	cfg = cfg.withDefaults()
	if snap.Failed() {
		return SignalSnapshot{}, fmt.Errorf("%s: collection failed (%s): %w", snap.Symbol, snap.Err, ports.ErrInsufficientData)
	}
	short, long := snap.ShortKlines, snap.LongKlines

	price, ok := currentPrice(snap)
	if !ok {
		return SignalSnapshot{}, fmt.Errorf("%s: no bars in either series: %w", snap.Symbol, ports.ErrInsufficientData)
	}

	out := SignalSnapshot{
		Symbol:        snap.Symbol,
		Price:         price,
		ShortInterval: snap.ShortInterval,
		LongInterval:  snap.LongInterval,
		Provenance:    snap.Provenance,
		IsPosition:    snap.IsPosition,
		IsCandidate:   snap.IsCandidate,

		PriceChangeShort: priceChange(short, cfg.ShortChangeBars, price),
		PriceChangeLong:  priceChange(long, cfg.LongChangeBars, price),

		EMA20Short: ema20.Evaluate(short),
		MACDShort:  macd.Evaluate(short),
		RSI7Short:  rsi7.Evaluate(short),
		RSI14Short: rsi14.Evaluate(short),

		EMA20Long: ema20.Evaluate(long),
		EMA50Long: ema50.Evaluate(long),
		MACDLong:  macd.Evaluate(long),
		RSI7Long:  rsi7.Evaluate(long),
		RSI14Long: rsi14.Evaluate(long),
		ATR14Long: atr14.Evaluate(long),

		Intraday: IntradaySeries{
			MidPrices: indicators.MidPrices(short, cfg.SeriesLength),
			EMA20:     ema20.Series(short, cfg.SeriesLength),
			MACD:      macd.Series(short, cfg.SeriesLength),
			RSI7:      rsi7.Series(short, cfg.SeriesLength),
			RSI14:     rsi14.Series(short, cfg.SeriesLength),
		},
		LongTerm: LongTermContext{
			EMA20: ema20.Evaluate(long),
			EMA50: ema50.Evaluate(long),
			ATR3:  atr3.Evaluate(long),
			ATR14: atr14.Evaluate(long),
			MACD:  macd.Series(long, cfg.SeriesLength),
			RSI14: rsi14.Series(long, cfg.SeriesLength),
		},
		ComputedAt: time.Now(),
	}
	out.LongTerm.CurrentVolume, out.LongTerm.AverageVolume = volumes(long)
	return out, nil
}

// currentPrice prefers the snapshot price, then the newest short close, then
// the newest long close.
func currentPrice(snap domain.MarketSnapshot) (float64, bool) {
	if snap.HasPrice {
		return snap.Price, true
	}
	if n := len(snap.ShortKlines); n > 0 {
		return snap.ShortKlines[n-1].Close, true
	}
	if n := len(snap.LongKlines); n > 0 {
		return snap.LongKlines[n-1].Close, true
	}
	return 0, false
}

// priceChange is the percent change from the close `back` bars from the end
// to price.
func priceChange(klines []*domain.Kline, back int, price float64) indicators.Value {
	if len(klines) < back {
		return indicators.Unavailable
	}
	base := klines[len(klines)-back].Close
	if base <= 0 {
		return indicators.Unavailable
	}
	return indicators.Available((price - base) / base * 100)
}

func volumes(klines []*domain.Kline) (current, average float64) {
	if len(klines) == 0 {
		return 0, 0
	}
	var sum float64
	for _, k := range klines {
		sum += k.Volume
	}
	return klines[len(klines)-1].Volume, sum / float64(len(klines))
}
