package indicators

import (
	"fmt"

	"cryptoDataPipe/internal/domain"
)

// RSIConfig holds configuration for the RSI indicator
type RSIConfig struct {
	IndicatorConfig
	Overbought float64
	Oversold   float64
}

// RSIIndicator implements the Relative Strength Index indicator
type RSIIndicator struct {
	BaseIndicator
	config RSIConfig
}

// NewRSI creates a new RSI indicator instance. Zero thresholds default to 70/30.
func NewRSI(config RSIConfig) *RSIIndicator {
	if config.Overbought == 0 {
		config.Overbought = 70
	}
	if config.Oversold == 0 {
		config.Oversold = 30
	}
	return &RSIIndicator{
		BaseIndicator: BaseIndicator{Config: config.IndicatorConfig},
		config:        config,
	}
}

// Name returns the name of the indicator, e.g. "RSI14".
func (r *RSIIndicator) Name() string {
	return fmt.Sprintf("RSI%d", r.Config.Period)
}

// RequiredDataPoints is period+1: RSI works on price changes.
func (r *RSIIndicator) RequiredDataPoints() int {
	return r.Config.Period + 1
}

func (r *RSIIndicator) calc(values []float64) Value {
	return RSI(values, r.Config.Period)
}

// Evaluate computes the RSI value using Wilder's smoothing method
func (r *RSIIndicator) Evaluate(klines []*domain.Kline) Value {
	return r.calc(Closes(klines))
}

// Series computes the trailing n RSI values.
func (r *RSIIndicator) Series(klines []*domain.Kline, n int) []float64 {
	return TrailingSeries(Closes(klines), n, r.calc)
}

// IsOverbought checks if the RSI value indicates an overbought condition
func (r *RSIIndicator) IsOverbought(value float64) bool {
	return value >= r.config.Overbought
}

// IsOversold checks if the RSI value indicates an oversold condition
func (r *RSIIndicator) IsOversold(value float64) bool {
	return value <= r.config.Oversold
}
