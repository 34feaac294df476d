package indicators

import (
	"cryptoDataPipe/internal/domain"
)

// Indicator represents a technical indicator that can be calculated from price data
type Indicator interface {
	// Evaluate computes the latest value; Unavailable when history is too short.
	Evaluate(klines []*domain.Kline) Value

	// Series computes the trailing n values, oldest first, omitting unavailable points.
	Series(klines []*domain.Kline, n int) []float64

	// RequiredDataPoints returns the minimum number of klines needed for calculation
	RequiredDataPoints() int

	// Name returns the name of the indicator
	Name() string
}

// IndicatorConfig holds common configuration for indicators
type IndicatorConfig struct {
	Period int
}

// BaseIndicator provides common functionality for indicators
type BaseIndicator struct {
	Config IndicatorConfig
}

// RequiredDataPoints returns the minimum number of klines needed for calculation
func (b *BaseIndicator) RequiredDataPoints() int {
	return b.Config.Period
}
