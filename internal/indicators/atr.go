package indicators

import (
	"fmt"

	"cryptoDataPipe/internal/domain"
)

// ATRConfig holds configuration for the Average True Range indicator
type ATRConfig struct {
	IndicatorConfig
}

// ATRIndicator implements the Average True Range indicator
type ATRIndicator struct {
	BaseIndicator
}

// NewATR creates a new Average True Range indicator instance
func NewATR(config ATRConfig) *ATRIndicator {
	return &ATRIndicator{BaseIndicator: BaseIndicator{Config: config.IndicatorConfig}}
}

// Name returns the name of the indicator, e.g. "ATR14".
func (a *ATRIndicator) Name() string {
	return fmt.Sprintf("ATR%d", a.Config.Period)
}

// RequiredDataPoints is period+1: true range needs the previous close.
func (a *ATRIndicator) RequiredDataPoints() int {
	return a.Config.Period + 1
}

func (a *ATRIndicator) calc(klines []*domain.Kline) Value {
	return ATR(klines, a.Config.Period)
}

// Evaluate computes the Average True Range value for the given klines
func (a *ATRIndicator) Evaluate(klines []*domain.Kline) Value {
	return a.calc(klines)
}

// Series computes the trailing n ATR values.
func (a *ATRIndicator) Series(klines []*domain.Kline, n int) []float64 {
	return TrailingBarSeries(klines, n, a.calc)
}
