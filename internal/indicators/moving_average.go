package indicators

import (
	"fmt"

	"cryptoDataPipe/internal/domain"
)

// MovingAverage implements the exponential moving average indicator
type MovingAverage struct {
	BaseIndicator
}

// NewEMA creates an exponential moving average of period.
func NewEMA(period int) *MovingAverage {
	return &MovingAverage{BaseIndicator: BaseIndicator{Config: IndicatorConfig{Period: period}}}
}

// Name returns the name of the indicator, e.g. "EMA20".
func (m *MovingAverage) Name() string {
	return fmt.Sprintf("EMA%d", m.Config.Period)
}

func (m *MovingAverage) calc(values []float64) Value {
	return EMA(values, m.Config.Period)
}

// Evaluate computes the moving average of closes.
func (m *MovingAverage) Evaluate(klines []*domain.Kline) Value {
	return m.calc(Closes(klines))
}

// Series computes the trailing n moving average values.
func (m *MovingAverage) Series(klines []*domain.Kline, n int) []float64 {
	return TrailingSeries(Closes(klines), n, m.calc)
}
