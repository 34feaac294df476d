package indicators

import "cryptoDataPipe/internal/domain"

// MACDLine is the MACD line (EMA12 - EMA26 of closes). Signal line and
// histogram are not produced.
type MACDLine struct{}

// NewMACD creates the MACD line indicator.
func NewMACD() *MACDLine { return &MACDLine{} }

// Name returns the name of the indicator
func (m *MACDLine) Name() string { return "MACD" }

// RequiredDataPoints returns the slow EMA period.
func (m *MACDLine) RequiredDataPoints() int { return MACDSlow }

// Evaluate computes the MACD line of closes.
func (m *MACDLine) Evaluate(klines []*domain.Kline) Value {
	return MACD(Closes(klines))
}

// Series computes the trailing n MACD values.
func (m *MACDLine) Series(klines []*domain.Kline, n int) []float64 {
	return TrailingSeries(Closes(klines), n, MACD)
}
