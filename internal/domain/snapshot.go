package domain

import "time"

// MarketSnapshot is the per-symbol, per-cycle view of market data handed to
// the signal stage. It is built fresh every cycle and never updated in place.
type MarketSnapshot struct {
	Symbol        string     `json:"symbol"`
	Price         float64    `json:"price"`
	HasPrice      bool       `json:"has_price"`
	ShortInterval string     `json:"short_interval"`
	LongInterval  string     `json:"long_interval"`
	ShortKlines   []*Kline   `json:"-"`
	LongKlines    []*Kline   `json:"-"`
	Provenance    Provenance `json:"provenance"`
	Err           string     `json:"error,omitempty"`
	IsPosition    bool       `json:"is_position"`
	IsCandidate   bool       `json:"is_candidate"`
	CollectedAt   time.Time  `json:"collected_at"`
}

// Failed reports whether collection produced no usable data.
func (m MarketSnapshot) Failed() bool {
	return m.Provenance == ProvenanceError
}

// ErrorSnapshot builds the placeholder entry for a symbol whose collection failed.
func ErrorSnapshot(symbol string, err error) MarketSnapshot {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return MarketSnapshot{
		Symbol:      symbol,
		Provenance:  ProvenanceError,
		Err:         msg,
		CollectedAt: time.Now(),
	}
}
