package app

import (
	"context"
	"sort"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/ports"
)

// StaticPositions is a PositionSource backed by a fixed symbol list.
type StaticPositions []string

// PositionSymbols returns the configured symbols, normalized.
func (p StaticPositions) PositionSymbols(ctx context.Context) ([]string, error) {
	return domain.DedupSymbols(p), nil
}

// LogSink writes a one-line summary per signal. It stands in for a decision
// process when none is attached.
type LogSink struct {
	Logger ports.Logger
}

// Consume logs the cycle summary.
func (s LogSink) Consume(ctx context.Context, result CycleResult) error {
	syms := make([]string, 0, len(result.Signals))
	for sym := range result.Signals {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	for _, sym := range syms {
		sig := result.Signals[sym]
		s.Logger.Info(ctx, "Signal", map[string]interface{}{
			"symbol":     sym,
			"price":      sig.Price,
			"provenance": string(sig.Provenance),
			"rsi14":      sig.RSI14Short,
			"macd":       sig.MACDShort,
			"change1h":   sig.PriceChangeShort,
			"position":   sig.IsPosition,
		})
	}
	return nil
}
