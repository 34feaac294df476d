package signals

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/indicators"
	"cryptoDataPipe/internal/metrics"
	"cryptoDataPipe/internal/ports"
)

// Derivatives supplies open interest and funding context.
type Derivatives interface {
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)
	GetFundingRate(ctx context.Context, symbol string) (float64, error)
}

// Config configures the Analyzer.
type Config struct {
	Compute ComputeConfig

	// Symbols with fewer bars than this in either series are skipped.
	MinKlines int

	// Liquidity filter on open interest value (USD). Held positions below
	// PositionMinOIValue are only warned about; new symbols below
	// NewMinOIValue, or with unknown open interest, are dropped.
	LiquidityFilter    bool
	PositionMinOIValue float64
	NewMinOIValue      float64

	Concurrency int
	Market      Derivatives // Optional
	Logger      ports.Logger
}

// Analyzer applies the signal-stage policy to a batch of snapshots: failed
// and short snapshots are skipped, not defaulted.
type Analyzer struct {
	cfg    Config
	logger ports.Logger
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(cfg Config) (*Analyzer, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for signal analyzer")
	}
	if cfg.MinKlines < 0 {
		return nil, fmt.Errorf("min klines cannot be negative: %w", ports.ErrConfigurationError)
	}
	if cfg.PositionMinOIValue <= 0 {
		cfg.PositionMinOIValue = 5_000_000
	}
	if cfg.NewMinOIValue <= 0 {
		cfg.NewMinOIValue = 15_000_000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Analyzer{cfg: cfg, logger: cfg.Logger}, nil
}

// Analyze computes signals for every usable snapshot. The result holds only
// symbols that passed the filters.
func (a *Analyzer) Analyze(ctx context.Context, snapshots map[string]domain.MarketSnapshot) map[string]SignalSnapshot {
	var (
		mu  sync.Mutex
		out = make(map[string]SignalSnapshot, len(snapshots))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	for sym, snap := range snapshots {
		g.Go(func() error {
			sig, ok := a.analyzeOne(gctx, sym, snap)
			if ok {
				mu.Lock()
				out[sym] = sig
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	a.logger.Info(ctx, "Signal analysis complete", map[string]interface{}{"input": len(snapshots), "computed": len(out)})
	return out
}

func (a *Analyzer) analyzeOne(ctx context.Context, sym string, snap domain.MarketSnapshot) (sig SignalSnapshot, ok bool) {
	fields := map[string]interface{}{"symbol": sym, "provenance": string(snap.Provenance)}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Signal computation panicked", fields)
			metrics.SignalsTotal.WithLabelValues("failed").Inc()
			sig, ok = SignalSnapshot{}, false
		}
	}()

	if snap.Failed() {
		a.logger.Warn(ctx, "Skipping symbol, collection failed", map[string]interface{}{"symbol": sym, "error": snap.Err})
		metrics.SignalsTotal.WithLabelValues("skipped_error").Inc()
		return SignalSnapshot{}, false
	}
	if len(snap.ShortKlines) < a.cfg.MinKlines || len(snap.LongKlines) < a.cfg.MinKlines {
		fields["short"] = len(snap.ShortKlines)
		fields["long"] = len(snap.LongKlines)
		fields["required"] = a.cfg.MinKlines
		a.logger.Warn(ctx, "Skipping symbol, not enough klines", fields)
		metrics.SignalsTotal.WithLabelValues("skipped_short").Inc()
		return SignalSnapshot{}, false
	}

	sig, err := Compute(snap, a.cfg.Compute)
	if err != nil {
		a.logger.Error(ctx, err, "Signal computation failed", fields)
		metrics.SignalsTotal.WithLabelValues("failed").Inc()
		return SignalSnapshot{}, false
	}

	if a.cfg.Market != nil {
		if !a.enrich(ctx, &sig) {
			metrics.SignalsTotal.WithLabelValues("skipped_liquidity").Inc()
			return SignalSnapshot{}, false
		}
	}

	metrics.SignalsTotal.WithLabelValues("computed").Inc()
	return sig, true
}

// enrich adds open interest and funding rate, and applies the liquidity
// filter. It returns false when the symbol must be dropped.
func (a *Analyzer) enrich(ctx context.Context, sig *SignalSnapshot) bool {
	fields := map[string]interface{}{"symbol": sig.Symbol, "isPosition": sig.IsPosition}
	threshold := a.cfg.NewMinOIValue
	if sig.IsPosition {
		threshold = a.cfg.PositionMinOIValue
	}

	if rate, err := a.cfg.Market.GetFundingRate(ctx, sig.Symbol); err == nil {
		sig.FundingRate = indicators.Available(rate)
	} else {
		a.logger.Debug(ctx, "Funding rate unavailable", map[string]interface{}{"symbol": sig.Symbol, "error": err.Error()})
	}

	oi, err := a.cfg.Market.GetOpenInterest(ctx, sig.Symbol)
	if err != nil || oi <= 0 {
		if err != nil {
			fields["error"] = err.Error()
		}
		a.logger.Warn(ctx, "Open interest unavailable", fields)
		// Held positions are kept regardless.
		return !a.cfg.LiquidityFilter || sig.IsPosition
	}

	sig.OpenInterest = indicators.Available(oi)
	value := oi * sig.Price
	sig.OpenInterestValue = indicators.Available(value)

	if a.cfg.LiquidityFilter && value < threshold {
		fields["oiValueUSD"] = value
		fields["thresholdUSD"] = threshold
		if sig.IsPosition {
			a.logger.Warn(ctx, "Held position below liquidity threshold", fields)
			return true
		}
		a.logger.Warn(ctx, "Skipping symbol below liquidity threshold", fields)
		return false
	}
	return true
}
