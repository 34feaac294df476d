// Package candidates supplies candidate symbols from ranked sources and
// per-symbol scores, both behind the tiered cache.
package candidates

import (
	"context"
	"fmt"
	"slices"

	"cryptoDataPipe/internal/cache"
	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/ports"
)

// Durable namespaces of the pool caches.
const (
	CoinPoolCacheName = "coin_pool"
	OITopCacheName    = "oi_top"

	latestKey = "latest"
)

// RankedSource fetches ranked symbol lists once, without retries.
type RankedSource interface {
	HasCoinPool() bool
	HasOITop() bool
	FetchCoinPool(ctx context.Context) ([]domain.CoinInfo, error)
	FetchOITop(ctx context.Context) ([]domain.OIPosition, error)
}

// PoolConfig configures the PoolService.
type PoolConfig struct {
	Source          RankedSource // Optional; defaults are served without it
	UseDefaultCoins bool
	Cache           cache.Options // Shared settings; Name is set per list
	Logger          ports.Logger
}

// PoolService serves the coin pool and the OI ranking with cache
// degradation: memory, upstream with retry, durable at any age, defaults.
type PoolService struct {
	source     RankedSource
	useDefault bool
	pool       *cache.Tiered[[]domain.CoinInfo]
	oi         *cache.Tiered[[]domain.OIPosition]
	logger     ports.Logger
}

// NewPoolService creates a PoolService.
func NewPoolService(cfg PoolConfig) (*PoolService, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for pool service")
	}
	poolOpts := cfg.Cache
	poolOpts.Name = CoinPoolCacheName
	poolOpts.Logger = cfg.Logger
	pool, err := cache.New[[]domain.CoinInfo](poolOpts)
	if err != nil {
		return nil, fmt.Errorf("coin pool cache: %w", err)
	}
	oiOpts := cfg.Cache
	oiOpts.Name = OITopCacheName
	oiOpts.Logger = cfg.Logger
	oi, err := cache.New[[]domain.OIPosition](oiOpts)
	if err != nil {
		return nil, fmt.Errorf("oi top cache: %w", err)
	}
	return &PoolService{
		source:     cfg.Source,
		useDefault: cfg.UseDefaultCoins,
		pool:       pool,
		oi:         oi,
		logger:     cfg.Logger,
	}, nil
}

func defaultCoins() []domain.CoinInfo {
	out := make([]domain.CoinInfo, len(domain.DefaultMainstreamCoins))
	for i, s := range domain.DefaultMainstreamCoins {
		out[i] = domain.CoinInfo{Symbol: s, IsAvailable: true}
	}
	return out
}

// CoinPool returns the ranked coin pool. It never fails: when the source is
// disabled, unconfigured or unreachable with nothing cached, the default
// mainstream list is returned.
func (p *PoolService) CoinPool(ctx context.Context) []domain.CoinInfo {
	if p.useDefault {
		p.logger.Info(ctx, "Default coin list enabled")
		return defaultCoins()
	}
	if p.source == nil || !p.source.HasCoinPool() {
		p.logger.Warn(ctx, "Coin pool source not configured, using default coin list")
		return defaultCoins()
	}
	e := p.pool.GetOr(ctx, latestKey, p.source.FetchCoinPool, defaultCoins())
	p.logger.Debug(ctx, "Coin pool resolved", map[string]interface{}{"coins": len(e.Value), "source": string(e.Source), "fetchedAt": e.FetchedAt})
	return slices.Clone(e.Value)
}

// OITop returns the OI growth ranking, or nil when the source is not
// configured or nothing is available.
func (p *PoolService) OITop(ctx context.Context) []domain.OIPosition {
	if p.source == nil || !p.source.HasOITop() {
		p.logger.Debug(ctx, "OI top source not configured, skipping")
		return nil
	}
	e, err := p.oi.Get(ctx, latestKey, p.source.FetchOITop)
	if err != nil {
		p.logger.Warn(ctx, "OI top unavailable, skipping", map[string]interface{}{"error": err.Error()})
		return nil
	}
	return slices.Clone(e.Value)
}

// OITopDetails maps symbol to its OI ranking entry.
func (p *PoolService) OITopDetails(ctx context.Context) map[string]domain.OIPosition {
	positions := p.OITop(ctx)
	out := make(map[string]domain.OIPosition, len(positions))
	for _, pos := range positions {
		out[pos.Symbol] = pos
	}
	return out
}

// CandidateSymbols is the normalized, deduplicated union of available
// coin-pool symbols and OI-ranked symbols, coin pool first.
func (p *PoolService) CandidateSymbols(ctx context.Context) []string {
	coins := p.CoinPool(ctx)
	pool := make([]string, 0, len(coins))
	for _, c := range coins {
		if c.IsAvailable {
			pool = append(pool, c.Symbol)
		}
	}
	positions := p.OITop(ctx)
	ranked := make([]string, 0, len(positions))
	for _, pos := range positions {
		ranked = append(ranked, pos.Symbol)
	}
	out := domain.DedupSymbols(pool, ranked)
	p.logger.Info(ctx, "Candidate symbols resolved", map[string]interface{}{"coinPool": len(pool), "oiTop": len(ranked), "candidates": len(out)})
	return out
}
