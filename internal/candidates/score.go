package candidates

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"cryptoDataPipe/internal/cache"
	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/indicators"
	"cryptoDataPipe/internal/metrics"
	"cryptoDataPipe/internal/ports"
	"cryptoDataPipe/internal/signals"
)

// ScoreCacheName is the durable namespace of per-symbol scores.
const ScoreCacheName = "symbol_scores"

// NeutralScore is used when a model reply carries no number.
const NeutralScore = 50

// KlineSource reads cached klines without network access.
type KlineSource interface {
	GetKlines(symbol, interval string, limit int) []*domain.Kline
}

// AIScorer asks a model to rate one symbol and returns its raw reply, which
// is expected to contain a 0..100 integer (see ParseScore).
type AIScorer interface {
	Score(ctx context.Context, sig signals.SignalSnapshot) (string, error)
}

// Score sources.
const (
	ScoreFromCache     = "cache"
	ScoreFromAI        = "ai"
	ScoreFromDurable   = "durable"
	ScoreFromTechnical = "technical"
)

// SymbolScore is a 0..100 rating of a symbol's trading potential.
type SymbolScore struct {
	Symbol string `json:"symbol"`
	Score  int    `json:"score"`
	Source string `json:"source"`
}

// ScoreConfig configures the ScoreService.
type ScoreConfig struct {
	Klines        KlineSource
	AI            AIScorer // Optional; technical scoring without it
	ShortInterval string   // default "3m"
	LongInterval  string   // default "4h"
	KlineLimit    int      // Bars read per interval (default 100)
	MinKlines     int      // Symbols with fewer bars are not scored (default 20)
	BatchSize     int      // Symbols per AI batch (default 10)
	Cache         cache.Options
	Logger        ports.Logger
}

// ScoreService rates symbols, caching each AI score per symbol as soon as it
// is obtained so a failed batch only loses the symbols not yet scored.
type ScoreService struct {
	cfg    ScoreConfig
	cache  *cache.Tiered[int]
	logger ports.Logger

	mu     sync.RWMutex
	latest map[string]SymbolScore
}

// NewScoreService creates a ScoreService.
func NewScoreService(cfg ScoreConfig) (*ScoreService, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for score service")
	}
	if cfg.Klines == nil {
		return nil, fmt.Errorf("kline source is required for score service: %w", ports.ErrConfigurationError)
	}
	if cfg.ShortInterval == "" {
		cfg.ShortInterval = "3m"
	}
	if cfg.LongInterval == "" {
		cfg.LongInterval = "4h"
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = 100
	}
	if cfg.MinKlines <= 0 {
		cfg.MinKlines = 20
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	opts := cfg.Cache
	opts.Name = ScoreCacheName
	opts.Logger = cfg.Logger
	opts.WarmStart = true
	c, err := cache.New[int](opts)
	if err != nil {
		return nil, fmt.Errorf("score cache: %w", err)
	}
	if cfg.AI == nil {
		cfg.Logger.Info(context.Background(), "No AI scorer configured, using technical scores")
	}
	return &ScoreService{cfg: cfg, cache: c, logger: cfg.Logger, latest: make(map[string]SymbolScore)}, nil
}

// ScoreSymbols scores symbols, serving cached scores first. Symbols without
// enough history, or whose scoring failed, are left out. The result keeps
// input order.
func (s *ScoreService) ScoreSymbols(ctx context.Context, symbols []string) []SymbolScore {
	syms := domain.DedupSymbols(symbols)
	results := make(map[string]SymbolScore, len(syms))
	var mu sync.Mutex
	record := func(sc SymbolScore) {
		mu.Lock()
		results[sc.Symbol] = sc
		mu.Unlock()
		metrics.ScoresTotal.WithLabelValues(sc.Source).Inc()
	}

	pending := make([]string, 0, len(syms))
	for _, sym := range syms {
		if e, ok := s.cache.Lookup(ctx, sym); ok {
			record(SymbolScore{Symbol: sym, Score: e.Value, Source: ScoreFromCache})
			continue
		}
		pending = append(pending, sym)
	}
	hits := len(syms) - len(pending)

	if len(pending) > 0 {
		if s.cfg.AI != nil {
			s.scoreWithAI(ctx, pending, record)
		} else {
			s.scoreTechnical(ctx, pending, record)
		}
	}

	out := make([]SymbolScore, 0, len(results))
	s.mu.Lock()
	for _, sym := range syms {
		if sc, ok := results[sym]; ok {
			out = append(out, sc)
			s.latest[sym] = sc
		}
	}
	s.mu.Unlock()

	s.logger.Info(ctx, "Symbol scoring complete", map[string]interface{}{"requested": len(syms), "scored": len(out), "cacheHits": hits})
	return out
}

// scoreWithAI scores pending symbols batch by batch. Within a batch the model
// calls run concurrently; each success is written through the cache at once.
func (s *ScoreService) scoreWithAI(ctx context.Context, pending []string, record func(SymbolScore)) {
	for start := 0; start < len(pending); start += s.cfg.BatchSize {
		if ctx.Err() != nil {
			return
		}
		end := min(start+s.cfg.BatchSize, len(pending))
		batch := pending[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, sym := range batch {
			g.Go(func() error {
				sig, ok := s.features(gctx, sym)
				if !ok {
					return nil
				}
				e, err := s.cache.Get(gctx, sym, func(ctx context.Context) (int, error) {
					reply, err := s.cfg.AI.Score(ctx, sig)
					if err != nil {
						return 0, err
					}
					score, ok := ParseScore(reply)
					if !ok {
						s.logger.Warn(ctx, "Model reply has no score, using neutral score", map[string]interface{}{"symbol": sym, "reply": truncate(reply, 80)})
					}
					return score, nil
				})
				if err != nil {
					s.logger.Warn(gctx, "AI scoring failed", map[string]interface{}{"symbol": sym, "error": err.Error()})
					metrics.ScoresTotal.WithLabelValues("skipped").Inc()
					return nil
				}
				src := ScoreFromAI
				if e.Source == cache.SourceDurable {
					src = ScoreFromDurable
				}
				record(SymbolScore{Symbol: sym, Score: e.Value, Source: src})
				return nil
			})
		}
		_ = g.Wait()
		s.logger.Debug(ctx, "Scored batch", map[string]interface{}{"done": end, "total": len(pending)})
	}
}

// scoreTechnical scores from indicators only. These scores are not cached.
func (s *ScoreService) scoreTechnical(ctx context.Context, pending []string, record func(SymbolScore)) {
	for _, sym := range pending {
		sig, ok := s.features(ctx, sym)
		if !ok {
			continue
		}
		record(SymbolScore{Symbol: sym, Score: TechnicalScore(sig), Source: ScoreFromTechnical})
	}
}

// features computes the indicator snapshot a score is based on.
func (s *ScoreService) features(ctx context.Context, sym string) (signals.SignalSnapshot, bool) {
	short := s.cfg.Klines.GetKlines(sym, s.cfg.ShortInterval, s.cfg.KlineLimit)
	long := s.cfg.Klines.GetKlines(sym, s.cfg.LongInterval, s.cfg.KlineLimit)
	if len(short) < s.cfg.MinKlines || len(long) < s.cfg.MinKlines {
		s.logger.Debug(ctx, "Not enough klines to score", map[string]interface{}{"symbol": sym, "short": len(short), "long": len(long)})
		metrics.ScoresTotal.WithLabelValues("skipped").Inc()
		return signals.SignalSnapshot{}, false
	}
	sig, err := signals.Compute(domain.MarketSnapshot{
		Symbol:        sym,
		ShortInterval: s.cfg.ShortInterval,
		LongInterval:  s.cfg.LongInterval,
		ShortKlines:   short,
		LongKlines:    long,
		Provenance:    domain.ProvenanceStream,
	}, signals.ComputeConfig{})
	if err != nil {
		s.logger.Debug(ctx, "Cannot compute score features", map[string]interface{}{"symbol": sym, "error": err.Error()})
		return signals.SignalSnapshot{}, false
	}
	return sig, true
}

// SymbolScore returns the cached score of symbol, or the most recent score
// computed by ScoreSymbols.
func (s *ScoreService) SymbolScore(ctx context.Context, symbol string) (SymbolScore, bool) {
	sym := domain.NormalizeSymbol(symbol)
	if e, ok := s.cache.Lookup(ctx, sym); ok {
		return SymbolScore{Symbol: sym, Score: e.Value, Source: ScoreFromCache}, true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.latest[sym]
	return sc, ok
}

// ClearCache drops the score of symbol, or every score when symbol is "".
func (s *ScoreService) ClearCache(ctx context.Context, symbol string) error {
	if symbol == "" {
		s.mu.Lock()
		s.latest = make(map[string]SymbolScore)
		s.mu.Unlock()
		if err := s.cache.Clear(ctx); err != nil {
			return err
		}
		s.logger.Info(ctx, "Cleared all symbol scores")
		return nil
	}
	sym := domain.NormalizeSymbol(symbol)
	s.mu.Lock()
	delete(s.latest, sym)
	s.mu.Unlock()
	if err := s.cache.Invalidate(ctx, sym); err != nil {
		return err
	}
	s.logger.Info(ctx, "Cleared symbol score", map[string]interface{}{"symbol": sym})
	return nil
}

var scorePattern = regexp.MustCompile(`\d+`)

// ParseScore extracts the first integer of a model reply, clamped to 0..100.
// It returns NeutralScore and false when the reply has no digits.
func ParseScore(reply string) (int, bool) {
	m := scorePattern.FindString(reply)
	if m == "" {
		return NeutralScore, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		// Only overflow gets here.
		return 100, true
	}
	return clamp(n), true
}

// TechnicalScore rates a symbol from trend and momentum alone. Unavailable
// indicators contribute nothing, except RSI which counts as neutral.
func TechnicalScore(sig signals.SignalSnapshot) int {
	score := 50
	score += trendPoints(sig.Price, sig.EMA20Short, 10)
	score += trendPoints(sig.Price, sig.EMA20Long, 15)
	score += momentumPoints(sig.MACDShort, 10)
	score += momentumPoints(sig.MACDLong, 15)
	if rsiInBand(sig.RSI14Short) {
		score += 5
	}
	if rsiInBand(sig.RSI14Long) {
		score += 5
	}
	return clamp(score)
}

// rsiBands holds the 70/30 overbought and oversold thresholds.
var rsiBands = indicators.NewRSI(indicators.RSIConfig{IndicatorConfig: indicators.IndicatorConfig{Period: 14}})

func rsiInBand(v indicators.Value) bool {
	r := indicators.RSIOrNeutral(v)
	return !rsiBands.IsOverbought(r) && !rsiBands.IsOversold(r)
}

func trendPoints(price float64, ema indicators.Value, weight int) int {
	if !ema.OK {
		return 0
	}
	if price > ema.V {
		return weight
	}
	return -weight
}

func momentumPoints(macd indicators.Value, weight int) int {
	if !macd.OK {
		return 0
	}
	if macd.V > 0 {
		return weight
	}
	return -weight
}

func clamp(n int) int {
	return max(0, min(100, n))
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
