// Package collector builds per-cycle market snapshots for a working set of
// symbols, preferring live monitor data and falling back to REST.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/metrics"
	"cryptoDataPipe/internal/ports"
)

const (
	defaultShortInterval    = "3m"
	defaultLongInterval     = "4h"
	defaultKlineLimit       = 200
	defaultSubscribeTimeout = 5 * time.Second
	defaultRESTTimeout      = 10 * time.Second
	defaultRegisterTimeout  = 30 * time.Second
	defaultConcurrency      = 8
	registrarQueueSize      = 16
)

// Monitor is the subset of the symbol monitor the collector reads from.
type Monitor interface {
	AddSymbol(ctx context.Context, symbol string, intervals ...string) error
	IsMonitoring(symbol string) bool
	GetKlines(symbol, interval string, limit int) []*domain.Kline
	GetLatestPrice(symbol string) (float64, bool)
}

// Config holds configuration for the Collector.
type Config struct {
	Monitor          Monitor            // Optional; without it every symbol goes to REST
	REST             ports.KlineFetcher // Fallback source
	ShortInterval    string
	LongInterval     string
	KlineLimit       int
	SubscribeTimeout time.Duration // Soft bound on waiting for new registrations
	RegisterTimeout  time.Duration // Hard bound on a single background AddSymbol
	RESTTimeout      time.Duration // Bound on each REST call
	Concurrency      int
	Logger           ports.Logger
}

type registerRequest struct {
	symbols []string
	done    chan struct{}
}

// Collector implements the data collection step of a pipeline cycle.
type Collector struct {
	cfg    Config
	logger ports.Logger

	queue chan registerRequest

	mu       sync.Mutex
	inflight map[string]struct{} // symbols handed to the registrar and not finished yet
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a Collector. Call Start to run the registrar worker.
func New(cfg Config) (*Collector, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for collector")
	}
	if cfg.REST == nil && cfg.Monitor == nil {
		return nil, fmt.Errorf("collector needs a monitor or a REST source: %w", ports.ErrConfigurationError)
	}
	if cfg.ShortInterval == "" {
		cfg.ShortInterval = defaultShortInterval
	}
	if cfg.LongInterval == "" {
		cfg.LongInterval = defaultLongInterval
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = defaultKlineLimit
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = defaultSubscribeTimeout
	}
	if cfg.RegisterTimeout <= 0 {
		cfg.RegisterTimeout = defaultRegisterTimeout
	}
	if cfg.RESTTimeout <= 0 {
		cfg.RESTTimeout = defaultRESTTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Collector{
		cfg:      cfg,
		logger:   cfg.Logger,
		queue:    make(chan registerRequest, registrarQueueSize),
		inflight: make(map[string]struct{}),
	}, nil
}

// Start launches the registrar worker. It is a no-op without a monitor.
func (c *Collector) Start(ctx context.Context) {
	if c.cfg.Monitor == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.registrar(runCtx, c.done)
}

// Stop ends the registrar worker and waits for it to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	c.mu.Lock()
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
}

// registrar processes registration requests off the caller's path. Each
// AddSymbol gets its own deadline; a caller giving up does not cancel it.
func (c *Collector) registrar(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.queue:
			c.register(ctx, req.symbols)
			close(req.done)
		}
	}
}

func (c *Collector) register(ctx context.Context, symbols []string) {
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			defer c.finish(sym)
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Symbol registration panicked", map[string]interface{}{"symbol": sym})
				}
			}()
			regCtx, cancel := context.WithTimeout(ctx, c.cfg.RegisterTimeout)
			defer cancel()
			if err := c.cfg.Monitor.AddSymbol(regCtx, sym, c.cfg.ShortInterval, c.cfg.LongInterval); err != nil {
				c.logger.Warn(ctx, "Failed to add symbol to monitor", map[string]interface{}{"symbol": sym, "error": err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Collector) finish(sym string) {
	c.mu.Lock()
	delete(c.inflight, sym)
	c.mu.Unlock()
}

// ensureMonitored hands unmonitored symbols to the registrar and waits for
// it at most SubscribeTimeout. Symbols still being registered from an
// earlier cycle are not queued again.
func (c *Collector) ensureMonitored(ctx context.Context, symbols []string) {
	var missing []string
	for _, sym := range symbols {
		if !c.cfg.Monitor.IsMonitoring(sym) {
			missing = append(missing, sym)
		}
	}
	if len(missing) == 0 {
		c.logger.Debug(ctx, "All symbols already monitored")
		return
	}

	c.mu.Lock()
	running := c.done != nil
	var fresh []string
	for _, sym := range missing {
		if _, busy := c.inflight[sym]; busy {
			continue
		}
		c.inflight[sym] = struct{}{}
		fresh = append(fresh, sym)
	}
	c.mu.Unlock()

	if !running {
		c.logger.Warn(ctx, "Registrar not running, using REST for unmonitored symbols", map[string]interface{}{"count": len(missing)})
		for _, sym := range fresh {
			c.finish(sym)
		}
		return
	}

	timer := time.NewTimer(c.cfg.SubscribeTimeout)
	defer timer.Stop()

	if len(fresh) > 0 {
		req := registerRequest{symbols: fresh, done: make(chan struct{})}
		select {
		case c.queue <- req:
			c.logger.Debug(ctx, "Queued symbols for monitoring", map[string]interface{}{"count": len(fresh)})
		case <-timer.C:
			c.logger.Warn(ctx, "Registrar queue full, using REST for unmonitored symbols", map[string]interface{}{"count": len(fresh)})
			for _, sym := range fresh {
				c.finish(sym)
			}
			return
		case <-ctx.Done():
			for _, sym := range fresh {
				c.finish(sym)
			}
			return
		}
		select {
		case <-req.done:
		case <-timer.C:
			c.logger.Warn(ctx, "Timed out waiting for symbol subscriptions, using REST fallback", map[string]interface{}{
				"count":   len(fresh),
				"timeout": c.cfg.SubscribeTimeout.String(),
			})
			return
		case <-ctx.Done():
			return
		}
	}

	var failed []string
	for _, sym := range missing {
		if !c.cfg.Monitor.IsMonitoring(sym) {
			failed = append(failed, sym)
		}
	}
	if len(failed) > 0 {
		c.logger.Warn(ctx, "Symbols not monitored, using REST fallback", map[string]interface{}{"symbols": failed})
	}
}

// Collect returns exactly one snapshot per distinct symbol. Failures are
// isolated per symbol and reported with provenance "error".
func (c *Collector) Collect(ctx context.Context, symbols []string) map[string]domain.MarketSnapshot {
	syms := domain.DedupSymbols(symbols)
	out := make(map[string]domain.MarketSnapshot, len(syms))
	if len(syms) == 0 {
		c.logger.Warn(ctx, "No symbols to collect, skipping")
		return out
	}
	c.logger.Info(ctx, "Collecting market data", map[string]interface{}{"symbols": len(syms)})

	if c.cfg.Monitor != nil {
		c.ensureMonitored(ctx, syms)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(c.cfg.Concurrency)
	for _, sym := range syms {
		g.Go(func() error {
			snap := c.collectOne(ctx, sym)
			metrics.SnapshotsTotal.WithLabelValues(string(snap.Provenance)).Inc()
			mu.Lock()
			out[sym] = snap
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info(ctx, "Market data collected", map[string]interface{}{"symbols": len(out)})
	return out
}

// CollectWorkingSet collects positions ∪ candidates and flags each snapshot
// with its membership.
func (c *Collector) CollectWorkingSet(ctx context.Context, positions, candidates []string) map[string]domain.MarketSnapshot {
	posSet := toSet(positions)
	candSet := toSet(candidates)
	out := c.Collect(ctx, domain.DedupSymbols(positions, candidates))
	for sym, snap := range out {
		_, snap.IsPosition = posSet[sym]
		_, snap.IsCandidate = candSet[sym]
		out[sym] = snap
	}
	return out
}

func toSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range domain.DedupSymbols(symbols) {
		set[s] = struct{}{}
	}
	return set
}

func (c *Collector) collectOne(ctx context.Context, sym string) (snap domain.MarketSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			c.logger.Error(ctx, err, "Collecting symbol panicked", map[string]interface{}{"symbol": sym})
			snap = domain.ErrorSnapshot(sym, err)
		}
	}()

	if c.cfg.Monitor != nil && c.cfg.Monitor.IsMonitoring(sym) {
		short := c.cfg.Monitor.GetKlines(sym, c.cfg.ShortInterval, c.cfg.KlineLimit)
		long := c.cfg.Monitor.GetKlines(sym, c.cfg.LongInterval, c.cfg.KlineLimit)
		if len(short) > 0 || len(long) > 0 {
			snap = c.newSnapshot(sym, domain.ProvenanceStream, short, long)
			if price, ok := c.cfg.Monitor.GetLatestPrice(sym); ok {
				snap.Price, snap.HasPrice = price, true
			}
			c.logger.Debug(ctx, "Using monitor data", map[string]interface{}{"symbol": sym, "short": len(short), "long": len(long)})
			return snap
		}
		c.logger.Debug(ctx, "Monitored symbol has no bars yet, using REST", map[string]interface{}{"symbol": sym})
	}

	snap, err := c.fromREST(ctx, sym)
	if err != nil {
		c.logger.Error(ctx, err, "Failed to collect market data", map[string]interface{}{"symbol": sym})
		return domain.ErrorSnapshot(sym, err)
	}
	return snap
}

func (c *Collector) fromREST(ctx context.Context, sym string) (domain.MarketSnapshot, error) {
	if c.cfg.REST == nil {
		return domain.MarketSnapshot{}, fmt.Errorf("%s not monitored and no REST source: %w", sym, ports.ErrExchangeUnavailable)
	}
	short, shortErr := c.fetch(ctx, sym, c.cfg.ShortInterval)
	long, longErr := c.fetch(ctx, sym, c.cfg.LongInterval)
	if shortErr != nil && longErr != nil {
		return domain.MarketSnapshot{}, errors.Join(shortErr, longErr)
	}
	for _, err := range []error{shortErr, longErr} {
		if err != nil {
			c.logger.Warn(ctx, "Partial REST data", map[string]interface{}{"symbol": sym, "error": err.Error()})
		}
	}

	snap := c.newSnapshot(sym, domain.ProvenanceREST, short, long)
	switch {
	case len(short) > 0:
		snap.Price, snap.HasPrice = short[len(short)-1].Close, true
	case len(long) > 0:
		snap.Price, snap.HasPrice = long[len(long)-1].Close, true
	}
	c.logger.Debug(ctx, "Using REST data", map[string]interface{}{"symbol": sym, "short": len(short), "long": len(long)})
	return snap, nil
}

func (c *Collector) fetch(ctx context.Context, sym, interval string) ([]*domain.Kline, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RESTTimeout)
	defer cancel()
	klines, err := c.cfg.REST.GetKlines(callCtx, sym, interval, c.cfg.KlineLimit)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", sym, interval, err)
	}
	if klines == nil {
		klines = []*domain.Kline{}
	}
	return klines, nil
}

func (c *Collector) newSnapshot(sym string, prov domain.Provenance, short, long []*domain.Kline) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:        sym,
		ShortInterval: c.cfg.ShortInterval,
		LongInterval:  c.cfg.LongInterval,
		ShortKlines:   short,
		LongKlines:    long,
		Provenance:    prov,
		CollectedAt:   time.Now(),
	}
}
