// Package monitor keeps rolling kline series for a dynamic set of symbols,
// fed by stream subscriptions and optionally seeded over REST.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/metrics"
	"cryptoDataPipe/internal/ports"
)

// DefaultIntervals are subscribed when AddSymbol is called without intervals.
var DefaultIntervals = []string{"3m", "4h"}

// Config holds configuration for the Monitor.
type Config struct {
	Transport ports.StreamTransport
	Seeder    ports.KlineFetcher // Optional REST source used to backfill new series
	Capacity  int                // Bars retained per series
	Intervals []string           // Defaults for AddSymbol
	Logger    ports.Logger
}

type intervalSub struct {
	series    *domain.Series
	channel   string
	handlerID ports.HandlerID
	confirmed bool // acked by the server or received data
	seeding   bool // REST backfill not finished
}

type registration struct {
	symbol    string
	intervals map[string]*intervalSub
	state     domain.MonitorState
	lastErr   error
}

func (r *registration) refreshState() {
	if r.state == domain.StateFailed {
		return
	}
	for _, sub := range r.intervals {
		if !sub.confirmed || sub.seeding {
			r.state = domain.StatePending
			return
		}
	}
	r.state = domain.StateActive
}

// Monitor owns every monitored series and registration. All methods are safe
// for concurrent use; reads never wait on the network.
type Monitor struct {
	transport ports.StreamTransport
	seeder    ports.KlineFetcher
	capacity  int
	intervals []string
	logger    ports.Logger

	mu   sync.RWMutex
	regs map[string]*registration
}

// New creates a Monitor.
func New(cfg Config) (*Monitor, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("stream transport is required for monitor: %w", ports.ErrConfigurationError)
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for monitor")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = domain.DefaultSeriesCapacity
	}
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = DefaultIntervals
	}
	return &Monitor{
		transport: cfg.Transport,
		seeder:    cfg.Seeder,
		capacity:  cfg.Capacity,
		intervals: append([]string(nil), cfg.Intervals...),
		logger:    cfg.Logger,
		regs:      make(map[string]*registration),
	}, nil
}

// AddSymbol registers symbol and subscribes its kline channels. It blocks,
// bounded by ctx, while the subscription handshake completes. Intervals
// already registered are left alone. The registration becomes active once
// every interval is acknowledged or has delivered data and, with a seeder,
// once its backfill has finished; a rejected subscription marks it failed.
//
// A returned error does not necessarily mean the registration is gone: on a
// timeout or while disconnected it stays pending and may still activate.
func (m *Monitor) AddSymbol(ctx context.Context, symbol string, intervals ...string) error {
	sym := domain.NormalizeSymbol(symbol)
	if sym == "" {
		return fmt.Errorf("add symbol: empty symbol: %w", ports.ErrInvalidRequest)
	}
	if len(intervals) == 0 {
		intervals = m.intervals
	}
	for _, iv := range intervals {
		if _, err := domain.IntervalDuration(iv); err != nil {
			return fmt.Errorf("add symbol %s: %w: %v", sym, ports.ErrInvalidRequest, err)
		}
	}

	m.mu.Lock()
	reg, ok := m.regs[sym]
	if !ok {
		reg = &registration{symbol: sym, intervals: make(map[string]*intervalSub), state: domain.StatePending}
		m.regs[sym] = reg
	}
	var added []string
	for _, iv := range intervals {
		if _, exists := reg.intervals[iv]; exists {
			continue
		}
		reg.intervals[iv] = &intervalSub{
			series:  domain.NewSeries(sym, iv, m.capacity),
			channel: domain.KlineChannel(sym, iv),
			seeding: m.seeder != nil,
		}
		added = append(added, iv)
	}
	if len(added) > 0 && reg.state == domain.StateFailed {
		// Retry after an earlier rejection.
		reg.state = domain.StatePending
		reg.lastErr = nil
	}
	reg.refreshState()
	count := len(m.regs)
	m.mu.Unlock()
	metrics.MonitoredSymbols.Set(float64(count))

	if len(added) == 0 {
		return nil
	}
	m.logger.Info(ctx, "Adding symbol to monitor", map[string]interface{}{"symbol": sym, "intervals": added})

	var errs []error
	for _, iv := range added {
		if err := m.subscribe(ctx, sym, iv); err != nil {
			errs = append(errs, err)
		}
	}

	if m.seeder != nil {
		for _, iv := range added {
			m.backfill(ctx, sym, iv)
		}
	}

	state, _ := m.State(sym)
	m.logger.Debug(ctx, "Symbol registration updated", map[string]interface{}{"symbol": sym, "state": string(state)})
	return errors.Join(errs...)
}

func (m *Monitor) subscribe(ctx context.Context, sym, iv string) error {
	channel := domain.KlineChannel(sym, iv)
	id, err := m.transport.Subscribe(ctx, channel, m.klineHandler(sym, iv))

	m.mu.Lock()
	var sub *intervalSub
	reg, ok := m.regs[sym]
	if ok {
		sub = reg.intervals[iv]
	}
	if sub == nil {
		// Removed while subscribing; RemoveSymbol never saw this id.
		m.mu.Unlock()
		if id != 0 {
			if uerr := m.transport.Unsubscribe(ctx, channel, id); uerr != nil && !errors.Is(uerr, ports.ErrUnknownSubscriptionID) {
				m.logger.Warn(ctx, "Failed to drop orphaned kline subscription", map[string]interface{}{"channel": channel, "error": uerr.Error()})
			}
		}
		return nil
	}
	defer m.mu.Unlock()
	if id != 0 {
		sub.handlerID = id
	}

	switch {
	case err == nil:
		sub.confirmed = true
		reg.refreshState()
		return nil
	case errors.Is(err, ports.ErrSubscriptionRejected):
		delete(reg.intervals, iv)
		reg.state = domain.StateFailed
		reg.lastErr = err
		m.logger.Warn(ctx, "Kline subscription rejected", map[string]interface{}{"symbol": sym, "interval": iv, "error": err.Error()})
		return fmt.Errorf("subscribe %s: %w", channel, err)
	default:
		// Timeout or disconnected: the transport keeps the registration and
		// the first data frame will confirm it.
		reg.lastErr = err
		m.logger.Warn(ctx, "Kline subscription not confirmed yet", map[string]interface{}{"symbol": sym, "interval": iv, "error": err.Error()})
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
}

// backfill seeds a series from REST. Failures are logged; stream data keeps
// flowing regardless. The interval counts as seeded either way.
func (m *Monitor) backfill(ctx context.Context, sym, iv string) {
	defer m.seeded(sym, iv)
	series := m.series(sym, iv)
	if series == nil {
		return
	}
	history, err := m.seeder.GetKlines(ctx, sym, iv, m.capacity)
	if err != nil {
		m.logger.Warn(ctx, "Series backfill failed", map[string]interface{}{"symbol": sym, "interval": iv, "error": err.Error()})
		return
	}
	n := series.Backfill(history)
	metrics.KlineUpdatesTotal.WithLabelValues(iv, "backfilled").Add(float64(n))
	m.logger.Debug(ctx, "Series backfilled", map[string]interface{}{"symbol": sym, "interval": iv, "bars": n})
}

func (m *Monitor) seeded(sym, iv string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[sym]
	if !ok {
		return
	}
	if sub, ok := reg.intervals[iv]; ok {
		sub.seeding = false
		reg.refreshState()
	}
}

// klineHandler merges stream klines into the (sym, iv) series.
func (m *Monitor) klineHandler(sym, iv string) ports.StreamHandler {
	return func(ctx context.Context, channel string, data json.RawMessage) error {
		k, err := decodeKline(data, iv)
		if err != nil {
			metrics.KlineUpdatesTotal.WithLabelValues(iv, "malformed").Inc()
			return fmt.Errorf("%s: %w", channel, err)
		}

		m.mu.Lock()
		reg, ok := m.regs[sym]
		var sub *intervalSub
		if ok {
			sub = reg.intervals[iv]
		}
		if sub != nil && !sub.confirmed {
			sub.confirmed = true
			reg.refreshState()
		}
		m.mu.Unlock()
		if sub == nil {
			return nil
		}

		res, err := sub.series.Append(k)
		switch res {
		case domain.Appended:
			metrics.KlineUpdatesTotal.WithLabelValues(iv, "appended").Inc()
		case domain.ReplacedTail:
			metrics.KlineUpdatesTotal.WithLabelValues(iv, "replaced").Inc()
		default:
			metrics.KlineUpdatesTotal.WithLabelValues(iv, "rejected").Inc()
		}
		if errors.Is(err, domain.ErrStaleKline) {
			// Late frames after a reconnect are expected.
			return nil
		}
		return err
	}
}

// RemoveSymbol unsubscribes every channel of symbol and drops its series.
func (m *Monitor) RemoveSymbol(ctx context.Context, symbol string) error {
	sym := domain.NormalizeSymbol(symbol)
	m.mu.Lock()
	reg, ok := m.regs[sym]
	if ok {
		delete(m.regs, sym)
	}
	count := len(m.regs)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	metrics.MonitoredSymbols.Set(float64(count))

	var errs []error
	for _, sub := range reg.intervals {
		if sub.handlerID == 0 {
			continue
		}
		err := m.transport.Unsubscribe(ctx, sub.channel, sub.handlerID)
		if err != nil && !errors.Is(err, ports.ErrUnknownSubscriptionID) {
			errs = append(errs, err)
		}
	}
	m.logger.Info(ctx, "Removed symbol from monitor", map[string]interface{}{"symbol": sym})
	return errors.Join(errs...)
}

// IsMonitoring reports whether symbol has an active registration.
func (m *Monitor) IsMonitoring(symbol string) bool {
	state, ok := m.State(symbol)
	return ok && state == domain.StateActive
}

// State returns the registration state of symbol.
func (m *Monitor) State(symbol string) (domain.MonitorState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.regs[domain.NormalizeSymbol(symbol)]
	if !ok {
		return "", false
	}
	return reg.state, true
}

// Symbols returns every registered symbol, sorted.
func (m *Monitor) Symbols() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.regs))
	for sym := range m.regs {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// GetKlines returns a copy of the newest bars of (symbol, interval), at most
// limit of them. Unknown symbols or intervals yield an empty slice.
func (m *Monitor) GetKlines(symbol, interval string, limit int) []*domain.Kline {
	s := m.series(domain.NormalizeSymbol(symbol), interval)
	if s == nil {
		return []*domain.Kline{}
	}
	return s.Last(limit)
}

// GetLatestPrice returns the close of the most recently updated bar across
// the symbol's intervals.
func (m *Monitor) GetLatestPrice(symbol string) (float64, bool) {
	m.mu.RLock()
	reg, ok := m.regs[domain.NormalizeSymbol(symbol)]
	var series []*domain.Series
	if ok {
		for _, sub := range reg.intervals {
			series = append(series, sub.series)
		}
	}
	m.mu.RUnlock()

	var (
		best  *domain.Kline
		bestT = int64(-1)
	)
	for _, s := range series {
		k := s.Latest()
		if k == nil {
			continue
		}
		t := s.UpdatedAt().UnixNano()
		if t > bestT || (t == bestT && best != nil && k.CloseTime.After(best.CloseTime)) {
			best, bestT = k, t
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Close, true
}

func (m *Monitor) series(sym, iv string) *domain.Series {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.regs[sym]
	if !ok {
		return nil
	}
	sub, ok := reg.intervals[iv]
	if !ok {
		return nil
	}
	return sub.series
}
