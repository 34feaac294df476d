package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoDataPipe/internal/candidates"
	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/ports"
	"cryptoDataPipe/internal/signals"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
	corrIDs   map[string]bool
}

func (m *mockLogger) record(ctx context.Context, list *[]string, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*list = append(*list, msg)
	if id := ports.CorrelationID(ctx); id != "" {
		if m.corrIDs == nil {
			m.corrIDs = map[string]bool{}
		}
		m.corrIDs[id] = true
	}
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.record(ctx, &m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.record(ctx, &m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.record(ctx, &m.errorMsgs, msg)
}

func (m *mockLogger) warned(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.warnMsgs {
		if w == msg {
			return true
		}
	}
	return false
}

func rising(interval string, n int, start float64) []*domain.Kline {
	d, _ := domain.IntervalDuration(interval)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, n)
	for i := range out {
		c := start + float64(i)
		k := &domain.Kline{OpenTime: t0.Add(time.Duration(i) * d), Interval: interval, Open: c - 0.5, High: c + 1, Low: c - 1, Close: c, Volume: 10}
		k.FillDerived()
		out[i] = k
	}
	return out
}

type mockCollector struct {
	mu       sync.Mutex
	started  atomic.Int32
	stopped  atomic.Int32
	sets     [][2][]string
	bars     int
	failSyms map[string]bool
}

func (m *mockCollector) Start(ctx context.Context) { m.started.Add(1) }
func (m *mockCollector) Stop()                     { m.stopped.Add(1) }

func (m *mockCollector) snapshot(sym string) domain.MarketSnapshot {
	if m.failSyms[sym] {
		return domain.ErrorSnapshot(sym, errors.New("rest down"))
	}
	n := m.bars
	if n == 0 {
		n = 60
	}
	return domain.MarketSnapshot{
		Symbol: sym, ShortInterval: "3m", LongInterval: "4h",
		ShortKlines: rising("3m", n, 100), LongKlines: rising("4h", n, 100),
		Provenance: domain.ProvenanceStream,
	}
}

func (m *mockCollector) Collect(ctx context.Context, symbols []string) map[string]domain.MarketSnapshot {
	out := map[string]domain.MarketSnapshot{}
	for _, s := range domain.DedupSymbols(symbols) {
		out[s] = m.snapshot(s)
	}
	return out
}

func (m *mockCollector) CollectWorkingSet(ctx context.Context, positions, cands []string) map[string]domain.MarketSnapshot {
	m.mu.Lock()
	m.sets = append(m.sets, [2][]string{positions, cands})
	m.mu.Unlock()
	out := m.Collect(ctx, append(append([]string{}, positions...), cands...))
	for _, p := range positions {
		s := out[p]
		s.IsPosition = true
		out[p] = s
	}
	return out
}

type mockCandidates struct{ symbols []string }

func (m *mockCandidates) CandidateSymbols(ctx context.Context) []string { return m.symbols }

type mockPositions struct {
	symbols []string
	err     error
}

func (m *mockPositions) PositionSymbols(ctx context.Context) ([]string, error) {
	return m.symbols, m.err
}

type mockSink struct {
	mu      sync.Mutex
	results []CycleResult
	err     error
}

func (m *mockSink) Consume(ctx context.Context, result CycleResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return m.err
}

func (m *mockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

type mockHistory struct {
	mu      sync.Mutex
	records []ports.SignalRecord
	err     error
}

func (m *mockHistory) SaveSignals(ctx context.Context, records []ports.SignalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return m.err
}

func (m *mockHistory) RecentSignals(ctx context.Context, symbol string, limit int) ([]ports.SignalRecord, error) {
	return nil, nil
}

type mockScorer struct {
	scored [][]string
}

func (m *mockScorer) ScoreSymbols(ctx context.Context, symbols []string) []candidates.SymbolScore {
	m.scored = append(m.scored, symbols)
	out := make([]candidates.SymbolScore, len(symbols))
	for i, s := range symbols {
		out[i] = candidates.SymbolScore{Symbol: s, Score: 70, Source: candidates.ScoreFromTechnical}
	}
	return out
}

func (m *mockScorer) SymbolScore(ctx context.Context, symbol string) (candidates.SymbolScore, bool) {
	if symbol == "BTC/USDT" {
		return candidates.SymbolScore{Symbol: symbol, Score: 81, Source: candidates.ScoreFromCache}, true
	}
	return candidates.SymbolScore{}, false
}

type mockStream struct {
	startErr error
	started  atomic.Int32
	stopped  atomic.Int32
}

func (m *mockStream) Start(ctx context.Context) error {
	m.started.Add(1)
	return m.startErr
}

func (m *mockStream) Stop() { m.stopped.Add(1) }

func newAnalyzer(t *testing.T, log ports.Logger) *signals.Analyzer {
	t.Helper()
	a, err := signals.NewAnalyzer(signals.Config{MinKlines: 20, Logger: log})
	require.NoError(t, err)
	return a
}

func TestNewPipelineService(t *testing.T) {
	log := &mockLogger{}
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		errIs   error
	}{
		{
			name: "valid minimal",
			cfg:  Config{Collector: &mockCollector{}, Analyzer: newAnalyzer(t, log), Logger: log},
		},
		{
			name:    "missing collector",
			cfg:     Config{Analyzer: newAnalyzer(t, log), Logger: log},
			wantErr: true,
		},
		{
			name:    "missing logger",
			cfg:     Config{Collector: &mockCollector{}, Analyzer: newAnalyzer(t, log)},
			wantErr: true,
		},
		{
			name:    "bad schedule",
			cfg:     Config{Schedule: "every now and then", Collector: &mockCollector{}, Analyzer: newAnalyzer(t, log), Logger: log},
			wantErr: true,
			errIs:   ports.ErrConfigurationError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewPipelineService(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				if tt.errIs != nil {
					assert.ErrorIs(t, err, tt.errIs)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultSchedule, s.cfg.Schedule)
		})
	}
}

func TestRunCycle(t *testing.T) {
	log := &mockLogger{}
	col := &mockCollector{failSyms: map[string]bool{"DOGE/USDT": true}}
	sink := &mockSink{}
	hist := &mockHistory{}
	scorer := &mockScorer{}
	s, err := NewPipelineService(Config{
		Collector:  col,
		Candidates: &mockCandidates{symbols: []string{"ETHUSDT", "BTC/USDT", "DOGE/USDT"}},
		Positions:  &mockPositions{symbols: []string{"btcusdt"}},
		Analyzer:   newAnalyzer(t, log),
		Scorer:     scorer,
		Sink:       sink,
		History:    hist,
		Logger:     log,
	})
	require.NoError(t, err)

	res, err := s.RunCycle(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.ID)
	assert.Equal(t, []string{"BTC/USDT"}, res.Positions)
	assert.Equal(t, []string{"ETH/USDT", "BTC/USDT", "DOGE/USDT"}, res.Candidates)
	assert.Len(t, res.Snapshots, 3, "one snapshot per distinct symbol, failures included")
	assert.True(t, res.Snapshots["DOGE/USDT"].Failed())

	require.Len(t, res.Signals, 2, "error snapshot is skipped")
	assert.True(t, res.Signals["BTC/USDT"].IsPosition)
	assert.Contains(t, res.Signals, "ETH/USDT")
	assert.False(t, res.FinishedAt.Before(res.StartedAt))

	require.Len(t, scorer.scored, 1)
	assert.Equal(t, res.Candidates, scorer.scored[0])
	assert.Len(t, res.Scores, 3)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, res.ID, sink.results[0].ID)

	require.Len(t, hist.records, 2)
	for _, r := range hist.records {
		assert.Equal(t, res.ID, r.CycleID)
		assert.Equal(t, "stream", r.Provenance)
		var sig signals.SignalSnapshot
		require.NoError(t, json.Unmarshal(r.Payload, &sig))
		assert.Equal(t, r.Symbol, sig.Symbol)
	}

	assert.True(t, log.corrIDs[res.ID], "cycle logs carry the cycle id")

	latest := s.LatestSignals()
	assert.Len(t, latest, 2)
	delete(latest, "BTC/USDT")
	assert.Len(t, s.LatestSignals(), 2, "LatestSignals returns a copy")
}

func TestRunCycle_DegradedInputs(t *testing.T) {
	t.Run("position source error keeps candidates", func(t *testing.T) {
		log := &mockLogger{}
		col := &mockCollector{}
		s, err := NewPipelineService(Config{
			Collector:  col,
			Candidates: &mockCandidates{symbols: []string{"SOL/USDT"}},
			Positions:  &mockPositions{err: errors.New("account api down")},
			Analyzer:   newAnalyzer(t, log),
			Logger:     log,
		})
		require.NoError(t, err)
		res, err := s.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, res.Positions)
		assert.Contains(t, res.Signals, "SOL/USDT")
		assert.True(t, log.warned("Failed to load position symbols, continuing without them"))
	})

	t.Run("empty working set", func(t *testing.T) {
		log := &mockLogger{}
		col := &mockCollector{}
		s, err := NewPipelineService(Config{Collector: col, Analyzer: newAnalyzer(t, log), Logger: log})
		require.NoError(t, err)
		res, err := s.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Empty(t, res.Snapshots)
		assert.Empty(t, col.sets)
		_, ok := s.LatestCycle()
		assert.False(t, ok)
	})

	t.Run("short history is not signalled", func(t *testing.T) {
		log := &mockLogger{}
		col := &mockCollector{bars: 10}
		s, err := NewPipelineService(Config{Collector: col, Candidates: &mockCandidates{symbols: []string{"NEW/USDT"}}, Analyzer: newAnalyzer(t, log), Logger: log})
		require.NoError(t, err)
		res, err := s.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Len(t, res.Snapshots, 1)
		assert.Empty(t, res.Signals)
	})

	t.Run("sink error is reported", func(t *testing.T) {
		log := &mockLogger{}
		sink := &mockSink{err: errors.New("consumer busy")}
		s, err := NewPipelineService(Config{Collector: &mockCollector{}, Candidates: &mockCandidates{symbols: []string{"BTC/USDT"}}, Analyzer: newAnalyzer(t, log), Sink: sink, Logger: log})
		require.NoError(t, err)
		_, err = s.RunCycle(context.Background())
		require.Error(t, err)
		_, ok := s.LatestCycle()
		assert.True(t, ok, "result is kept even when the sink fails")
	})

	t.Run("history error does not fail the cycle", func(t *testing.T) {
		log := &mockLogger{}
		hist := &mockHistory{err: errors.New("disk full")}
		s, err := NewPipelineService(Config{Collector: &mockCollector{}, Candidates: &mockCandidates{symbols: []string{"BTC/USDT"}}, Analyzer: newAnalyzer(t, log), History: hist, Logger: log})
		require.NoError(t, err)
		_, err = s.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Contains(t, log.errorMsgs, "Failed to save signal history")
	})
}

func TestDownstreamAccessors(t *testing.T) {
	log := &mockLogger{}
	s, err := NewPipelineService(Config{
		Collector:  &mockCollector{},
		Candidates: &mockCandidates{symbols: []string{"BTC/USDT", "ETH/USDT"}},
		Analyzer:   newAnalyzer(t, log),
		Scorer:     &mockScorer{},
		Logger:     log,
	})
	require.NoError(t, err)
	ctx := context.Background()

	snaps := s.Collect(ctx, []string{"BTCUSDT", "btc/usdt", "ETH/USDT"})
	assert.Len(t, snaps, 2)

	sig, err := s.ComputeSignals(snaps["BTC/USDT"])
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", sig.Symbol)
	assert.True(t, sig.EMA20Short.OK)

	_, err = s.ComputeSignals(domain.ErrorSnapshot("X/USDT", errors.New("boom")))
	assert.ErrorIs(t, err, ports.ErrInsufficientData)

	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, s.CandidateSymbols(ctx))

	score, ok := s.SymbolScore(ctx, "BTC/USDT")
	assert.True(t, ok)
	assert.Equal(t, 81, score)
	_, ok = s.SymbolScore(ctx, "ETH/USDT")
	assert.False(t, ok)

	assert.Empty(t, s.LatestSignals())
}

func TestStart(t *testing.T) {
	t.Run("runs on start and stops on cancel", func(t *testing.T) {
		log := &mockLogger{}
		col := &mockCollector{}
		stream := &mockStream{}
		sink := &mockSink{}
		s, err := NewPipelineService(Config{
			Schedule:   "@every 1h",
			RunOnStart: true,
			Stream:     stream,
			Collector:  col,
			Candidates: &mockCandidates{symbols: []string{"BTC/USDT"}},
			Analyzer:   newAnalyzer(t, log),
			Sink:       sink,
			Logger:     log,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- s.Start(ctx) }()

		require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Start did not return after cancel")
		}
		assert.EqualValues(t, 1, stream.started.Load())
		assert.EqualValues(t, 1, stream.stopped.Load())
		assert.EqualValues(t, 1, col.started.Load())
		assert.EqualValues(t, 1, col.stopped.Load())
	})

	t.Run("stream start failure", func(t *testing.T) {
		log := &mockLogger{}
		col := &mockCollector{}
		s, err := NewPipelineService(Config{
			Stream:    &mockStream{startErr: errors.New("already started")},
			Collector: col,
			Analyzer:  newAnalyzer(t, log),
			Logger:    log,
		})
		require.NoError(t, err)
		err = s.Start(context.Background())
		require.Error(t, err)
		assert.EqualValues(t, 0, col.started.Load())
	})
}

func TestRunScheduled_SkipsOverlap(t *testing.T) {
	log := &mockLogger{}
	col := &mockCollector{}
	s, err := NewPipelineService(Config{Collector: col, Candidates: &mockCandidates{symbols: []string{"BTC/USDT"}}, Analyzer: newAnalyzer(t, log), Logger: log})
	require.NoError(t, err)

	s.running.Store(true)
	s.runScheduled(context.Background())
	assert.Empty(t, col.sets)
	assert.True(t, log.warned("Previous cycle still running, skipping"))

	s.running.Store(false)
	s.runScheduled(context.Background())
	assert.Len(t, col.sets, 1)
	assert.False(t, s.running.Load())
}

func TestStaticPositions(t *testing.T) {
	syms, err := StaticPositions{"btcusdt", "BTC/USDT", " ethusdt "}.PositionSymbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, syms)
}
