package app

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"cryptoDataPipe/internal/candidates"
	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/metrics"
	"cryptoDataPipe/internal/ports"
	"cryptoDataPipe/internal/signals"
)

const (
	defaultSchedule     = "@every 3m"
	cronShutdownTimeout = 30 * time.Second
)

// PositionSource reports the symbols of currently held positions.
type PositionSource interface {
	PositionSymbols(ctx context.Context) ([]string, error)
}

// SnapshotSink is the downstream decision process fed by every cycle.
type SnapshotSink interface {
	Consume(ctx context.Context, result CycleResult) error
}

// StreamRunner is the lifecycle of the stream transport.
type StreamRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// DataCollector builds market snapshots for a working set.
type DataCollector interface {
	Start(ctx context.Context)
	Stop()
	Collect(ctx context.Context, symbols []string) map[string]domain.MarketSnapshot
	CollectWorkingSet(ctx context.Context, positions, candidates []string) map[string]domain.MarketSnapshot
}

// CandidateProvider resolves the candidate symbols of a cycle.
type CandidateProvider interface {
	CandidateSymbols(ctx context.Context) []string
}

// SignalAnalyzer turns snapshots into signals.
type SignalAnalyzer interface {
	Analyze(ctx context.Context, snapshots map[string]domain.MarketSnapshot) map[string]signals.SignalSnapshot
}

// Scorer rates candidate symbols.
type Scorer interface {
	ScoreSymbols(ctx context.Context, symbols []string) []candidates.SymbolScore
	SymbolScore(ctx context.Context, symbol string) (candidates.SymbolScore, bool)
}

// CycleResult is everything one pipeline cycle produced.
type CycleResult struct {
	ID         string                            `json:"id"`
	StartedAt  time.Time                         `json:"started_at"`
	FinishedAt time.Time                         `json:"finished_at"`
	Positions  []string                          `json:"positions"`
	Candidates []string                          `json:"candidates"`
	Snapshots  map[string]domain.MarketSnapshot  `json:"-"`
	Signals    map[string]signals.SignalSnapshot `json:"signals"`
	Scores     []candidates.SymbolScore          `json:"scores,omitempty"`
}

// Config wires the PipelineService.
type Config struct {
	Schedule   string // robfig/cron spec, default "@every 3m"
	RunOnStart bool
	Compute    signals.ComputeConfig

	Stream     StreamRunner // Optional
	Collector  DataCollector
	Candidates CandidateProvider // Optional
	Positions  PositionSource    // Optional
	Analyzer   SignalAnalyzer
	Scorer     Scorer              // Optional
	Sink       SnapshotSink        // Optional
	History    ports.SignalHistory // Optional
	Logger     ports.Logger
}

// PipelineService runs collection cycles on a schedule and exposes the
// data access used by downstream consumers.
type PipelineService struct {
	cfg    Config
	logger ports.Logger
	now    func() time.Time

	running atomic.Bool

	mu     sync.RWMutex
	latest *CycleResult
}

// NewPipelineService creates a new application service instance.
func NewPipelineService(cfg Config) (*PipelineService, error) {
	if cfg.Logger == nil || cfg.Collector == nil || cfg.Analyzer == nil {
		return nil, fmt.Errorf("missing required dependencies for PipelineService")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid pipeline schedule '%s': %w: %w", cfg.Schedule, ports.ErrConfigurationError, err)
	}
	return &PipelineService{cfg: cfg, logger: cfg.Logger, now: time.Now}, nil
}

// Start runs the pipeline until ctx is cancelled or SIGINT/SIGTERM arrives.
func (s *PipelineService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting pipeline service...", map[string]interface{}{"schedule": s.cfg.Schedule})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	if s.cfg.Stream != nil {
		if err := s.cfg.Stream.Start(ctx); err != nil {
			s.logger.Error(ctx, err, "Failed to start stream transport")
			return fmt.Errorf("failed to start stream transport: %w", err)
		}
		defer s.cfg.Stream.Stop()
		s.logger.Info(ctx, "Stream transport started")
	}

	s.cfg.Collector.Start(ctx)
	defer s.cfg.Collector.Stop()

	c := cron.New(cron.WithLogger(cronLogger{ctx: ctx, logger: s.logger}))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pipeline cycle: %w", err)
	}
	c.Start()
	s.logger.Info(ctx, "Pipeline cycle scheduled")

	if s.cfg.RunOnStart {
		go s.runScheduled(ctx)
	}

	<-ctx.Done()
	s.logger.Info(ctx, "Main context cancelled, initiating shutdown...")

	select {
	case <-c.Stop().Done():
	case <-time.After(cronShutdownTimeout):
		s.logger.Warn(ctx, "Timeout waiting for running cycle to finish")
	}

	s.logger.Info(ctx, "Pipeline service stopped.")
	return nil
}

// runScheduled runs one cycle unless the previous one is still running.
func (s *PipelineService) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn(ctx, "Previous cycle still running, skipping")
		return
	}
	defer s.running.Store(false)

	if _, err := s.RunCycle(ctx); err != nil {
		s.logger.Error(ctx, err, "Pipeline cycle failed")
	}
}

// RunCycle resolves the working set, collects snapshots, computes signals
// and hands the result to the sink. Per-symbol failures never fail a cycle.
func (s *PipelineService) RunCycle(ctx context.Context) (CycleResult, error) {
	id := uuid.NewString()
	ctx = ports.WithCorrelationID(ctx, id)
	result := CycleResult{ID: id, StartedAt: s.now()}
	timer := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(timer).Seconds()) }()

	s.logger.Info(ctx, "Pipeline cycle started")

	if s.cfg.Positions != nil {
		positions, err := s.cfg.Positions.PositionSymbols(ctx)
		if err != nil {
			s.logger.Warn(ctx, "Failed to load position symbols, continuing without them", map[string]interface{}{"error": err.Error()})
		}
		result.Positions = domain.DedupSymbols(positions)
	}
	if s.cfg.Candidates != nil {
		result.Candidates = domain.DedupSymbols(s.cfg.Candidates.CandidateSymbols(ctx))
	}
	if len(result.Positions) == 0 && len(result.Candidates) == 0 {
		s.logger.Warn(ctx, "Empty working set, nothing to collect")
		result.FinishedAt = s.now()
		return result, nil
	}

	result.Snapshots = s.cfg.Collector.CollectWorkingSet(ctx, result.Positions, result.Candidates)
	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("cycle %s interrupted after collect: %w", id, err)
	}
	result.Signals = s.cfg.Analyzer.Analyze(ctx, result.Snapshots)

	if s.cfg.Scorer != nil && len(result.Candidates) > 0 {
		result.Scores = s.cfg.Scorer.ScoreSymbols(ctx, result.Candidates)
	}
	result.FinishedAt = s.now()

	s.mu.Lock()
	s.latest = &result
	s.mu.Unlock()

	s.saveHistory(ctx, result)

	s.logger.Info(ctx, "Pipeline cycle complete", map[string]interface{}{
		"positions":  len(result.Positions),
		"candidates": len(result.Candidates),
		"snapshots":  len(result.Snapshots),
		"signals":    len(result.Signals),
		"scores":     len(result.Scores),
		"elapsed":    time.Since(timer).String(),
	})

	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.Consume(ctx, result); err != nil {
			return result, fmt.Errorf("snapshot sink rejected cycle %s: %w", id, err)
		}
	}
	return result, nil
}

func (s *PipelineService) saveHistory(ctx context.Context, result CycleResult) {
	if s.cfg.History == nil || len(result.Signals) == 0 {
		return
	}
	records := make([]ports.SignalRecord, 0, len(result.Signals))
	for sym, sig := range result.Signals {
		payload, err := json.Marshal(sig)
		if err != nil {
			s.logger.Warn(ctx, "Failed to encode signal for history", map[string]interface{}{"symbol": sym, "error": err.Error()})
			continue
		}
		records = append(records, ports.SignalRecord{
			CycleID:    result.ID,
			Symbol:     sym,
			Price:      sig.Price,
			Provenance: string(sig.Provenance),
			Payload:    payload,
			CreatedAt:  result.FinishedAt,
		})
	}
	if err := s.cfg.History.SaveSignals(ctx, records); err != nil {
		s.logger.Error(ctx, err, "Failed to save signal history", map[string]interface{}{"records": len(records)})
	}
}

// LatestCycle returns the most recent completed cycle.
func (s *PipelineService) LatestCycle() (CycleResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return CycleResult{}, false
	}
	return *s.latest, true
}

// LatestSignals returns a copy of the signals of the most recent cycle.
func (s *PipelineService) LatestSignals() map[string]signals.SignalSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return map[string]signals.SignalSnapshot{}
	}
	return maps.Clone(s.latest.Signals)
}

// Collect returns one snapshot per distinct requested symbol.
func (s *PipelineService) Collect(ctx context.Context, symbols []string) map[string]domain.MarketSnapshot {
	return s.cfg.Collector.Collect(ctx, symbols)
}

// ComputeSignals derives the signal snapshot of one market snapshot.
func (s *PipelineService) ComputeSignals(snap domain.MarketSnapshot) (signals.SignalSnapshot, error) {
	return signals.Compute(snap, s.cfg.Compute)
}

// CandidateSymbols returns the current candidate symbols.
func (s *PipelineService) CandidateSymbols(ctx context.Context) []string {
	if s.cfg.Candidates == nil {
		return nil
	}
	return s.cfg.Candidates.CandidateSymbols(ctx)
}

// SymbolScore returns the known score of symbol.
func (s *PipelineService) SymbolScore(ctx context.Context, symbol string) (int, bool) {
	if s.cfg.Scorer == nil {
		return 0, false
	}
	sc, ok := s.cfg.Scorer.SymbolScore(ctx, symbol)
	return sc.Score, ok
}

// cronLogger forwards cron's own logging to ports.Logger.
type cronLogger struct {
	ctx    context.Context
	logger ports.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(l.ctx, "cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(l.ctx, err, "cron: "+msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
