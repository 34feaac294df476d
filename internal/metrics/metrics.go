package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StreamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stream_frames_total", Help: "Inbound stream frames by kind (ack, event, envelope, unknown)"},
		[]string{"kind"},
	)
	StreamReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "stream_reconnects_total", Help: "Successful stream reconnects"},
	)
	StreamHandlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "stream_handler_errors_total", Help: "Handler errors and recovered panics"},
		[]string{"reason"},
	)
	StreamConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "stream_connected", Help: "1 while the stream socket is open"},
	)
	KlineUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kline_updates_total", Help: "Kline merges into monitored series by result"},
		[]string{"interval", "result"},
	)
	MonitoredSymbols = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "monitored_symbols", Help: "Symbols registered with the monitor"},
	)
	SnapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "snapshots_total", Help: "Collected market snapshots by provenance"},
		[]string{"provenance"},
	)
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "cache_lookups_total", Help: "Tiered cache results by cache and source layer"},
		[]string{"cache", "source"},
	)
	FetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fetch_attempts_total", Help: "Upstream fetch attempts by cache and outcome"},
		[]string{"cache", "outcome"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signal stage results per symbol (computed, skipped_error, skipped_short, skipped_liquidity, failed)"},
		[]string{"result"},
	)
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "symbol_scores_total", Help: "Symbol scores by source (cache, ai, durable, technical, skipped)"},
		[]string{"source"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "pipeline_cycle_seconds", Help: "Duration of a full collection cycle", Buckets: prometheus.DefBuckets},
	)
)

func init() {
	prometheus.MustRegister(
		StreamFramesTotal,
		StreamReconnectsTotal,
		StreamHandlerErrorsTotal,
		StreamConnected,
		KlineUpdatesTotal,
		MonitoredSymbols,
		SnapshotsTotal,
		CacheLookupsTotal,
		FetchAttemptsTotal,
		SignalsTotal,
		ScoresTotal,
		CycleDuration,
	)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown stops a server started by Serve.
func Shutdown(srv *http.Server) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
