package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"strings"

	"cryptoDataPipe/config"
	"cryptoDataPipe/internal/adapters/binanceclient"
	"cryptoDataPipe/internal/adapters/filestore"
	"cryptoDataPipe/internal/adapters/logger"
	"cryptoDataPipe/internal/adapters/rankedsource"
	"cryptoDataPipe/internal/adapters/sqlite"
	"cryptoDataPipe/internal/adapters/wsstream"
	"cryptoDataPipe/internal/app"
	"cryptoDataPipe/internal/cache"
	"cryptoDataPipe/internal/candidates"
	"cryptoDataPipe/internal/collector"
	"cryptoDataPipe/internal/metrics"
	"cryptoDataPipe/internal/monitor"
	"cryptoDataPipe/internal/ports"
	"cryptoDataPipe/internal/signals"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewZerologLogger(cfg.LogLevel)
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Metrics endpoint
	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer func() {
			if err := metrics.Shutdown(srv); err != nil {
				appLogger.Error(ctx, err, "Error stopping metrics server")
			}
		}()
		appLogger.Info(ctx, "Metrics server started", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 4. Durable cache store (and signal history for the sqlite backend)
	var (
		store   ports.DurableStore
		history ports.SignalHistory
	)
	switch strings.ToLower(cfg.Cache.Backend) {
	case "sqlite":
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.Cache.DBPath, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
			log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				appLogger.Error(ctx, err, "Error closing database repository")
			}
		}()
		store, history = repo, repo
	default:
		fs, err := filestore.New(filestore.Config{Dir: cfg.Cache.Dir, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize file cache store")
			log.Fatalf("FATAL: Failed to initialize file cache store: %v", err)
		}
		store = fs
	}
	appLogger.Info(ctx, "Durable cache store initialized", map[string]interface{}{"backend": cfg.Cache.Backend})

	// 5. REST fallback source (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:      cfg.Exchange.APIKey,
		SecretKey:   cfg.Exchange.SecretKey,
		UseTestnet:  cfg.Exchange.IsTestnet,
		CallTimeout: cfg.Exchange.RESTTimeout,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := binanceClient.Ping(ctx); err != nil {
		appLogger.Warn(ctx, "Binance REST ping failed, continuing", map[string]interface{}{"error": err.Error()})
	}

	// 6. Stream transport and symbol monitor
	transport, err := wsstream.New(wsstream.Config{
		URL:               cfg.Stream.URL,
		HandshakeTimeout:  cfg.Stream.HandshakeTimeout,
		ReconnectDelay:    cfg.Stream.ReconnectDelay,
		MaxReconnectDelay: cfg.Stream.MaxReconnectDelay,
		Logger:            appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize stream transport")
		log.Fatalf("FATAL: Failed to initialize stream transport: %v", err)
	}

	monCfg := monitor.Config{
		Transport: transport,
		Capacity:  cfg.Stream.SeriesCapacity,
		Intervals: []string{cfg.Collector.ShortInterval, cfg.Collector.LongInterval},
		Logger:    appLogger,
	}
	if cfg.Stream.BackfillOnAdd {
		monCfg.Seeder = binanceClient
	}
	symbolMonitor, err := monitor.New(monCfg)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize symbol monitor")
		log.Fatalf("FATAL: Failed to initialize symbol monitor: %v", err)
	}

	// 7. Data collection orchestrator
	dataCollector, err := collector.New(collector.Config{
		Monitor:          symbolMonitor,
		REST:             binanceClient,
		ShortInterval:    cfg.Collector.ShortInterval,
		LongInterval:     cfg.Collector.LongInterval,
		KlineLimit:       cfg.Collector.KlineLimit,
		SubscribeTimeout: cfg.Collector.SubscribeTimeout,
		RESTTimeout:      cfg.Exchange.RESTTimeout,
		Concurrency:      cfg.Collector.Concurrency,
		Logger:           appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize collector")
		log.Fatalf("FATAL: Failed to initialize collector: %v", err)
	}

	// 8. Candidate pool and scores over the tiered cache
	cacheOpts := cache.Options{
		TTL:          cfg.Cache.TTL,
		MaxAttempts:  cfg.Cache.MaxAttempts,
		RetryDelay:   cfg.Cache.RetryDelay,
		StaleWarnAge: cfg.Cache.StaleWarnAge,
		Store:        store,
	}
	ranked, err := rankedsource.New(rankedsource.Config{
		CoinPoolURL: cfg.Candidates.CoinPoolURL,
		OITopURL:    cfg.Candidates.OITopURL,
		Timeout:     cfg.Candidates.HTTPTimeout,
		Logger:      appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize ranked symbol source")
		log.Fatalf("FATAL: Failed to initialize ranked symbol source: %v", err)
	}
	pool, err := candidates.NewPoolService(candidates.PoolConfig{
		Source:          ranked,
		UseDefaultCoins: cfg.Candidates.UseDefaultCoins,
		Cache:           cacheOpts,
		Logger:          appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize candidate pool")
		log.Fatalf("FATAL: Failed to initialize candidate pool: %v", err)
	}

	scoreOpts := cacheOpts
	scoreOpts.TTL = cfg.Cache.ScoreTTL
	scorer, err := candidates.NewScoreService(candidates.ScoreConfig{
		Klines:        symbolMonitor,
		ShortInterval: cfg.Collector.ShortInterval,
		LongInterval:  cfg.Collector.LongInterval,
		MinKlines:     cfg.Signals.MinKlines,
		BatchSize:     cfg.Candidates.ScoreBatchSize,
		Cache:         scoreOpts,
		Logger:        appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize score service")
		log.Fatalf("FATAL: Failed to initialize score service: %v", err)
	}

	// 9. Signal stage
	compute := signals.ComputeConfig{SeriesLength: cfg.Signals.SeriesLength}
	analyzer, err := signals.NewAnalyzer(signals.Config{
		Compute:            compute,
		MinKlines:          cfg.Signals.MinKlines,
		LiquidityFilter:    cfg.Signals.LiquidityFilter,
		PositionMinOIValue: cfg.Signals.PositionMinOIValue,
		NewMinOIValue:      cfg.Signals.NewMinOIValue,
		Concurrency:        cfg.Collector.Concurrency,
		Market:             binanceClient,
		Logger:             appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize signal analyzer")
		log.Fatalf("FATAL: Failed to initialize signal analyzer: %v", err)
	}

	// 10. Initialize Application Service
	pipeline, err := app.NewPipelineService(app.Config{
		Schedule:   cfg.Pipeline.Schedule,
		RunOnStart: cfg.Pipeline.RunOnStart,
		Compute:    compute,
		Stream:     transport,
		Collector:  dataCollector,
		Candidates: pool,
		Positions:  app.StaticPositions(cfg.Pipeline.PositionSymbols),
		Analyzer:   analyzer,
		Scorer:     scorer,
		Sink:       app.LogSink{Logger: appLogger},
		History:    history,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize pipeline service")
		log.Fatalf("FATAL: Failed to initialize pipeline service: %v", err)
	}
	appLogger.Info(ctx, "Pipeline service initialized")

	// 11. Start the Service
	if err := pipeline.Start(ctx); err != nil {
		appLogger.Error(ctx, err, "Pipeline service exited with error")
		log.Fatalf("FATAL: Pipeline service exited with error: %v", err)
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
