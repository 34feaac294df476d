package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"cryptoDataPipe/config"
	"cryptoDataPipe/internal/adapters/binanceclient"
	"cryptoDataPipe/internal/adapters/logger"
	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/utils"
)

func main() {
	symbol := flag.String("symbol", "ETH/USDT", "symbol to fetch")
	interval := flag.String("interval", "3m", "kline interval")
	days := flag.Int("days", 7, "days of history to fetch")
	out := flag.String("out", "", "output file (default data/<symbol>_<interval>_<from>_to_<to>.csv)")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewZerologLogger(cfg.LogLevel)
	ctx := context.Background()

	// 3. Initialize Exchange Client (Binance Adapter)
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

	end := time.Now()
	start := end.AddDate(0, 0, -*days)

	appLogger.Info(ctx, "Fetching klines", map[string]interface{}{"symbol": *symbol, "interval": *interval, "from": start, "to": end})
	klines, err := binanceClient.GetKlinesRange(ctx, *symbol, *interval, start, end)
	if err != nil {
		appLogger.Error(ctx, err, "Error fetching klines")
		log.Fatalf("Error fetching klines: %v", err)
	}
	appLogger.Info(ctx, "Fetched klines", map[string]interface{}{"count": len(klines)})

	filename := *out
	if filename == "" {
		filename = fmt.Sprintf("data/%s_%s_%s_to_%s.csv", domain.FileKey(*symbol), *interval, start.Format("20060102"), end.Format("20060102"))
	}
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		appLogger.Error(ctx, err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(ctx, "Saved to", map[string]interface{}{"filename": filename})
}
