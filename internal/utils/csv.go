package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cryptoDataPipe/internal/domain"
)

var klineHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume", "quote_volume", "trades"}

// WriteKlinesToCSV writes klines to filename, creating its directory.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteKlines(file, klines); err != nil {
		return err
	}
	return file.Close()
}

// WriteKlines writes a header row and one row per kline.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(klineHeader); err != nil {
		return err
	}
	for _, k := range klines {
		if k == nil {
			continue
		}
		if err := writer.Write([]string{
			k.OpenTime.UTC().Format(time.RFC3339),
			k.CloseTime.UTC().Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			strconv.FormatFloat(k.Open, 'f', -1, 64),
			strconv.FormatFloat(k.High, 'f', -1, 64),
			strconv.FormatFloat(k.Low, 'f', -1, 64),
			strconv.FormatFloat(k.Close, 'f', -1, 64),
			strconv.FormatFloat(k.Volume, 'f', -1, 64),
			strconv.FormatFloat(k.QuoteVolume, 'f', -1, 64),
			strconv.FormatInt(k.Trades, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
