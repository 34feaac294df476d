package domain

import (
	"fmt"
	"strings"
)

// quoteAssets are checked in order; USDT before USD so "BTCUSDT" is not split as "BTCUS/DT".
var quoteAssets = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

// NormalizeSymbol converts exchange or loosely formatted symbols into the
// canonical "BASE/QUOTE" form, e.g. "ethusdt" -> "ETH/USDT".
// Symbols without a recognised quote asset are returned upper-cased.
func NormalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	s = strings.NewReplacer("-", "/", "_", "/").Replace(s)
	if strings.Contains(s, "/") {
		return s
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s[:len(s)-len(q)] + "/" + q
		}
	}
	return s
}

// ExchangeSymbol converts a symbol to the exchange form ("BTC/USDT" -> "BTCUSDT").
func ExchangeSymbol(symbol string) string {
	return strings.ReplaceAll(NormalizeSymbol(symbol), "/", "")
}

// KlineChannel is the stream channel name for a symbol's klines.
func KlineChannel(symbol, interval string) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(ExchangeSymbol(symbol)), interval)
}

// FileKey turns a symbol into a filesystem-safe key ("BTC/USDT" -> "BTC_USDT").
func FileKey(symbol string) string {
	return strings.ReplaceAll(NormalizeSymbol(symbol), "/", "_")
}

// DedupSymbols normalizes symbols and drops empties and repeats, keeping first-seen order.
func DedupSymbols(symbols ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range symbols {
		for _, raw := range list {
			s := NormalizeSymbol(raw)
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
