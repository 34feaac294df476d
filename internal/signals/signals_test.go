package signals

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// rising builds n bars with closes start, start+step, ...
func rising(interval string, n int, start, step float64) []*domain.Kline {
	d, _ := domain.IntervalDuration(interval)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*domain.Kline, n)
	for i := 0; i < n; i++ {
		c := start + float64(i)*step
		k := &domain.Kline{
			OpenTime: t0.Add(time.Duration(i) * d),
			Symbol:   "BTCUSDT",
			Interval: interval,
			Open:     c - step/2,
			High:     c + 1,
			Low:      c - 1,
			Close:    c,
			Volume:   float64(10 + i),
		}
		k.FillDerived()
		out[i] = k
	}
	return out
}

func snapshot(short, long []*domain.Kline) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Symbol:        "BTC/USDT",
		ShortInterval: "3m",
		LongInterval:  "4h",
		ShortKlines:   short,
		LongKlines:    long,
		Provenance:    domain.ProvenanceStream,
	}
}

func TestCompute_FullHistory(t *testing.T) {
	short := rising("3m", 40, 100, 1)
	long := rising("4h", 60, 50, 2)
	snap := snapshot(short, long)

	sig, err := Compute(snap, ComputeConfig{})
	require.NoError(t, err)

	assert.Equal(t, 139.0, sig.Price, "newest short close")
	require.True(t, sig.PriceChangeShort.OK)
	assert.InDelta(t, (139.0-120.0)/120.0*100, sig.PriceChangeShort.V, 1e-9)
	require.True(t, sig.PriceChangeLong.OK)
	assert.InDelta(t, (139.0-166.0)/166.0*100, sig.PriceChangeLong.V, 1e-9)

	for name, v := range map[string]bool{
		"ema20_short": sig.EMA20Short.OK, "macd_short": sig.MACDShort.OK, "rsi7_short": sig.RSI7Short.OK, "rsi14_short": sig.RSI14Short.OK,
		"ema20_long": sig.EMA20Long.OK, "ema50_long": sig.EMA50Long.OK, "macd_long": sig.MACDLong.OK, "atr14_long": sig.ATR14Long.OK,
	} {
		assert.True(t, v, "%s should be available", name)
	}
	assert.Greater(t, sig.MACDShort.V, 0.0, "uptrend has a positive MACD line")
	assert.InDelta(t, 100.0, sig.RSI14Short.V, 1e-9, "no losses")

	assert.Len(t, sig.Intraday.MidPrices, 10)
	assert.Len(t, sig.Intraday.EMA20, 10)
	assert.Len(t, sig.Intraday.RSI7, 10)
	assert.Len(t, sig.LongTerm.MACD, 10)
	assert.Equal(t, 69.0, sig.LongTerm.CurrentVolume)
	assert.InDelta(t, 39.5, sig.LongTerm.AverageVolume, 1e-9)
	assert.True(t, sig.LongTerm.ATR3.OK)
	assert.Equal(t, domain.ProvenanceStream, sig.Provenance)
}

func TestCompute_ShortHistoryIsUnavailableNotZero(t *testing.T) {
	snap := snapshot(rising("3m", 5, 100, 1), rising("4h", 1, 100, 1))

	sig, err := Compute(snap, ComputeConfig{})
	require.NoError(t, err)
	assert.False(t, sig.EMA20Short.OK)
	assert.False(t, sig.MACDShort.OK)
	assert.False(t, sig.RSI14Short.OK)
	assert.False(t, sig.ATR14Long.OK)
	assert.False(t, sig.PriceChangeShort.OK)
	assert.False(t, sig.PriceChangeLong.OK)
	assert.Empty(t, sig.Intraday.EMA20)

	raw, err := json.Marshal(sig)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Nil(t, decoded["ema20_short"], "unavailable encodes as null")
	assert.Nil(t, decoded["rsi14_long"])
}

func TestCompute_PricePreference(t *testing.T) {
	snap := snapshot(nil, rising("4h", 3, 10, 1))
	sig, err := Compute(snap, ComputeConfig{})
	require.NoError(t, err)
	assert.Equal(t, 12.0, sig.Price, "falls back to newest long close")

	snap.Price, snap.HasPrice = 99, true
	sig, err = Compute(snap, ComputeConfig{})
	require.NoError(t, err)
	assert.Equal(t, 99.0, sig.Price)
}

func TestCompute_Errors(t *testing.T) {
	_, err := Compute(domain.ErrorSnapshot("BTC/USDT", errors.New("both transports down")), ComputeConfig{})
	assert.ErrorIs(t, err, ports.ErrInsufficientData)

	_, err = Compute(snapshot(nil, nil), ComputeConfig{})
	assert.ErrorIs(t, err, ports.ErrInsufficientData)
}

// mockDerivatives returns fixed open interest per symbol.
type mockDerivatives struct {
	oi      map[string]float64
	oiErr   error
	funding float64
}

func (m *mockDerivatives) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	if m.oiErr != nil {
		return 0, m.oiErr
	}
	return m.oi[symbol], nil
}

func (m *mockDerivatives) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return m.funding, nil
}

func TestAnalyzer_Policy(t *testing.T) {
	full := func(sym string, isPosition bool) domain.MarketSnapshot {
		s := snapshot(rising("3m", 30, 100, 1), rising("4h", 30, 100, 1))
		s.Symbol = sym
		s.IsPosition = isPosition
		return s
	}
	short := full("SHORT/USDT", false)
	short.LongKlines = short.LongKlines[:19]

	snapshots := map[string]domain.MarketSnapshot{
		"BTC/USDT":   full("BTC/USDT", false),  // liquid
		"THIN/USDT":  full("THIN/USDT", false), // new and illiquid: dropped
		"HELD/USDT":  full("HELD/USDT", true),  // held and illiquid: kept
		"NOOI/USDT":  full("NOOI/USDT", false), // unknown OI: dropped
		"SHORT/USDT": short,
		"ERR/USDT":   domain.ErrorSnapshot("ERR/USDT", errors.New("timeout")),
	}
	// Price is 129 for every symbol.
	market := &mockDerivatives{
		oi: map[string]float64{
			"BTC/USDT":  200_000, // ~25.8M
			"THIN/USDT": 1_000,
			"HELD/USDT": 1_000,
		},
		funding: 0.0001,
	}

	a, err := NewAnalyzer(Config{MinKlines: 20, LiquidityFilter: true, Market: market, Logger: &mockLogger{}})
	require.NoError(t, err)

	out := a.Analyze(context.Background(), snapshots)
	assert.ElementsMatch(t, []string{"BTC/USDT", "HELD/USDT"}, keys(out))

	btc := out["BTC/USDT"]
	assert.Equal(t, 200_000.0, btc.OpenInterest.V)
	assert.InDelta(t, 200_000*129.0, btc.OpenInterestValue.V, 1e-6)
	assert.Equal(t, 0.0001, btc.FundingRate.V)
}

func TestAnalyzer_NoFilterNoMarket(t *testing.T) {
	s := snapshot(rising("3m", 20, 100, 1), rising("4h", 20, 100, 1))
	a, err := NewAnalyzer(Config{MinKlines: 20, Logger: &mockLogger{}})
	require.NoError(t, err)

	out := a.Analyze(context.Background(), map[string]domain.MarketSnapshot{"BTC/USDT": s})
	require.Contains(t, out, "BTC/USDT")
	assert.False(t, out["BTC/USDT"].OpenInterest.OK)
}

func TestAnalyzer_FilterDisabledKeepsUnknownOI(t *testing.T) {
	s := snapshot(rising("3m", 25, 100, 1), rising("4h", 25, 100, 1))
	market := &mockDerivatives{oiErr: errors.New("503")}
	a, err := NewAnalyzer(Config{MinKlines: 20, LiquidityFilter: false, Market: market, Logger: &mockLogger{}})
	require.NoError(t, err)

	out := a.Analyze(context.Background(), map[string]domain.MarketSnapshot{"BTC/USDT": s})
	assert.Contains(t, out, "BTC/USDT")
}

func TestNewAnalyzer_Validation(t *testing.T) {
	_, err := NewAnalyzer(Config{})
	assert.Error(t, err)
	_, err = NewAnalyzer(Config{MinKlines: -1, Logger: &mockLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func keys(m map[string]SignalSnapshot) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
