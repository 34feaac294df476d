package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Max klines per request accepted by the futures endpoint
	maxKlinesPerRequest = 1500
)

// Client implements ports.MarketDataClient using the go-binance futures API.
// It is the REST fallback source for klines and the provider of
// open interest and funding rate context.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	callTimeout   time.Duration
}

var _ ports.MarketDataClient = (*Client)(nil)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	BaseURL     string        // Overrides the testnet/production URL when set
	CallTimeout time.Duration // Upper bound for a single REST call (default 10s)
	Logger      ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Only public market-data endpoints are used, keys are optional.
		cfg.Logger.Debug(context.Background(), "Binance client created without API keys, public endpoints only")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance REST client configured", map[string]interface{}{"baseURL": client.BaseURL, "testnet": cfg.UseTestnet})

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		callTimeout:   timeout,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string, fields map[string]interface{}) error {
	if err == nil {
		return nil
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["operation"] = operation

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1001, -1007: // Internal error / timeout waiting for backend
			mappedErr = ports.ErrExchangeUnavailable
		case -1021: // Timestamp outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Signature or key problems
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if errors.Is(err, ports.ErrMalformedPayload) {
		finalErr = fmt.Errorf("%s failed: %w", operation, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op, nil)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetKlines retrieves the newest limit klines in ascending order.
// An empty response is returned as an empty slice, not an error.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	exSymbol := domain.ExchangeSymbol(symbol)
	if limit <= 0 || limit > maxKlinesPerRequest {
		limit = maxKlinesPerRequest
	}
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	binanceKlines, err := c.futuresClient.NewKlinesService().Symbol(exSymbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op, map[string]interface{}{"symbol": exSymbol, "interval": interval})
	}

	domainKlines := c.translateKlines(ctx, binanceKlines, exSymbol, interval)

	c.logger.Debug(ctx, "Fetched klines over REST", map[string]interface{}{"symbol": exSymbol, "interval": interval, "count": len(domainKlines)})
	return domainKlines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	exSymbol := domain.ExchangeSymbol(symbol)
	var allKlines []*domain.Kline
	from := start

	for {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(exSymbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(callCtx)
		cancel()
		if err != nil {
			return nil, c.handleError(ctx, err, op, map[string]interface{}{"symbol": exSymbol, "interval": interval})
		}
		if len(klines) == 0 {
			break
		}
		allKlines = append(allKlines, c.translateKlines(ctx, klines, exSymbol, interval)...)
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesPerRequest {
			break
		}
	}

	return allKlines, nil
}

// GetOpenInterest returns the current open interest in contracts (base asset units).
func (c *Client) GetOpenInterest(ctx context.Context, symbol string) (float64, error) {
	op := "GetOpenInterest"
	exSymbol := domain.ExchangeSymbol(symbol)
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	oi, err := c.futuresClient.NewGetOpenInterestService().Symbol(exSymbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op, map[string]interface{}{"symbol": exSymbol})
	}
	if oi == nil {
		return 0, c.handleError(ctx, fmt.Errorf("empty open interest response: %w", ports.ErrMalformedPayload), op, map[string]interface{}{"symbol": exSymbol})
	}
	value, err := strconv.ParseFloat(oi.OpenInterest, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse open interest '%s': %w: %w", oi.OpenInterest, ports.ErrMalformedPayload, err)
		return 0, c.handleError(ctx, parseErr, op, map[string]interface{}{"symbol": exSymbol})
	}
	return value, nil
}

// GetFundingRate returns the last funding rate of a perpetual contract.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	op := "GetFundingRate"
	exSymbol := domain.ExchangeSymbol(symbol)
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	indexes, err := c.futuresClient.NewPremiumIndexService().Symbol(exSymbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op, map[string]interface{}{"symbol": exSymbol})
	}
	if len(indexes) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no premium index returned for %s: %w", exSymbol, ports.ErrMalformedPayload), op, nil)
	}
	rate, err := strconv.ParseFloat(indexes[0].LastFundingRate, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse funding rate '%s': %w: %w", indexes[0].LastFundingRate, ports.ErrMalformedPayload, err)
		return 0, c.handleError(ctx, parseErr, op, map[string]interface{}{"symbol": exSymbol})
	}
	return rate, nil
}

// translateKlines converts REST rows in order, logging and dropping rows
// that cannot be parsed.
func (c *Client) translateKlines(ctx context.Context, rows []*futures.Kline, symbol, interval string) []*domain.Kline {
	out := make([]*domain.Kline, 0, len(rows))
	for i, bk := range rows {
		dk, err := translateBinanceKline(bk, symbol, interval)
		if err != nil {
			c.logger.Warn(ctx, "Skipping malformed kline row", map[string]interface{}{"symbol": symbol, "interval": interval, "row": i, "error": err.Error()})
			continue
		}
		out = append(out, dk)
	}
	return out
}

// translateBinanceKline converts a REST kline into a domain kline.
func translateBinanceKline(bk *futures.Kline, symbol, interval string) (*domain.Kline, error) {
	if bk == nil {
		return nil, fmt.Errorf("received nil historical kline: %w", ports.ErrMalformedPayload)
	}
	parse := func(name, raw string) (float64, error) {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %s '%s': %w: %w", name, raw, ports.ErrMalformedPayload, err)
		}
		return v, nil
	}

	open, err := parse("open price", bk.Open)
	if err != nil {
		return nil, err
	}
	high, err := parse("high price", bk.High)
	if err != nil {
		return nil, err
	}
	low, err := parse("low price", bk.Low)
	if err != nil {
		return nil, err
	}
	cls, err := parse("close price", bk.Close)
	if err != nil {
		return nil, err
	}
	vol, err := parse("volume", bk.Volume)
	if err != nil {
		return nil, err
	}
	var quoteVol float64
	if bk.QuoteAssetVolume != "" {
		if quoteVol, err = parse("quote volume", bk.QuoteAssetVolume); err != nil {
			return nil, err
		}
	}

	k := &domain.Kline{
		OpenTime:    time.UnixMilli(bk.OpenTime),
		Symbol:      symbol, // Use passed symbol as it's not in futures.Kline
		Interval:    interval,
		Open:        open,
		High:        high,
		Low:         low,
		Close:       cls,
		Volume:      vol,
		QuoteVolume: quoteVol,
		Trades:      bk.TradeNum,
		IsFinal:     true, // Historical klines are treated as final
	}
	if bk.CloseTime > 0 {
		k.CloseTime = time.UnixMilli(bk.CloseTime)
	}
	k.FillDerived()
	return k, nil
}
