// Package rankedsource fetches ranked symbol lists (coin pool, open-interest
// growth ranking) from third-party HTTP JSON endpoints.
package rankedsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/ports"
)

// Config holds configuration for the ranked-symbol HTTP source.
type Config struct {
	CoinPoolURL string
	OITopURL    string
	Timeout     time.Duration // Per request (default 30s)
	Logger      ports.Logger
}

// Client fetches and normalizes ranked symbol lists. Retries and caching are
// left to the caller.
type Client struct {
	http        *resty.Client
	coinPoolURL string
	oiTopURL    string
	logger      ports.Logger
}

// New creates a ranked-symbol source client.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ranked source client")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "cryptoDataPipe/1.0")

	return &Client{
		http:        httpClient,
		coinPoolURL: strings.TrimSpace(cfg.CoinPoolURL),
		oiTopURL:    strings.TrimSpace(cfg.OITopURL),
		logger:      cfg.Logger,
	}, nil
}

// HasCoinPool reports whether a coin-pool URL is configured.
func (c *Client) HasCoinPool() bool { return c.coinPoolURL != "" }

// HasOITop reports whether an OI-ranking URL is configured.
func (c *Client) HasOITop() bool { return c.oiTopURL != "" }

// FetchCoinPool requests the coin pool once.
func (c *Client) FetchCoinPool(ctx context.Context) ([]domain.CoinInfo, error) {
	if !c.HasCoinPool() {
		return nil, fmt.Errorf("coin pool url not set: %w", ports.ErrConfigurationError)
	}
	env, err := c.fetch(ctx, "coin_pool", c.coinPoolURL, keyCoins)
	if err != nil {
		return nil, err
	}
	coins, err := env.coins(c.skipItem(ctx, "coin_pool"))
	if err != nil {
		return nil, fmt.Errorf("coin pool: %w", err)
	}
	c.logger.Info(ctx, "Fetched coin pool", map[string]interface{}{"coins": len(coins), "layout": env.Shape.String()})
	return coins, nil
}

// FetchOITop requests the open-interest growth ranking once.
func (c *Client) FetchOITop(ctx context.Context) ([]domain.OIPosition, error) {
	if !c.HasOITop() {
		return nil, fmt.Errorf("oi top url not set: %w", ports.ErrConfigurationError)
	}
	env, err := c.fetch(ctx, "oi_top", c.oiTopURL, keyPositions)
	if err != nil {
		return nil, err
	}
	positions, err := env.positions(c.skipItem(ctx, "oi_top"))
	if err != nil {
		return nil, fmt.Errorf("oi top: %w", err)
	}
	c.logger.Info(ctx, "Fetched OI ranking", map[string]interface{}{"positions": len(positions), "timeRange": env.TimeRange, "layout": env.Shape.String()})
	return positions, nil
}

func (c *Client) fetch(ctx context.Context, source, url string, key listKey) (envelope, error) {
	c.logger.Debug(ctx, "Requesting ranked source", map[string]interface{}{"source": source, "url": url})

	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return envelope{}, fmt.Errorf("%s request: %w: %w", source, ports.ErrTimeout, err)
		}
		return envelope{}, fmt.Errorf("%s request: %w: %w", source, ports.ErrConnectionFailed, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return envelope{}, fmt.Errorf("%s request: status %d: %w", source, code, ports.ErrRateLimited)
	case code >= 500:
		return envelope{}, fmt.Errorf("%s request: status %d: %w", source, code, ports.ErrExchangeUnavailable)
	case resp.IsError():
		return envelope{}, fmt.Errorf("%s request: status %d, body: %s: %w", source, code, truncate(resp.String(), 200), ports.ErrInvalidRequest)
	}

	env, err := parseEnvelope(resp.Body(), key)
	if err != nil {
		return envelope{}, fmt.Errorf("%s response: %w", source, err)
	}
	return env, nil
}

// skipItem logs an item dropped from an otherwise usable list.
func (c *Client) skipItem(ctx context.Context, source string) func(int, error) {
	return func(i int, err error) {
		c.logger.Warn(ctx, "Skipping malformed ranked item", map[string]interface{}{"source": source, "index": i, "error": err.Error()})
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
