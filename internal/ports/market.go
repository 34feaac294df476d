package ports

import (
	"context"

	"cryptoDataPipe/internal/domain"
)

// KlineFetcher retrieves historical klines over REST.
type KlineFetcher interface {
	// GetKlines returns up to limit klines in ascending open-time order.
	// An empty result is not an error.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)
}

// MarketDataClient is the REST source used as fallback and for derivatives context.
type MarketDataClient interface {
	KlineFetcher

	// GetOpenInterest returns the open interest for a symbol in base asset units.
	GetOpenInterest(ctx context.Context, symbol string) (float64, error)

	// GetFundingRate returns the last funding rate for a perpetual symbol.
	GetFundingRate(ctx context.Context, symbol string) (float64, error)

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error
}
