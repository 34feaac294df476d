package domain

// CoinInfo is one entry of the ranked coin pool.
type CoinInfo struct {
	Symbol          string  `json:"symbol"`
	Score           float64 `json:"score"`
	StartTime       int64   `json:"start_time"`
	StartPrice      float64 `json:"start_price"`
	LastScore       float64 `json:"last_score"`
	MaxScore        float64 `json:"max_score"`
	MaxPrice        float64 `json:"max_price"`
	IncreasePercent float64 `json:"increase_percent"`
	IsAvailable     bool    `json:"is_available"`
}

// OIPosition is one entry of the open-interest growth ranking.
type OIPosition struct {
	Symbol          string  `json:"symbol"`
	Rank            int     `json:"rank"`
	OIChange        float64 `json:"oi_change"`
	OIChangePercent float64 `json:"oi_change_percent"`
	TimeRange       string  `json:"time_range"`
}

// DefaultMainstreamCoins is the fallback candidate list used when the ranked
// source is disabled or unavailable.
var DefaultMainstreamCoins = []string{
	"BTC/USDT",
	"ETH/USDT",
	"SOL/USDT",
	"BNB/USDT",
	"XRP/USDT",
	"DOGE/USDT",
	"ADA/USDT",
	"HYPE/USDT",
}
