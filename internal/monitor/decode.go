package monitor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/ports"
)

// klineEvent is the Binance futures kline payload. Every key of the "k"
// object is declared, even unused ones: encoding/json falls back to
// case-insensitive matching, so an undeclared "L" would land in "l".
type klineEvent struct {
	EventType string        `json:"e"`
	EventTime int64         `json:"E"`
	Symbol    string        `json:"s"`
	Kline     *klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime      int64  `json:"t"`
	CloseTime     int64  `json:"T"`
	Symbol        string `json:"s"`
	Interval      string `json:"i"`
	FirstTradeID  int64  `json:"f"`
	LastTradeID   int64  `json:"L"`
	Open          string `json:"o"`
	Close         string `json:"c"`
	High          string `json:"h"`
	Low           string `json:"l"`
	Volume        string `json:"v"`
	Trades        int64  `json:"n"`
	IsFinal       bool   `json:"x"`
	QuoteVolume   string `json:"q"`
	TakerBuyBase  string `json:"V"`
	TakerBuyQuote string `json:"Q"`
	Ignore        string `json:"B"`
}

// decodeKline parses a kline stream payload into a domain kline. The payload
// must carry the expected interval; prices arrive as decimal strings.
func decodeKline(data json.RawMessage, wantInterval string) (*domain.Kline, error) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedPayload, err)
	}
	if ev.EventType != "kline" || ev.Kline == nil {
		return nil, fmt.Errorf("%w: not a kline event (e=%q)", ports.ErrMalformedPayload, ev.EventType)
	}
	k := ev.Kline
	if k.OpenTime <= 0 {
		return nil, fmt.Errorf("%w: kline without open time", ports.ErrMalformedPayload)
	}
	if wantInterval != "" && k.Interval != wantInterval {
		return nil, fmt.Errorf("%w: interval %q on %s channel", ports.ErrMalformedPayload, k.Interval, wantInterval)
	}

	symbol := k.Symbol
	if symbol == "" {
		symbol = ev.Symbol
	}

	var vals [5]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d value %q: %v", ports.ErrMalformedPayload, i, s, err)
		}
		vals[i] = v
	}

	out := &domain.Kline{
		OpenTime: time.UnixMilli(k.OpenTime),
		Symbol:   strings.ToUpper(symbol),
		Interval: k.Interval,
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
		Trades:   k.Trades,
		IsFinal:  k.IsFinal,
	}
	if k.CloseTime > 0 {
		out.CloseTime = time.UnixMilli(k.CloseTime)
	}
	if qv, err := strconv.ParseFloat(k.QuoteVolume, 64); err == nil {
		out.QuoteVolume = qv
	}
	out.FillDerived()

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedPayload, err)
	}
	return out, nil
}
