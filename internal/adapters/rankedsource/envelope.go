package rankedsource

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cryptoDataPipe/internal/domain"
	"cryptoDataPipe/internal/ports"
)

// shape identifies which of the accepted response layouts a body used.
type shape int

const (
	shapeBareList shape = iota // [...]
	shapeTopList               // {"coins":[...]} or {"positions":[...]}
	shapeNested                // {"data":{"coins":[...]}} or {"data":{"positions":[...]}}
	shapeDataList              // {"data":[...]}
)

func (s shape) String() string {
	switch s {
	case shapeBareList:
		return "list"
	case shapeTopList:
		return "top-level"
	case shapeNested:
		return "data-object"
	case shapeDataList:
		return "data-list"
	}
	return "unknown"
}

// envelope is a decoded response: the item list plus whatever metadata the
// layout carried.
type envelope struct {
	Shape     shape
	Items     []json.RawMessage
	TimeRange string
}

type objectBody struct {
	Success   *bool           `json:"success"`
	Coins     json.RawMessage `json:"coins"`
	Positions json.RawMessage `json:"positions"`
	Data      json.RawMessage `json:"data"`
}

type nestedBody struct {
	Coins     json.RawMessage `json:"coins"`
	Positions json.RawMessage `json:"positions"`
	TimeRange string          `json:"time_range"`
}

// listKey selects the item list inside object layouts.
type listKey string

const (
	keyCoins     listKey = "coins"
	keyPositions listKey = "positions"
)

// parseEnvelope accepts every layout the ranked sources are known to send.
// An explicit "success": false and an empty item list are errors.
func parseEnvelope(body []byte, key listKey) (envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return envelope{}, fmt.Errorf("empty response body: %w", ports.ErrMalformedPayload)
	}

	var env envelope
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &env.Items); err != nil {
			return envelope{}, fmt.Errorf("decode list: %w: %v", ports.ErrMalformedPayload, err)
		}
		env.Shape = shapeBareList
	case '{':
		var obj objectBody
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return envelope{}, fmt.Errorf("decode object: %w: %v", ports.ErrMalformedPayload, err)
		}
		if obj.Success != nil && !*obj.Success {
			return envelope{}, fmt.Errorf("source reported success=false: %w", ports.ErrExchangeUnavailable)
		}
		data := bytes.TrimSpace(obj.Data)
		top := obj.Coins
		if key == keyPositions {
			top = obj.Positions
		}
		switch {
		case len(data) > 0 && data[0] == '{':
			var nested nestedBody
			if err := json.Unmarshal(data, &nested); err != nil {
				return envelope{}, fmt.Errorf("decode data object: %w: %v", ports.ErrMalformedPayload, err)
			}
			list := nested.Coins
			if key == keyPositions {
				list = nested.Positions
			}
			if err := decodeItems(list, &env.Items); err != nil {
				return envelope{}, err
			}
			env.Shape = shapeNested
			env.TimeRange = nested.TimeRange
		case len(top) > 0:
			if err := decodeItems(top, &env.Items); err != nil {
				return envelope{}, err
			}
			env.Shape = shapeTopList
		case len(data) > 0 && data[0] == '[':
			if err := decodeItems(data, &env.Items); err != nil {
				return envelope{}, err
			}
			env.Shape = shapeDataList
		default:
			return envelope{}, fmt.Errorf("no %s list in response: %w", key, ports.ErrMalformedPayload)
		}
	default:
		return envelope{}, fmt.Errorf("unexpected response type: %w", ports.ErrMalformedPayload)
	}

	if len(env.Items) == 0 {
		return envelope{}, fmt.Errorf("%s list is empty: %w", key, ports.ErrMalformedPayload)
	}
	return env, nil
}

func decodeItems(raw json.RawMessage, out *[]json.RawMessage) error {
	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode items: %w: %v", ports.ErrMalformedPayload, err)
	}
	return nil
}

// number accepts a JSON number, a numeric string or null.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*n = number(f)
	return nil
}

type coinItem struct {
	Symbol          string `json:"symbol"`
	Pair            string `json:"pair"`
	Score           number `json:"score"`
	StartTime       number `json:"start_time"`
	StartPrice      number `json:"start_price"`
	LastScore       number `json:"last_score"`
	MaxScore        number `json:"max_score"`
	MaxPrice        number `json:"max_price"`
	IncreasePercent number `json:"increase_percent"`
	IsAvailable     *bool  `json:"is_available"`
}

type positionItem struct {
	Symbol          string `json:"symbol"`
	Rank            number `json:"rank"`
	OIChange        number `json:"oi_change"`
	OIChangePercent number `json:"oi_change_percent"`
	TimeRange       string `json:"time_range"`
}

// itemString returns the symbol when an item is a bare JSON string.
func itemString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// coins converts the envelope items to coin-pool entries. Items without a
// usable symbol are dropped; items that fail to decode are reported to skip
// and dropped.
func (e envelope) coins(skip func(i int, err error)) ([]domain.CoinInfo, error) {
	out := make([]domain.CoinInfo, 0, len(e.Items))
	for i, raw := range e.Items {
		if s, ok := itemString(raw); ok {
			if sym := domain.NormalizeSymbol(s); sym != "" {
				out = append(out, domain.CoinInfo{Symbol: sym, IsAvailable: true})
			}
			continue
		}
		var it coinItem
		if err := json.Unmarshal(raw, &it); err != nil {
			skip(i, fmt.Errorf("decode coin item %d: %w: %v", i, ports.ErrMalformedPayload, err))
			continue
		}
		name := it.Symbol
		if name == "" {
			name = it.Pair
		}
		sym := domain.NormalizeSymbol(name)
		if sym == "" {
			continue
		}
		available := true
		if it.IsAvailable != nil {
			available = *it.IsAvailable
		}
		out = append(out, domain.CoinInfo{
			Symbol:          sym,
			Score:           float64(it.Score),
			StartTime:       int64(it.StartTime),
			StartPrice:      float64(it.StartPrice),
			LastScore:       float64(it.LastScore),
			MaxScore:        float64(it.MaxScore),
			MaxPrice:        float64(it.MaxPrice),
			IncreasePercent: float64(it.IncreasePercent),
			IsAvailable:     available,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable symbols in coin list: %w", ports.ErrMalformedPayload)
	}
	return out, nil
}

// positions converts the envelope items to OI ranking entries. Ranks default
// to list order when the source omits them. Undecodable items go to skip.
func (e envelope) positions(skip func(i int, err error)) ([]domain.OIPosition, error) {
	out := make([]domain.OIPosition, 0, len(e.Items))
	for i, raw := range e.Items {
		if s, ok := itemString(raw); ok {
			if sym := domain.NormalizeSymbol(s); sym != "" {
				out = append(out, domain.OIPosition{Symbol: sym, Rank: len(out) + 1, TimeRange: e.TimeRange})
			}
			continue
		}
		var it positionItem
		if err := json.Unmarshal(raw, &it); err != nil {
			skip(i, fmt.Errorf("decode position item %d: %w: %v", i, ports.ErrMalformedPayload, err))
			continue
		}
		sym := domain.NormalizeSymbol(it.Symbol)
		if sym == "" {
			continue
		}
		rank := int(it.Rank)
		if rank <= 0 {
			rank = len(out) + 1
		}
		tr := it.TimeRange
		if tr == "" {
			tr = e.TimeRange
		}
		out = append(out, domain.OIPosition{
			Symbol:          sym,
			Rank:            rank,
			OIChange:        float64(it.OIChange),
			OIChangePercent: float64(it.OIChangePercent),
			TimeRange:       tr,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable symbols in position list: %w", ports.ErrMalformedPayload)
	}
	return out, nil
}
