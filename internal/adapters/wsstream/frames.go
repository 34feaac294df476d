package wsstream

import (
	"encoding/json"
	"strings"
)

// controlFrame is an outbound SUBSCRIBE/UNSUBSCRIBE request.
type controlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

type ackError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// inboundFrame holds the union of fields used to classify a message.
// encoding/json matches keys case-insensitively, so upper-case keys that
// share a letter with a field we read ("E" vs "e") get their own field.
type inboundFrame struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *ackError       `json:"error"`

	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     *struct {
		Interval string `json:"i"`
	} `json:"k"`
}

// frameKind is the classification of an inbound message.
type frameKind int

const (
	frameUnknown frameKind = iota
	frameAck
	frameEvent
	frameEnvelope
)

func (k frameKind) String() string {
	switch k {
	case frameAck:
		return "ack"
	case frameEvent:
		return "event"
	case frameEnvelope:
		return "envelope"
	default:
		return "unknown"
	}
}

// classify decides what a decoded frame is. Acks carry an id and neither an
// event type nor a stream name; envelopes carry stream+data; single-channel
// events carry an event type and a symbol.
func classify(f *inboundFrame) frameKind {
	switch {
	case f.ID != nil && f.Event == "" && f.Stream == "":
		return frameAck
	case f.Stream != "" && len(f.Data) > 0:
		return frameEnvelope
	case f.Event != "" && f.Symbol != "":
		return frameEvent
	default:
		return frameUnknown
	}
}

// eventChannel derives the channel name a single-channel event belongs to.
func eventChannel(f *inboundFrame) string {
	sym := strings.ToLower(f.Symbol)
	switch f.Event {
	case "kline":
		if f.Kline != nil && f.Kline.Interval != "" {
			return sym + "@kline_" + f.Kline.Interval
		}
		return sym + "@kline"
	case "24hrTicker":
		return sym + "@ticker"
	default:
		return sym + "@" + f.Event
	}
}
