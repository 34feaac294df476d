package ports

import (
	"context"
	"encoding/json"
)

// HandlerID identifies one handler registration on a channel.
type HandlerID uint64

// StreamHandler receives the raw data payload of one stream message.
// Handlers run on the transport's receive goroutine and must not block.
type StreamHandler func(ctx context.Context, channel string, data json.RawMessage) error

// AckOutcome reports how the server answered a subscription request.
type AckOutcome int

const (
	AckPending AckOutcome = iota
	AckConfirmed
	AckRejected
)

// StreamTransport is a long-lived duplex connection that multiplexes named
// channels over a single socket.
type StreamTransport interface {
	// Subscribe registers handler for channel. When connected, the subscription
	// request is sent and Subscribe waits (bounded by ctx) for its acknowledgment.
	// When disconnected, the registration is kept and sent on the next connect.
	Subscribe(ctx context.Context, channel string, handler StreamHandler) (HandlerID, error)

	// Unsubscribe removes a handler registration. When the last handler of a
	// channel is removed the server-side subscription is dropped as well.
	// A zero id removes every handler on the channel.
	Unsubscribe(ctx context.Context, channel string, id HandlerID) error

	// IsConnected reports whether the socket is currently open.
	IsConnected() bool
}
