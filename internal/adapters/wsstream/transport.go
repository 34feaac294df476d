package wsstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"cryptoDataPipe/internal/metrics"
	"cryptoDataPipe/internal/ports"
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultReconnectDelay    = 5 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
	defaultReadTimeout       = 60 * time.Second
	defaultPingInterval      = 20 * time.Second
	defaultWriteTimeout      = 5 * time.Second
	maxMessageSize           = 1 << 20
)

// Config holds configuration for the stream transport.
type Config struct {
	URL               string
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration // First reconnect wait, doubled per failure
	MaxReconnectDelay time.Duration
	ReadTimeout       time.Duration // Connection is considered dead without any frame or pong for this long
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	Logger            ports.Logger
}

type subscription struct {
	handlers map[ports.HandlerID]ports.StreamHandler
}

type pendingAck struct {
	done     chan error // nil for fire-and-forget requests (resubscribe batches)
	method   string
	channels []string
}

// Transport is a single long-lived websocket connection multiplexing many
// named channels. It implements ports.StreamTransport.
//
// One goroutine owns reading and reconnecting; handlers run on it in arrival
// order. Data frames from any goroutine are serialized by writeMu; control
// frames go through WriteControl, which gorilla allows concurrently.
type Transport struct {
	cfg    Config
	logger ports.Logger
	dialer *websocket.Dialer

	writeMu sync.Mutex

	mu        sync.Mutex
	conn      *websocket.Conn
	subs      map[string]*subscription
	pending   map[uint64]*pendingAck
	handlerID ports.HandlerID
	cancel    context.CancelFunc
	done      chan struct{}

	requestID atomic.Uint64
	connected atomic.Bool
}

var _ ports.StreamTransport = (*Transport)(nil)

// New creates a transport. Nothing is dialed until Connect or Start.
func New(cfg Config) (*Transport, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for stream transport")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("stream URL is required: %w", ports.ErrConfigurationError)
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = defaultMaxReconnectDelay
		if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
			cfg.MaxReconnectDelay = cfg.ReconnectDelay
		}
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PingInterval >= cfg.ReadTimeout {
		cfg.PingInterval = cfg.ReadTimeout / 3
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	return &Transport{
		cfg:     cfg,
		logger:  cfg.Logger,
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: websocket.DefaultDialer.Proxy},
		subs:    make(map[string]*subscription),
		pending: make(map[uint64]*pendingAck),
	}, nil
}

// IsConnected reports whether the socket is currently open.
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// Channels returns the registered channel names, sorted.
func (t *Transport) Channels() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channelsLocked()
}

func (t *Transport) channelsLocked() []string {
	out := make([]string, 0, len(t.subs))
	for ch := range t.subs {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Connect dials the server. If channels are already registered they are
// re-requested in one batched SUBSCRIBE frame.
func (t *Transport) Connect(ctx context.Context) error {
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w: %w", t.cfg.URL, ports.ErrConnectionFailed, err)
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
	})
	// Binance pings every few minutes and drops clients that do not answer.
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(t.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.connected.Store(true)
	channels := t.channelsLocked()
	t.mu.Unlock()

	metrics.StreamConnected.Set(1)
	t.logger.Info(ctx, "Stream connected", map[string]interface{}{"url": t.cfg.URL, "channels": len(channels)})

	if len(channels) > 0 {
		id := t.nextRequestID()
		t.registerPending(id, &pendingAck{method: "SUBSCRIBE", channels: channels})
		if err := t.writeControl(conn, controlFrame{Method: "SUBSCRIBE", Params: channels, ID: id}); err != nil {
			t.takePending(id)
			t.dropConn(conn)
			t.logger.Error(ctx, err, "Failed to resubscribe after connect", map[string]interface{}{"channels": len(channels)})
			return fmt.Errorf("resubscribe: %w: %w", ports.ErrConnectionFailed, err)
		}
		t.logger.Info(ctx, "Resubscribed channels", map[string]interface{}{"channels": len(channels), "requestID": id})
	}
	return nil
}

// Start launches the receive loop. A failed initial connect is not fatal:
// the loop keeps retrying with backoff until Stop is called.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.done != nil {
		t.mu.Unlock()
		return fmt.Errorf("stream transport already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	t.done = make(chan struct{})
	hasConn := t.conn != nil
	t.mu.Unlock()

	if !hasConn {
		if err := t.Connect(runCtx); err != nil {
			t.logger.Warn(ctx, "Initial stream connect failed, will retry", map[string]interface{}{"error": err.Error()})
		}
	}

	go t.run(runCtx)
	return nil
}

// Stop ends the receive loop, closes the socket and fails pending acks.
func (t *Transport) Stop() {
	t.mu.Lock()
	cancel, done, conn := t.cancel, t.done, t.conn
	t.mu.Unlock()

	if cancel == nil {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	cancel()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-done
	t.failPending(ports.ErrTransportStopped)
	t.logger.Info(context.Background(), "Stream transport stopped")
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)

	b := &backoff.Backoff{
		Min:    t.cfg.ReconnectDelay,
		Max:    t.cfg.MaxReconnectDelay,
		Factor: 2,
	}

	for {
		conn := t.currentConn()
		if conn == nil {
			if err := t.Connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				wait := b.Duration()
				t.logger.Warn(ctx, "Stream reconnect failed", map[string]interface{}{"error": err.Error(), "retryIn": wait.String()})
				if !sleep(ctx, wait) {
					return
				}
				continue
			}
			metrics.StreamReconnectsTotal.Inc()
			b.Reset()
			continue
		}

		err := t.readLoop(ctx, conn)
		t.dropConn(conn)
		if ctx.Err() != nil {
			return
		}
		wait := b.Duration()
		t.logger.Warn(ctx, "Stream disconnected, reconnecting", map[string]interface{}{"error": fmt.Sprint(err), "retryIn": wait.String()})
		if !sleep(ctx, wait) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (t *Transport) currentConn() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *Transport) dropConn(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.connected.Store(false)
	}
	t.mu.Unlock()
	_ = conn.Close()
	metrics.StreamConnected.Set(0)
	t.failPending(ports.ErrNotConnected)
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go t.pingLoop(pingCtx, conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		t.handleMessage(ctx, message)
	}
}

func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage when the transport is stopping.
			_ = conn.Close()
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout))
			if err != nil {
				t.logger.Debug(ctx, "Stream ping failed", map[string]interface{}{"error": err.Error()})
				return
			}
		}
	}
}

func (t *Transport) handleMessage(ctx context.Context, message []byte) {
	var f inboundFrame
	if err := json.Unmarshal(message, &f); err != nil {
		metrics.StreamFramesTotal.WithLabelValues(frameUnknown.String()).Inc()
		t.logger.Debug(ctx, "Dropping undecodable stream frame", map[string]interface{}{"error": err.Error(), "size": len(message)})
		return
	}

	kind := classify(&f)
	metrics.StreamFramesTotal.WithLabelValues(kind.String()).Inc()

	switch kind {
	case frameAck:
		t.handleAck(ctx, *f.ID, f.Error)
	case frameEnvelope:
		t.dispatch(ctx, f.Stream, f.Data)
	case frameEvent:
		t.dispatch(ctx, eventChannel(&f), json.RawMessage(message))
	default:
		t.logger.Debug(ctx, "Dropping unrecognized stream frame", map[string]interface{}{"size": len(message)})
	}
}

func (t *Transport) handleAck(ctx context.Context, id uint64, ackErr *ackError) {
	p := t.takePending(id)
	if p == nil {
		t.logger.Debug(ctx, "Ack for unknown or expired request", map[string]interface{}{"requestID": id})
		return
	}

	var err error
	if ackErr != nil {
		err = fmt.Errorf("%s %v rejected (code %d: %s): %w", p.method, p.channels, ackErr.Code, ackErr.Msg, ports.ErrSubscriptionRejected)
		t.logger.Warn(ctx, "Stream request rejected", map[string]interface{}{"requestID": id, "method": p.method, "code": ackErr.Code, "msg": ackErr.Msg})
	} else {
		t.logger.Debug(ctx, "Stream request acknowledged", map[string]interface{}{"requestID": id, "method": p.method, "channels": len(p.channels)})
	}
	if p.done != nil {
		p.done <- err
	}
}

func (t *Transport) dispatch(ctx context.Context, channel string, data json.RawMessage) {
	t.mu.Lock()
	sub, ok := t.subs[channel]
	var handlers []ports.StreamHandler
	if ok {
		ids := make([]ports.HandlerID, 0, len(sub.handlers))
		for id := range sub.handlers {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			handlers = append(handlers, sub.handlers[id])
		}
	}
	t.mu.Unlock()

	if len(handlers) == 0 {
		t.logger.Debug(ctx, "No handler for stream channel", map[string]interface{}{"channel": channel})
		return
	}
	for _, h := range handlers {
		t.invoke(ctx, channel, data, h)
	}
}

// invoke runs one handler, containing its errors and panics.
func (t *Transport) invoke(ctx context.Context, channel string, data json.RawMessage, h ports.StreamHandler) {
	defer func() {
		if r := recover(); r != nil {
			metrics.StreamHandlerErrorsTotal.WithLabelValues("panic").Inc()
			t.logger.Error(ctx, fmt.Errorf("panic: %v", r), "Stream handler panicked", map[string]interface{}{"channel": channel})
		}
	}()
	if err := h(ctx, channel, data); err != nil {
		metrics.StreamHandlerErrorsTotal.WithLabelValues("error").Inc()
		t.logger.Warn(ctx, "Stream handler returned error", map[string]interface{}{"channel": channel, "error": err.Error()})
	}
}

// Subscribe registers handler for channel; see ports.StreamTransport.
// If the transport is disconnected the id is returned together with
// ErrNotConnected and the channel is requested on the next connect.
func (t *Transport) Subscribe(ctx context.Context, channel string, handler ports.StreamHandler) (ports.HandlerID, error) {
	if channel == "" || handler == nil {
		return 0, fmt.Errorf("subscribe: channel and handler are required: %w", ports.ErrInvalidRequest)
	}

	t.mu.Lock()
	sub, exists := t.subs[channel]
	if !exists {
		sub = &subscription{handlers: make(map[ports.HandlerID]ports.StreamHandler)}
		t.subs[channel] = sub
	}
	t.handlerID++
	id := t.handlerID
	sub.handlers[id] = handler
	conn := t.conn
	t.mu.Unlock()

	if exists {
		// Server side subscription already requested for this channel.
		return id, nil
	}
	if conn == nil || !t.IsConnected() {
		t.logger.Debug(ctx, "Subscription queued until connected", map[string]interface{}{"channel": channel})
		return id, fmt.Errorf("subscribe %s: %w", channel, ports.ErrNotConnected)
	}

	err := t.request(ctx, conn, "SUBSCRIBE", []string{channel})
	if errors.Is(err, ports.ErrSubscriptionRejected) {
		t.removeChannel(channel)
		return 0, err
	}
	return id, err
}

// Unsubscribe removes a handler; id 0 removes all handlers on channel.
func (t *Transport) Unsubscribe(ctx context.Context, channel string, id ports.HandlerID) error {
	t.mu.Lock()
	sub, ok := t.subs[channel]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	if id == 0 {
		sub.handlers = map[ports.HandlerID]ports.StreamHandler{}
	} else {
		if _, found := sub.handlers[id]; !found {
			t.mu.Unlock()
			return fmt.Errorf("unsubscribe %s id %d: %w", channel, id, ports.ErrUnknownSubscriptionID)
		}
		delete(sub.handlers, id)
	}
	last := len(sub.handlers) == 0
	if last {
		delete(t.subs, channel)
	}
	conn := t.conn
	t.mu.Unlock()

	if !last || conn == nil || !t.IsConnected() {
		return nil
	}
	return t.request(ctx, conn, "UNSUBSCRIBE", []string{channel})
}

func (t *Transport) removeChannel(channel string) {
	t.mu.Lock()
	delete(t.subs, channel)
	t.mu.Unlock()
}

// request sends a control frame and waits for its ack, bounded by ctx.
func (t *Transport) request(ctx context.Context, conn *websocket.Conn, method string, channels []string) error {
	id := t.nextRequestID()
	done := make(chan error, 1)
	t.registerPending(id, &pendingAck{done: done, method: method, channels: channels})

	if err := t.writeControl(conn, controlFrame{Method: method, Params: channels, ID: id}); err != nil {
		t.takePending(id)
		return fmt.Errorf("%s %v: %w: %w", method, channels, ports.ErrNotConnected, err)
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		t.takePending(id)
		return fmt.Errorf("%s %v: %w: %w", method, channels, ports.ErrSubscriptionTimeout, ctx.Err())
	}
}

func (t *Transport) writeControl(conn *websocket.Conn, frame controlFrame) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteJSON(frame)
}

func (t *Transport) nextRequestID() uint64 {
	return t.requestID.Add(1)
}

func (t *Transport) registerPending(id uint64, p *pendingAck) {
	t.mu.Lock()
	t.pending[id] = p
	t.mu.Unlock()
}

func (t *Transport) takePending(id uint64) *pendingAck {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	return p
}

func (t *Transport) failPending(cause error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint64]*pendingAck)
	t.mu.Unlock()

	for _, p := range pending {
		if p.done != nil {
			p.done <- fmt.Errorf("%s %v: %w", p.method, p.channels, cause)
		}
	}
}
