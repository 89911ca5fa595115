package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/atelier/internal/chat"
	"github.com/tOgg1/atelier/internal/logging"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultReconnectAttempts = 10
	defaultReconnectDelay    = 500 * time.Millisecond
	defaultWriteTimeout      = 5 * time.Second
	defaultReadLimit         = 1 << 20
)

// State is the lifecycle state of a Conn.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Handler receives the data of a push event.
type Handler = func(data json.RawMessage)

// Options configures a Conn.
type Options struct {
	URL       string
	ViewerUID string

	DialTimeout time.Duration
	// ReconnectAttempts is the number of reconnects tried after a disconnect
	// (and after the initial attempt) before the channel fails. A negative
	// value selects the default; zero disables reconnects.
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	WriteTimeout      time.Duration
	// PingInterval enables keepalive pings; zero disables them.
	PingInterval time.Duration

	Logger zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.ReconnectAttempts < 0 {
		o.ReconnectAttempts = defaultReconnectAttempts
	}
	if o.ReconnectDelay < 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// Conn is a self-reconnecting websocket channel.
type Conn struct {
	opts   Options
	target string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	ws          *websocket.Conn
	state       State
	pending     map[string]chan json.RawMessage
	handlers    map[string]map[uint64]Handler
	stateHooks  map[uint64]func(State)
	nextHandler uint64
	stateCh     chan struct{}

	writeMu sync.Mutex
}

// Open validates opts and starts connecting in the background. Use
// WaitConnected to block until the first connection is established.
func Open(opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	target, err := buildURL(opts.URL, opts.ViewerUID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		opts:       opts,
		target:     target,
		logger:     opts.Logger.With().Str("component", "channel").Str("url", logging.RedactURL(opts.URL)).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      StateConnecting,
		pending:    make(map[string]chan json.RawMessage),
		handlers:   make(map[string]map[uint64]Handler),
		stateHooks: make(map[uint64]func(State)),
		stateCh:    make(chan struct{}),
	}
	go c.run()
	return c, nil
}

func buildURL(raw, uid string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse channel url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("channel url must use ws or wss, got %q", u.Scheme)
	}
	if uid = strings.TrimSpace(uid); uid != "" {
		q := u.Query()
		q.Set("uid", uid)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitConnected blocks until the channel is connected. It returns
// chat.ErrChannelUnavailable once the channel has failed or been closed.
func (c *Conn) WaitConnected(ctx context.Context) error {
	for {
		c.mu.Lock()
		state := c.state
		changed := c.stateCh
		c.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateFailed, StateClosed:
			return chat.ErrChannelUnavailable
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// OnStateChange registers fn for every state transition.
func (c *Conn) OnStateChange(fn func(State)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandler++
	id := c.nextHandler
	c.stateHooks[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateHooks, id)
	}
}

// Subscribe registers handler for push events named event. Handlers run on
// the read loop in arrival order and must not block.
func (c *Conn) Subscribe(event string, handler Handler) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandler++
	id := c.nextHandler
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[uint64]Handler)
	}
	c.handlers[event][id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers[event], id)
		if len(c.handlers[event]) == 0 {
			delete(c.handlers, event)
		}
	}
}

// Emit sends an event without waiting for an acknowledgement.
func (c *Conn) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.writeFrame(Frame{Event: event, Data: data})
}

// EmitWithAck sends an event and waits for its acknowledgement. At most one
// acknowledgement is consumed per call.
func (c *Conn) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}

	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, chat.ErrChannelUnavailable
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeFrame(Frame{Event: event, ID: id, Data: data}); err != nil {
		c.dropPending(id)
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	case ack, ok := <-ch:
		if !ok {
			return nil, chat.ErrChannelUnavailable
		}
		return ack, nil
	}
}

// Pending returns the number of emissions waiting for an acknowledgement.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the channel and fails every pending emission.
func (c *Conn) Close() error {
	c.cancel()
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = ws.Close()
	}
	<-c.done
	c.failPending()
	c.setState(StateClosed)
	return nil
}

func (c *Conn) dropPending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Conn) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan json.RawMessage)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Conn) resolveAck(id string, data json.RawMessage) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug().Str("ack", id).Msg("dropping unmatched acknowledgement")
		return
	}
	ch <- data
}

func (c *Conn) dispatch(frame Frame) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.handlers[frame.Event]))
	for _, h := range c.handlers[frame.Event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(frame.Data)
	}
}

func (c *Conn) setState(next State) {
	c.mu.Lock()
	if c.state == next || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next
	close(c.stateCh)
	c.stateCh = make(chan struct{})
	hooks := make([]func(State), 0, len(c.stateHooks))
	for _, fn := range c.stateHooks {
		hooks = append(hooks, fn)
	}
	c.mu.Unlock()

	event := c.logger.Info()
	if next == StateFailed {
		event = c.logger.Error()
	}
	event.Str("from", string(prev)).Str("to", string(next)).Msg("channel state changed")

	for _, fn := range hooks {
		fn(next)
	}
}

func (c *Conn) writeFrame(frame Frame) error {
	c.mu.Lock()
	ws := c.ws
	state := c.state
	c.mu.Unlock()
	if ws == nil || state != StateConnected {
		return chat.ErrChannelUnavailable
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := ws.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: write %s: %v", chat.ErrChannelUnavailable, frame.Event, err)
	}
	return nil
}

func (c *Conn) run() {
	defer close(c.done)

	initial := true
	for {
		ws, ok := c.connect(initial)
		if !ok {
			return
		}
		initial = false

		err := c.serve(ws)
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("channel disconnected")
		c.setState(StateReconnecting)
	}
}

// connect dials until it succeeds or the attempts are exhausted. The initial
// connection gets one attempt on top of the reconnect budget.
func (c *Conn) connect(initial bool) (*websocket.Conn, bool) {
	tries := c.opts.ReconnectAttempts
	if initial {
		tries++
	}
	for attempt := 1; attempt <= tries; attempt++ {
		if !initial || attempt > 1 {
			if !sleepUntil(c.ctx, c.opts.ReconnectDelay) {
				return nil, false
			}
		}
		ws, err := c.dial()
		if err == nil {
			c.mu.Lock()
			c.ws = ws
			c.mu.Unlock()
			c.setState(StateConnected)
			return ws, true
		}
		if c.ctx.Err() != nil {
			return nil, false
		}
		c.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", tries).Msg("channel dial failed")
		if attempt == 1 && initial {
			continue
		}
		c.setState(StateReconnecting)
	}
	c.setState(StateFailed)
	c.failPending()
	return nil, false
}

func (c *Conn) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.opts.DialTimeout)
	defer cancel()
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, c.target, nil)
	return ws, err
}

// serve runs the read loop for one socket. Pending acknowledgements cannot
// arrive on a later socket, so they fail when it ends.
func (c *Conn) serve(ws *websocket.Conn) error {
	defer func() {
		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
		_ = ws.Close()
		c.failPending()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	}()

	ws.SetReadLimit(defaultReadLimit)
	stopPing := c.startPing(ws)
	defer stopPing()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if frame.IsAck() {
			c.resolveAck(frame.Ack, frame.Data)
			continue
		}
		if frame.Event != "" {
			c.dispatch(frame)
		}
	}
}

func (c *Conn) startPing(ws *websocket.Conn) func() {
	interval := c.opts.PingInterval
	if interval <= 0 {
		return func() {}
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * interval))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * interval))
	})

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
				if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug().Err(err).Msg("ping failed")
				}
			}
		}
	}()
	return func() { close(stop) }
}

func sleepUntil(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
