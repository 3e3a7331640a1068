// Package realtime keeps one authenticated WebSocket connection to the CloudFarm
// backend alive, tracks the channels the user asked for and fans incoming
// events out to listeners.
//
// All connection state lives behind one mutex. Each connection gets a
// generation number; callbacks from a socket or timer of an older generation
// are ignored, so nothing fires into a client that was disconnected or closed.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cloudfarm/internal/session"
	"cloudfarm/internal/wire"
)

var (
	ErrNotAuthenticated   = errors.New("realtime: session not authenticated")
	ErrNotConnected       = errors.New("realtime: not connected")
	ErrAuthRejected       = errors.New("realtime: credentials rejected by server")
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
	ErrClosed             = errors.New("realtime: client closed")
)

// Well-known listener keys. Channel messages are keyed by channel name and
// domain events by their type name.
const (
	EventWelcome = wire.TypeWelcome
	EventPong    = wire.TypePong
	EventError   = wire.TypeError
	// AnyEvent receives every inbound frame after the specific listeners.
	AnyEvent = "*"
)

const (
	defaultPingInterval = 15 * time.Second
	defaultFloor        = time.Second
	defaultCeiling      = 30 * time.Second
	defaultMaxAttempts  = 5
	defaultDialTimeout  = 10 * time.Second
	writeWait           = 10 * time.Second
)

var defaultAutoChannels = []string{"public.notifications", "public.alerts"}

// TokenRefresher renews an expired session token before dialing.
type TokenRefresher interface {
	Refresh(ctx context.Context) (string, error)
}

type Options struct {
	URL            string
	PingInterval   time.Duration
	// PongWait is how long the socket may stay silent before it is treated
	// as dead. Defaults to twice PingInterval.
	PongWait       time.Duration
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration
	MaxAttempts    int
	DialTimeout    time.Duration
	// AutoChannels are subscribed after the first welcome of every connection,
	// together with role.<role> and farm.<farmId> for the session user.
	AutoChannels []string
	Dialer       Dialer
	Refresher    TokenRefresher
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.PongWait <= 0 {
		o.PongWait = 2 * o.PingInterval
	}
	if o.BackoffFloor <= 0 {
		o.BackoffFloor = defaultFloor
	}
	if o.BackoffCeiling <= 0 {
		o.BackoffCeiling = defaultCeiling
	}
	if o.BackoffCeiling < o.BackoffFloor {
		o.BackoffCeiling = o.BackoffFloor
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.AutoChannels == nil {
		o.AutoChannels = defaultAutoChannels
	}
	if o.Dialer == nil {
		o.Dialer = NewWebsocketDialer(o.DialTimeout)
	}
}

// Event is an inbound frame as seen by listeners.
type Event struct {
	Type      string
	Channel   string
	Data      json.RawMessage
	Timestamp string
}

func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s carries no data", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

type Client struct {
	opts    Options
	session *session.Store
	log     zerolog.Logger

	mu               sync.Mutex
	state            State
	conn             Conn
	gen              uint64
	attempts         int
	delay            time.Duration
	lastConnected    time.Time
	lastDisconnected time.Time
	welcomed         bool
	reconnectTimer   *time.Timer
	stopHeartbeat    chan struct{}
	closed           bool
	channels         []string
	channelSet       map[string]struct{}

	writeMu sync.Mutex

	events *registry[Event]
	states *registry[Status]
	errs   *registry[error]
}

func New(opts Options, store *session.Store, log zerolog.Logger) (*Client, error) {
	if store == nil {
		return nil, errors.New("realtime: session store required")
	}
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse realtime url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("realtime url %q must be ws or wss", opts.URL)
	}
	opts.withDefaults()
	return &Client{
		opts:       opts,
		session:    store,
		log:        log.With().Str("component", "realtime").Logger(),
		delay:      opts.BackoffFloor,
		channelSet: make(map[string]struct{}),
		events:     newRegistry[Event](),
		states:     newRegistry[Status](),
		errs:       newRegistry[error](),
	}, nil
}

// Connect opens the connection if the session is authenticated and no
// connection is live or being dialed. Calling it after StateExhausted or
// StateAuthRejected starts over with a fresh attempt counter.
func (c *Client) Connect(ctx context.Context) error {
	if !c.session.IsAuthenticated() {
		_, hasToken := c.session.Token()
		_, hasUser := c.session.User()
		if c.opts.Refresher == nil || !hasToken || !hasUser {
			return ErrNotAuthenticated
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	c.attempts = 0
	c.delay = c.opts.BackoffFloor
	c.state = StateDisconnected
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()
	c.emitState()

	token, err := c.ensureToken(ctx)
	if err != nil {
		if c.setStateIfCurrent(gen, StateDisconnected) {
			c.emitState()
		}
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	c.log.Debug().Str("url", c.opts.URL).Msg("dialing")
	conn, err := c.opts.Dialer.Dial(dialCtx, c.endpoint(token))

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	now := time.Now()
	if err != nil {
		c.lastDisconnected = now
		var dialErr *DialError
		if errors.As(err, &dialErr) && dialErr.authRejected() {
			c.mu.Unlock()
			c.rejectAuth(gen, dialErr.StatusCode)
			return fmt.Errorf("%w: %w", ErrAuthRejected, err)
		}
		c.state = StateDisconnected
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("dial failed")
		c.emitState()
		c.emitError(err)
		c.scheduleReconnect(gen)
		return fmt.Errorf("dial realtime: %w", err)
	}

	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.delay = c.opts.BackoffFloor
	c.lastConnected = now
	c.welcomed = false
	stop := make(chan struct{})
	c.stopHeartbeat = stop
	channels := append([]string(nil), c.channels...)
	c.mu.Unlock()

	_ = conn.SetReadDeadline(now.Add(c.opts.PongWait))
	c.log.Info().Int("channels", len(channels)).Msg("connected")
	c.emitState()

	for _, ch := range channels {
		if err := c.write(gen, wire.TypeSubscribe, ch, nil); err != nil {
			c.log.Warn().Err(err).Str("channel", ch).Msg("resubscribe failed")
		}
	}
	go c.readLoop(gen, conn)
	go c.heartbeat(gen, stop)
	return nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	if c.session.IsAuthenticated() {
		token, _ := c.session.Token()
		return token, nil
	}
	if c.opts.Refresher == nil {
		return "", ErrNotAuthenticated
	}
	token, err := c.opts.Refresher.Refresh(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("token refresh before dial failed")
		return "", fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	return token, nil
}

func (c *Client) endpoint(token string) string {
	u, _ := url.Parse(c.opts.URL)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}
		// Any inbound frame, usually the pong to our ping, proves the peer is alive.
		_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		env, err := wire.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if !c.isCurrent(gen) {
			return
		}
		c.dispatch(gen, env)
	}
}

func (c *Client) dispatch(gen uint64, env wire.Envelope) {
	ev := Event{Type: env.Type, Channel: env.Channel, Data: env.Data, Timestamp: env.Timestamp}

	switch env.Type {
	case wire.TypeWelcome:
		c.handleWelcome(gen)
		c.notify(EventWelcome, ev)
	case wire.TypeChannelMessage:
		if env.Channel == "" {
			c.log.Warn().Msg("channel_message without channel")
			break
		}
		c.notify(env.Channel, ev)
	case wire.TypeError:
		var payload wire.ErrorPayload
		_ = json.Unmarshal(env.Data, &payload)
		c.log.Warn().Str("code", payload.Code).Str("message", payload.Message).Msg("server error frame")
		c.notify(EventError, ev)
	default:
		c.notify(env.Type, ev)
	}
	c.notify(AnyEvent, ev)
}

func (c *Client) handleWelcome(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.welcomed {
		c.mu.Unlock()
		return
	}
	c.welcomed = true
	c.mu.Unlock()

	for _, ch := range c.autoChannels() {
		if err := c.Subscribe(ch); err != nil {
			c.log.Warn().Err(err).Str("channel", ch).Msg("auto-subscribe failed")
		}
	}
}

func (c *Client) autoChannels() []string {
	channels := append([]string(nil), c.opts.AutoChannels...)
	user, ok := c.session.User()
	if !ok {
		return channels
	}
	for _, role := range user.Roles {
		if role = strings.TrimSpace(role); role != "" {
			channels = append(channels, wire.RoleChannel(role))
		}
	}
	if user.FarmID != "" {
		channels = append(channels, wire.FarmChannel(user.FarmID))
	}
	return channels
}

func (c *Client) handleDrop(gen uint64, err error) {
	code := -1
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		code = closeErr.Code
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.stopHeartbeatLocked()
	c.lastDisconnected = time.Now()
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}

	if wire.IsAuthCloseCode(code) {
		c.rejectAuth(gen, code)
		return
	}

	c.log.Warn().Err(err).Int("code", code).Msg("connection lost")
	if c.setStateIfCurrent(gen, StateDisconnected) {
		c.emitState()
	}
	c.emitError(err)
	c.scheduleReconnect(gen)
}

// rejectAuth ends the session without reconnecting.
func (c *Client) rejectAuth(gen uint64, code int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.state = StateAuthRejected
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	c.mu.Unlock()

	c.log.Warn().Int("code", code).Msg("server rejected credentials, clearing session")
	c.session.Clear(context.Background())
	c.emitState()
	c.emitError(fmt.Errorf("%w (code %d)", ErrAuthRejected, code))
}

func (c *Client) scheduleReconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.opts.MaxAttempts {
		c.state = StateExhausted
		attempts := c.attempts
		c.mu.Unlock()
		c.log.Error().Int("attempts", attempts).Msg("giving up reconnecting")
		c.emitState()
		c.emitError(ErrReconnectExhausted)
		return
	}
	c.attempts++
	c.delay = Backoff(c.attempts, c.opts.BackoffFloor, c.opts.BackoffCeiling)
	c.state = StateReconnecting
	status := c.statusLocked()
	c.reconnectTimer = time.AfterFunc(status.Delay, func() { c.reconnect(gen) })
	c.mu.Unlock()

	c.log.Info().Int("attempt", status.Attempts).Int("max", status.MaxAttempts).Dur("delay", status.Delay).Msg("reconnect scheduled")
	c.publishState(status)
}

func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	if err := c.dial(context.Background()); err != nil && errors.Is(err, ErrNotAuthenticated) {
		c.log.Warn().Msg("session ended while reconnecting")
		c.emitError(err)
	}
}

func (c *Client) heartbeat(gen uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.write(gen, wire.TypePing, "", nil); err != nil {
				return
			}
		}
	}
}

// Disconnect closes the socket with a normal closure and cancels any pending
// reconnect. Channels and listeners are kept.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopReconnectLocked()
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	changed := false
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.state = StateDisconnected
		changed = true
	}
	c.attempts = 0
	c.delay = c.opts.BackoffFloor
	if conn != nil {
		c.lastDisconnected = time.Now()
	}
	c.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		c.log.Info().Msg("disconnected")
	}
	if changed {
		c.emitState()
	}
}

// Close tears the client down: it disconnects, then drops every listener and
// channel. Later calls to Connect return ErrClosed.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.Disconnect()

	c.mu.Lock()
	c.closed = true
	c.channels = nil
	c.channelSet = make(map[string]struct{})
	c.mu.Unlock()

	c.events.clear()
	c.states.clear()
	c.errs.clear()
}

// Subscribe adds name to the channel set. The server is told right away when
// connected, otherwise on the next successful connect.
func (c *Client) Subscribe(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("realtime: empty channel name")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if _, ok := c.channelSet[name]; ok {
		c.mu.Unlock()
		return nil
	}
	c.channelSet[name] = struct{}{}
	c.channels = append(c.channels, name)
	gen, connected := c.gen, c.state == StateConnected
	c.mu.Unlock()

	if connected {
		return c.write(gen, wire.TypeSubscribe, name, nil)
	}
	return nil
}

func (c *Client) Unsubscribe(name string) error {
	name = strings.TrimSpace(name)
	c.mu.Lock()
	if _, ok := c.channelSet[name]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.channelSet, name)
	for i, ch := range c.channels {
		if ch == name {
			c.channels = append(c.channels[:i:i], c.channels[i+1:]...)
			break
		}
	}
	gen, connected := c.gen, c.state == StateConnected
	c.mu.Unlock()

	if connected {
		return c.write(gen, wire.TypeUnsubscribe, name, nil)
	}
	return nil
}

// Channels returns the channel set in subscription order.
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.channels...)
}

// Send publishes data on a channel. Delivery is best effort: when not
// connected the message is dropped with a warning and ErrNotConnected.
func (c *Client) Send(channel string, data any) error {
	c.mu.Lock()
	gen, connected := c.gen, c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		c.log.Warn().Str("channel", channel).Msg("not connected, message dropped")
		return ErrNotConnected
	}
	return c.write(gen, wire.TypeMessage, channel, data)
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) statusLocked() Status {
	return Status{
		State:            c.state,
		Attempts:         c.attempts,
		MaxAttempts:      c.opts.MaxAttempts,
		Delay:            c.delay,
		LastConnected:    c.lastConnected,
		LastDisconnected: c.lastDisconnected,
	}
}

// AddListener registers fn for an event name: a system type, a channel name,
// a domain event type or AnyEvent. Listeners run in registration order.
func (c *Client) AddListener(event string, fn func(Event)) (remove func()) {
	return c.events.add(event, fn)
}

func (c *Client) OnState(fn func(Status)) (remove func()) {
	return c.states.add("", fn)
}

func (c *Client) OnError(fn func(error)) (remove func()) {
	return c.errs.add("", fn)
}

// Listen registers a listener that decodes the event payload into T. Events
// whose payload does not decode are logged and skipped.
func Listen[T any](c *Client, event string, fn func(T)) (remove func()) {
	return c.AddListener(event, func(ev Event) {
		var v T
		if err := ev.Decode(&v); err != nil {
			c.log.Warn().Err(err).Str("event", event).Msg("undecodable event payload")
			return
		}
		fn(v)
	})
}

func (c *Client) write(gen uint64, msgType, channel string, data any) error {
	env, err := wire.New(msgType, channel, data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.Lock()
	if gen != c.gen || c.conn == nil || c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.log.Warn().Err(err).Str("type", msgType).Msg("write failed")
		// Closing makes the read loop observe the failure and reconnect.
		_ = conn.Close()
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

func (c *Client) notify(event string, ev Event) {
	for _, fn := range c.events.snapshot(event) {
		c.invoke(event, func() { fn(ev) })
	}
}

func (c *Client) emitState() {
	c.publishState(c.Status())
}

func (c *Client) publishState(status Status) {
	for _, fn := range c.states.snapshot("") {
		c.invoke("state", func() { fn(status) })
	}
}

func (c *Client) emitError(err error) {
	for _, fn := range c.errs.snapshot("") {
		c.invoke("error", func() { fn(err) })
	}
}

func (c *Client) invoke(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("event", event).Msg("listener panicked")
		}
	}()
	fn()
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Client) setStateIfCurrent(gen uint64, state State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state == state {
		return false
	}
	c.state = state
	return true
}

func (c *Client) stopReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
}
