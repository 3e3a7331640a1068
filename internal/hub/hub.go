// Package hub is the server side of the realtime channel. It authenticates
// sockets, tracks channel subscriptions and fans envelopes out to subscribers,
// optionally through Redis pub/sub so several API instances share channels.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cloudfarm/internal/middleware"
	"cloudfarm/internal/models"
	"cloudfarm/internal/security"
	"cloudfarm/internal/wire"
)

type Authenticator interface {
	AuthenticateSocket(ctx context.Context, token string) (models.Profile, error)
}

type AuthenticatorFunc func(ctx context.Context, token string) (models.Profile, error)

func (f AuthenticatorFunc) AuthenticateSocket(ctx context.Context, token string) (models.Profile, error) {
	return f(ctx, token)
}

type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessage     int64
	ChannelPrefix  string
	AllowedOrigins []string
}

func (c *Config) applyDefaults() {
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.MaxMessage <= 0 {
		c.MaxMessage = 64 * 1024
	}
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = "cloudfarm:rt:"
	}
}

type Hub struct {
	cfg      Config
	auth     Authenticator
	redis    redis.UniversalClient
	log      zerolog.Logger
	upgrader websocket.Upgrader

	originAllowed middleware.OriginMatcher

	mu       sync.RWMutex
	clients  map[*Client]struct{}
	channels map[string]map[*Client]struct{}
	closed   bool

	ready     chan struct{}
	readyOnce sync.Once
}

// New builds a hub. With a nil redis client, Publish delivers to local
// subscribers only.
func New(cfg Config, auth Authenticator, rdb redis.UniversalClient, log zerolog.Logger) *Hub {
	cfg.applyDefaults()
	h := &Hub{
		cfg:      cfg,
		auth:     auth,
		redis:    rdb,
		log:      log.With().Str("component", "hub").Logger(),
		clients:  make(map[*Client]struct{}),
		channels: make(map[string]map[*Client]struct{}),
		ready:    make(chan struct{}),

		originAllowed: middleware.NewOriginMatcher(cfg.AllowedOrigins),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.originAllowed(origin)
}

// ServeWS upgrades the request and authenticates the token query parameter.
// Rejected credentials are reported through the close code after the upgrade
// so browser clients can tell them apart from network failures.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		h.reject(conn, wire.ClosePolicyViolation, "missing token")
		return
	}
	profile, err := h.auth.AuthenticateSocket(r.Context(), token)
	if err != nil {
		code := wire.ClosePolicyViolation
		if errors.Is(err, security.ErrTokenExpired) {
			code = wire.CloseTokenExpired
		}
		h.log.Debug().Err(err).Int("code", code).Msg("socket rejected")
		h.reject(conn, code, "invalid token")
		return
	}

	client := newClient(h, conn, profile)
	if !h.register(client) {
		h.reject(conn, websocket.CloseGoingAway, "shutting down")
		return
	}

	welcome, err := wire.New(wire.TypeWelcome, "", wire.Welcome{
		ConnectionID: client.id,
		UserID:       profile.ID,
		ServerTime:   time.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		client.enqueue(welcome)
	}

	go client.writePump()
	go client.readPump()
}

func (h *Hub) reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(h.cfg.WriteWait)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.log.Debug().Str("conn", c.id).Str("user_id", c.profile.ID).Msg("client registered")
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for ch := range c.channels {
			h.removeSubscriber(ch, c)
		}
		c.closeSend()
	}
	h.mu.Unlock()
	h.log.Debug().Str("conn", c.id).Msg("client unregistered")
}

// removeSubscriber requires h.mu held for writing.
func (h *Hub) removeSubscriber(channel string, c *Client) {
	subs := h.channels[channel]
	delete(subs, c)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Client]struct{})
		h.channels[channel] = subs
	}
	subs[c] = struct{}{}
	c.channels[channel] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := c.channels[channel]; !ok {
		return
	}
	delete(c.channels, channel)
	h.removeSubscriber(channel, c)
}

// Publish delivers env to the subscribers of env.Channel, through Redis when
// configured.
func (h *Hub) Publish(ctx context.Context, env wire.Envelope) error {
	if env.Channel == "" {
		return errors.New("publish: envelope has no channel")
	}
	if env.Timestamp == "" {
		env.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if h.redis != nil {
		return publishRedis(ctx, h.redis, h.cfg.ChannelPrefix, env)
	}
	h.deliver(env)
	return nil
}

func (h *Hub) deliver(env wire.Envelope) int {
	frame, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Str("type", env.Type).Msg("encode envelope failed")
		return 0
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.channels[env.Channel]))
	for c := range h.channels[env.Channel] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.sendFrame(frame) {
			delivered++
		} else {
			h.log.Warn().Str("conn", c.id).Msg("send buffer full, dropping client")
			c.conn.Close()
		}
	}
	return delivered
}

// Run relays Redis pub/sub traffic to local subscribers until ctx is done.
// Without Redis it just waits.
func (h *Hub) Run(ctx context.Context) error {
	if h.redis == nil {
		h.readyOnce.Do(func() { close(h.ready) })
		<-ctx.Done()
		return nil
	}

	sub := h.redis.PSubscribe(ctx, h.cfg.ChannelPrefix+"*")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe realtime fan-out: %w", err)
	}
	h.readyOnce.Do(func() { close(h.ready) })
	h.log.Info().Str("pattern", h.cfg.ChannelPrefix+"*").Msg("realtime fan-out subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			env, err := wire.Decode([]byte(msg.Payload))
			if err != nil {
				h.log.Warn().Err(err).Str("channel", msg.Channel).Msg("bad fan-out payload")
				continue
			}
			if env.Channel == "" {
				env.Channel = strings.TrimPrefix(msg.Channel, h.cfg.ChannelPrefix)
			}
			h.deliver(env)
		}
	}
}

// Ready is closed once Run is relaying.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Close disconnects every client with a going-away close frame.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.reject(c.conn, websocket.CloseGoingAway, "server shutting down")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// CanSubscribe decides which channels a user may join or post to.
func CanSubscribe(p models.Profile, channel string) bool {
	switch {
	case strings.HasPrefix(channel, "public.") && len(channel) > len("public."):
		return true
	case strings.HasPrefix(channel, "farm."):
		id := strings.TrimPrefix(channel, "farm.")
		return id != "" && (id == p.FarmID || p.HasRole(models.RoleAdmin))
	case strings.HasPrefix(channel, "role."):
		return p.HasRole(strings.TrimPrefix(channel, "role."))
	case strings.HasPrefix(channel, "user."):
		return strings.TrimPrefix(channel, "user.") == p.ID
	}
	return false
}
