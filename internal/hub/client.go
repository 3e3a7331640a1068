package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cloudfarm/internal/ids"
	"cloudfarm/internal/models"
	"cloudfarm/internal/wire"
)

const sendBuffer = 256

// Client is one authenticated socket. channels is guarded by the hub mutex.
type Client struct {
	id       string
	hub      *Hub
	conn     *websocket.Conn
	profile  models.Profile
	channels map[string]struct{}

	send     chan []byte
	sendMu   sync.Mutex
	sendShut bool
}

func newClient(h *Hub, conn *websocket.Conn, profile models.Profile) *Client {
	return &Client{
		id:       ids.New(),
		hub:      h,
		conn:     conn,
		profile:  profile,
		channels: make(map[string]struct{}),
		send:     make(chan []byte, sendBuffer),
	}
}

func (c *Client) sendFrame(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendShut {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendShut {
		c.sendShut = true
		close(c.send)
	}
}

func (c *Client) enqueue(env wire.Envelope) {
	frame, err := json.Marshal(env)
	if err != nil {
		c.hub.log.Error().Err(err).Str("type", env.Type).Msg("encode frame failed")
		return
	}
	if !c.sendFrame(frame) {
		c.conn.Close()
	}
}

func (c *Client) sendError(code, message string) {
	env, err := wire.New(wire.TypeError, "", wire.ErrorPayload{Code: code, Message: message})
	if err == nil {
		c.enqueue(env)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("conn", c.id).Msg("websocket read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

		env, err := wire.Decode(frame)
		if err != nil {
			c.sendError("bad_request", err.Error())
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env wire.Envelope) {
	switch env.Type {
	case wire.TypePing:
		pong, _ := wire.New(wire.TypePong, "", nil)
		pong.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
		c.enqueue(pong)

	case wire.TypeSubscribe:
		if !CanSubscribe(c.profile, env.Channel) {
			c.sendError("forbidden", "cannot subscribe to "+env.Channel)
			return
		}
		c.hub.subscribe(c, env.Channel)

	case wire.TypeUnsubscribe:
		c.hub.unsubscribe(c, env.Channel)

	case wire.TypeMessage:
		if !CanSubscribe(c.profile, env.Channel) {
			c.sendError("forbidden", "cannot post to "+env.Channel)
			return
		}
		out := wire.Envelope{Type: wire.TypeChannelMessage, Channel: env.Channel, Data: env.Data}
		ctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.WriteWait)
		err := c.hub.Publish(ctx, out)
		cancel()
		if err != nil {
			c.hub.log.Warn().Err(err).Str("channel", env.Channel).Msg("relay message failed")
			c.sendError("unavailable", "message not delivered")
		}

	default:
		c.sendError("unknown_type", "unsupported message type "+env.Type)
	}
}

func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
