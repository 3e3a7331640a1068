// Package cloudfarm assembles the client core: the session store, the
// authenticated API client and the realtime channel client.
package cloudfarm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cloudfarm/internal/apiclient"
	"cloudfarm/internal/config"
	"cloudfarm/internal/realtime"
	"cloudfarm/internal/session"
)

type Client struct {
	Session  *session.Store
	API      *apiclient.Client
	Realtime *realtime.Client

	log        zerolog.Logger
	closeStore func() error
	removeHook func()
}

// New builds the three components from cfg. Realtime is nil when
// cfg.Realtime.Disabled is set.
func New(cfg *config.ClientConfig, log zerolog.Logger) (*Client, error) {
	storage, closeStore, err := NewStorage(cfg.Session)
	if err != nil {
		return nil, err
	}
	store := session.NewStore(storage, log)

	api, err := apiclient.New(apiclient.Options{
		BaseURL:      cfg.API.BaseURL,
		Timeout:      cfg.HTTP.Timeout,
		ProbeTimeout: cfg.HTTP.ProbeTimeout,
	}, store, log)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	c := &Client{
		Session:    store,
		API:        api,
		log:        log.With().Str("component", "cloudfarm").Logger(),
		closeStore: closeStore,
	}

	if cfg.Realtime.Disabled {
		c.log.Debug().Msg("realtime disabled")
		return c, nil
	}
	rt, err := realtime.New(realtime.Options{
		URL:            cfg.Realtime.URL,
		PingInterval:   cfg.Realtime.PingInterval,
		PongWait:       cfg.Realtime.PongWait,
		BackoffFloor:   cfg.Realtime.BackoffFloor,
		BackoffCeiling: cfg.Realtime.BackoffCeiling,
		MaxAttempts:    cfg.Realtime.MaxAttempts,
		AutoChannels:   cfg.Realtime.AutoChannels,
		Refresher:      api,
	}, store, log)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	c.Realtime = rt
	api.OnLogout(rt.Disconnect)
	return c, nil
}

// Start seeds the session from storage and keeps the realtime connection in
// step with it: an authenticated session connects, a cleared one disconnects.
func (c *Client) Start(ctx context.Context) {
	c.Session.Load(ctx)
	if c.Realtime == nil {
		return
	}
	c.removeHook = c.Session.OnChange(func(authenticated bool) {
		if !authenticated {
			c.Realtime.Disconnect()
			return
		}
		c.connect(context.Background())
	})
	if _, ok := c.Session.Token(); ok {
		c.connect(ctx)
	}
}

func (c *Client) connect(ctx context.Context) {
	err := c.Realtime.Connect(ctx)
	switch {
	case err == nil:
	case errors.Is(err, realtime.ErrNotAuthenticated):
		c.log.Debug().Msg("not logged in, realtime idle")
	default:
		c.log.Warn().Err(err).Msg("realtime connect failed")
	}
}

func (c *Client) Close() error {
	if c.removeHook != nil {
		c.removeHook()
	}
	if c.Realtime != nil {
		c.Realtime.Close()
	}
	return c.closeStore()
}

// NewStorage opens the session backend named in cfg.
func NewStorage(cfg config.ClientSessionConfig) (session.Storage, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = config.DefaultSessionPath()
		}
		return session.NewFileStorage(path), noop, nil
	case "memory":
		return session.NewMemoryStorage(), noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		return session.NewRedisStorage(client, cfg.RedisPrefix), client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
