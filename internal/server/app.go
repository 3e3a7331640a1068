package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cloudfarm/internal/cache"
	"cloudfarm/internal/config"
	"cloudfarm/internal/database"
	"cloudfarm/internal/handlers"
	"cloudfarm/internal/hub"
	"cloudfarm/internal/jobs"
	"cloudfarm/internal/queue"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/security"
	"cloudfarm/internal/service"
	"cloudfarm/internal/storage"
)

// App is the assembled API process. Postgres, Redis and object storage are
// each optional; without them the app runs on in-memory stand-ins.
type App struct {
	cfg       *config.AppConfig
	log       zerolog.Logger
	http      *HTTPServer
	hub       *hub.Hub
	scheduler *jobs.Scheduler
	pool      *pgxpool.Pool
	redis     *redis.Client

	Auth    *service.AuthService
	Talhoes *service.TalhaoService
	Images  *service.ImageService
}

type stores struct {
	users    repository.UserStore
	sessions repository.SessionStore
	talhoes  repository.TalhaoStore
	images   repository.ImageStore
}

func NewApp(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*App, error) {
	app := &App{cfg: cfg, log: log}

	st, err := app.openStores(ctx)
	if err != nil {
		return nil, err
	}

	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			app.closeStores()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.redis = client
		rdb = client
	} else {
		log.Warn().Msg("redis disabled, realtime fan-out is local and background tasks are off")
	}

	objects, err := openObjects(ctx, cfg.Storage, log)
	if err != nil {
		app.closeStores()
		return nil, err
	}

	tokens := security.NewTokenIssuer(cfg.Security.JWTSecret, cfg.Security.JWTAccessTTL, cfg.Security.RefreshWindow)
	app.Auth = service.NewAuthService(st.users, st.sessions, tokens, cfg.Security.MaxSessions, log)

	app.hub = hub.New(hub.Config{
		PingInterval:   cfg.Realtime.PingInterval,
		PongWait:       cfg.Realtime.PongWait,
		WriteWait:      cfg.Realtime.WriteWait,
		MaxMessage:     cfg.Realtime.MaxMessage,
		ChannelPrefix:  cfg.Realtime.ChannelPrefix,
		AllowedOrigins: cfg.AllowCORSOrigins,
	}, app.Auth, rdb, log)

	var enqueuer service.Enqueuer
	var scheduled jobs.Enqueuer
	if rdb != nil {
		producer := queue.NewProducer(rdb, cfg.Queue.Stream)
		enqueuer = producer
		scheduled = producer
	}

	app.Talhoes = service.NewTalhaoService(st.talhoes, app.hub, log)
	app.Images = service.NewImageService(app.Talhoes, st.images, objects, enqueuer, app.hub, log)

	deps := handlers.Deps{
		Environment: cfg.Environment,
		Auth:        app.Auth,
		Talhoes:     app.Talhoes,
		Images:      app.Images,
		Socket:      http.HandlerFunc(app.hub.ServeWS),
	}
	if app.pool != nil {
		deps.Database = handlers.PingerFunc(app.pool.Ping)
	}
	if app.redis != nil {
		client := app.redis
		deps.Cache = handlers.PingerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
	app.http = NewHTTPServer(cfg, log, handlers.NewHandlerSet(log, deps))
	app.scheduler = jobs.NewScheduler(scheduled, log)

	if err := app.Auth.EnsureSeedUser(ctx, cfg.Seed); err != nil {
		app.closeStores()
		return nil, fmt.Errorf("seed user: %w", err)
	}
	return app, nil
}

func (a *App) openStores(ctx context.Context) (stores, error) {
	if a.cfg.Postgres.DSN == "" {
		a.log.Warn().Msg("postgres disabled, using in-memory repositories")
		mem := repository.NewMemory()
		return stores{mem.Users(), mem.Sessions(), mem.Talhoes(), mem.Images()}, nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres)
	if err != nil {
		return stores{}, fmt.Errorf("connect postgres: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("migrate: %w", err)
	}
	a.pool = pool
	return stores{
		users:    repository.NewUserRepository(pool),
		sessions: repository.NewSessionRepository(pool),
		talhoes:  repository.NewTalhaoRepository(pool),
		images:   repository.NewTalhaoImageRepository(pool),
	}, nil
}

func openObjects(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (storage.Objects, error) {
	if cfg.Endpoint == "" {
		log.Warn().Msg("object storage disabled, images are kept in memory")
		return storage.NewMemoryObjects("/objects"), nil
	}
	store, err := storage.NewObjectStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Warn().Err(err).Msg("ensure bucket failed")
	}
	return store, nil
}

func (a *App) Handler() http.Handler {
	return a.http.Handler()
}

func (a *App) Hub() *hub.Hub {
	return a.hub
}

// Run serves HTTP, relays realtime fan-out and runs the scheduler until ctx is
// done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.hub.Run(ctx)
	})
	g.Go(a.http.Start)
	g.Go(func() error {
		<-ctx.Done()
		return a.Shutdown(context.Background())
	})
	return g.Wait()
}

// RunHub relays fan-out without serving HTTP, for callers that mount Handler
// themselves.
func (a *App) RunHub(ctx context.Context) error {
	return a.hub.Run(ctx)
}

func (a *App) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a.hub.Close()
	err := a.http.Shutdown(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("graceful shutdown failed")
	}
	a.scheduler.Stop(ctx)
	a.closeStores()
	a.log.Info().Msg("server exited cleanly")
	return err
}

func (a *App) closeStores() {
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.log.Error().Err(err).Msg("redis close error")
		}
		a.redis = nil
	}
}
