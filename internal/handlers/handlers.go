package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cloudfarm/internal/middleware"
	"cloudfarm/internal/models"
	"cloudfarm/internal/repository"
	"cloudfarm/internal/service"
)

// Pinger is anything health can probe. Nil pingers report "disabled".
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type HandlerSet struct {
	log         zerolog.Logger
	environment string
	auth        *service.AuthService
	talhoes     *service.TalhaoService
	images      *service.ImageService
	database    Pinger
	cache       Pinger
	socket      http.Handler
}

type Deps struct {
	Environment string
	Auth        *service.AuthService
	Talhoes     *service.TalhaoService
	Images      *service.ImageService
	Database    Pinger
	Cache       Pinger
	// Socket serves /ws. Nil leaves the route unregistered.
	Socket http.Handler
}

func NewHandlerSet(log zerolog.Logger, deps Deps) HandlerSet {
	return HandlerSet{
		log:         log.With().Str("component", "http").Logger(),
		environment: deps.Environment,
		auth:        deps.Auth,
		talhoes:     deps.Talhoes,
		images:      deps.Images,
		database:    deps.Database,
		cache:       deps.Cache,
		socket:      deps.Socket,
	}
}

func (h HandlerSet) Register(router gin.IRouter) {
	authn := middleware.Auth(h.auth)
	writers := middleware.RequireRoles(models.RoleAdmin, models.RoleGerente)
	uploaders := middleware.RequireRoles(models.RoleAdmin, models.RoleGerente, models.RoleOperador)

	auth := router.Group("/auth")
	{
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)
		auth.GET("/me", authn, h.Me)
	}

	api := router.Group("/api")
	api.GET("/health", h.Health)
	{
		protected := api.Group("", authn)
		protected.GET("/talhoes", h.ListTalhoes)
		protected.POST("/talhoes", writers, h.CreateTalhao)
		protected.GET("/talhoes/:id", h.GetTalhao)
		protected.PUT("/talhoes/:id", writers, h.UpdateTalhao)
		protected.DELETE("/talhoes/:id", writers, h.DeleteTalhao)
		protected.GET("/talhoes/:id/imagens", h.ListImages)
		protected.POST("/talhoes/:id/imagens", uploaders, h.UploadImage)
		protected.GET("/estatisticas", h.Estatisticas)
	}

	if h.socket != nil {
		router.GET("/ws", gin.WrapH(h.socket))
	}
}

func scopeFrom(c *gin.Context) (service.Scope, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return service.Scope{}, false
	}
	return service.ScopeFor(identity.Profile), true
}

// fail maps service errors onto HTTP statuses.
func (h HandlerSet) fail(c *gin.Context, err error) {
	var validation *service.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error(), "field": validation.Field})
	case errors.Is(err, repository.ErrTalhaoNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "talhao_not_found"})
	case errors.Is(err, repository.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	case errors.Is(err, service.ErrEmptyUpload),
		errors.Is(err, service.ErrUnsupportedMedia),
		errors.Is(err, service.ErrContentMismatch):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUploadTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
	}
}
