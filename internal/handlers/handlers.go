package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"progkeeper/api/internal/config"
	"progkeeper/api/internal/metrics"
	"progkeeper/api/internal/middleware"
	"progkeeper/api/internal/service"
)

// LoginThrottle limits repeated failed logins. Implemented by
// cache.LoginLimiter.
type LoginThrottle interface {
	Allow(ctx context.Context, username, ip string) bool
	RecordFailure(ctx context.Context, username, ip string)
	Reset(ctx context.Context, username, ip string)
}

// HealthCheck pings one backing service.
type HealthCheck func(ctx context.Context) error

type Dependencies struct {
	Config      *config.AppConfig
	Credentials *service.CredentialStore
	Sessions    *service.SessionStore
	Gateway     *service.Gateway
	Metrics     *metrics.Metrics
	// Throttle is optional; nil disables login throttling.
	Throttle LoginThrottle
	Checks   map[string]HealthCheck
}

type HandlerSet struct {
	cfg      *config.AppConfig
	creds    *service.CredentialStore
	sessions *service.SessionStore
	gateway  *service.Gateway
	metrics  *metrics.Metrics
	throttle LoginThrottle
	checks   map[string]HealthCheck
}

func NewHandlerSet(deps Dependencies) HandlerSet {
	return HandlerSet{
		cfg:      deps.Config,
		creds:    deps.Credentials,
		sessions: deps.Sessions,
		gateway:  deps.Gateway,
		metrics:  deps.Metrics,
		throttle: deps.Throttle,
		checks:   deps.Checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		v1.POST("/user/create", h.CreateUser)
		v1.POST("/session/create", h.Login)

		protected := v1.Group("")
		protected.Use(middleware.Auth(h.gateway, h.metrics))
		protected.POST("/session/end", h.Logout)
		protected.POST("/session/end/all", h.LogoutAll)
		protected.GET("/session/me", h.Me)
		protected.GET("/user/get/:id", h.GetUser)

		self := protected.Group("/user")
		self.GET("/sessions/:id", middleware.RequireSelf(h.gateway, "id"), h.ListSessions)
		self.DELETE("/delete/:id", middleware.RequireSelf(h.gateway, "id"), h.DeleteUser)
	}
}
