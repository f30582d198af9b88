package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
)

// Option configures the server.
type Option func(*serverOptions)

type serverOptions struct {
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// WithMetrics records request counters in m and exposes gatherer on /metrics.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(o *serverOptions) {
		o.metrics = m
		o.gatherer = gatherer
	}
}

// JWTConfig derives token settings from cfg.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
}

// NewServer builds the HTTP server exposing svc over REST and WebSocket.
func NewServer(svc *backend.Service, cfg *config.Config, logger *zerolog.Logger, opts ...Option) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(svc, cfg, logger, opts...),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers all routes on a fresh gin engine.
func NewRouter(svc *backend.Service, cfg *config.Config, logger *zerolog.Logger, opts ...Option) *gin.Engine {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger), MetricsMiddleware(o.metrics))

	r.GET("/health", healthHandler)
	if o.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{})))
	}

	authMW := AuthMiddleware(JWTConfig(cfg), logger)

	conversations := NewConversationHandlers(svc, logger)
	profiles := NewProfileHandlers(svc, logger)
	contacts := NewContactHandlers(svc, logger)
	api := r.Group("/api", authMW)
	{
		api.GET("/conversations", conversations.List)
		api.POST("/conversations", conversations.Create)
		api.GET("/conversations/lookup", conversations.Lookup)
		api.GET("/conversations/:id", conversations.Get)
		api.GET("/conversations/:id/messages", conversations.Messages)
		api.POST("/conversations/:id/messages", conversations.Send)
		api.GET("/profiles", profiles.Query)
		api.PUT("/profile", profiles.Upsert)
		api.GET("/users", profiles.Directory)
		api.GET("/users/lookup", profiles.Lookup)
		api.GET("/contacts", contacts.List)
		api.POST("/contacts", contacts.Add)
		api.DELETE("/contacts/:id", contacts.Remove)
	}

	ws := NewWSHandlers(svc, logger)
	stream := r.Group("/ws", authMW)
	{
		stream.GET("/conversations/:id", ws.Conversation)
		stream.GET("/inbox", ws.Inbox)
	}

	return r
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
