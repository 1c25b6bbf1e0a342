// Package api provides the daemon's local HTTP API.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds configuration for the API router.
type Config struct {
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates the daemon router. The metrics registry may be nil
// when metrics are not wired.
func NewRouter(cfg Config, h *Handler, registry *prometheus.Registry, logger zerolog.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(RequestLogger(logger))

	r.Engine.GET("/health", h.Health)
	r.Engine.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    cfg.Version,
			"commit":     cfg.Commit,
			"build_date": cfg.BuildDate,
		})
	})

	if registry != nil {
		r.Engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Engine.Group("/api/v1")
	h.RegisterRoutes(v1)
	return r
}

// RequestLogger returns a middleware that logs HTTP requests using
// zerolog.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "http").Logger()

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
