// Package gateway is the HTTP surface of the service: session lifecycle,
// evaluations, history export and the live result stream.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/terminal-bench/blasttap/internal/alerts"
	"github.com/terminal-bench/blasttap/internal/cache"
	"github.com/terminal-bench/blasttap/internal/export"
	"github.com/terminal-bench/blasttap/internal/feed"
	"github.com/terminal-bench/blasttap/internal/history"
	"github.com/terminal-bench/blasttap/internal/session"
	"github.com/terminal-bench/blasttap/internal/sink"
	"go.uber.org/zap"
)

// Config holds gateway configuration
type Config struct {
	JWTSecret string
	Debug     bool
}

// Archive reads history kept beyond a session's lifetime.
type Archive interface {
	List(ctx context.Context, sessionID uuid.UUID, limit int) ([]history.Entry, error)
}

// Broker reports the health of the event broker connection.
type Broker interface {
	IsConnected() bool
	Reconnects() int64
}

// Deps are the collaborators the handlers call. Only Registry is required.
type Deps struct {
	Registry   *session.Registry
	Dispatcher *sink.Dispatcher
	Cache      *cache.Latest
	Alerts     *alerts.Engine
	Hub        *feed.Hub
	Exporter   *export.Uploader
	Archive    Archive
	Broker     Broker
	Logger     *zap.Logger
	Now        func() time.Time
}

// Gateway is the API gateway
type Gateway struct {
	router *gin.Engine
	deps   Deps
	ws     *feed.Handler
}

// New builds the router.
func New(cfg Config, deps Deps) *Gateway {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	g := &Gateway{router: gin.New(), deps: deps}
	if deps.Hub != nil {
		g.ws = feed.NewHandler(deps.Hub)
	}
	deps.Registry.OnEnd(g.endSession)
	g.setupRoutes(cfg)
	return g
}

// Handler returns the HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) setupRoutes(cfg Config) {
	g.router.Use(gin.Recovery())
	g.router.Use(g.tracingMiddleware())
	g.router.Use(g.loggingMiddleware())

	g.router.GET("/health", g.healthCheck)

	auth := Auth(cfg.JWTSecret)
	v1 := g.router.Group("/api/v1")
	{
		v1.POST("/evaluate", auth, g.evaluateStateless)
		v1.GET("/alerts", g.listAlerts)
		v1.POST("/sinks/:name/reset", auth, g.resetSink)

		v1.POST("/sessions", auth, g.createSession)
		v1.GET("/sessions/:id", g.getSession)
		v1.DELETE("/sessions/:id", auth, g.deleteSession)
		v1.POST("/sessions/:id/evaluate", auth, g.evaluateSession)
		v1.POST("/sessions/:id/reset", auth, g.resetSession)
		v1.GET("/sessions/:id/latest", g.latest)
		v1.GET("/sessions/:id/history", g.historyJSON)
		v1.GET("/sessions/:id/history.csv", g.historyCSV)
		v1.POST("/sessions/:id/export", auth, g.exportHistory)
		v1.GET("/sessions/:id/archive", g.archived)
	}

	g.router.GET("/ws/sessions/:id", g.stream)
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

func (g *Gateway) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		g.deps.Logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("correlation_id", c.GetString("correlation_id")),
		)
	}
}
