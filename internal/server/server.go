// Package server exposes worker sessions over HTTP. Each websocket
// connection on /v1/worker owns one session for its lifetime.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bhandras/evalworker/internal/auth"
	"github.com/bhandras/evalworker/internal/metrics"
	"github.com/bhandras/evalworker/internal/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const defaultDrainTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	// Sessions opens one session per connection.
	Sessions *session.Manager

	// JWT verifies bearer tokens on /v1 routes.
	JWT *auth.JWTManager

	AllowedOrigins []string

	// RateLimit is the sustained inbound messages per second per
	// connection. Zero disables smoothing.
	RateLimit float64
	RateBurst int

	// MaxFrameSize is the largest inbound frame accepted as a request.
	// Larger frames are answered as invalid requests. Zero means 64 KiB.
	MaxFrameSize int

	// DrainTimeout bounds how long a closing connection waits for its
	// session to answer already accepted messages.
	DrainTimeout time.Duration

	// Health, when set, is consulted by /healthz.
	Health func(ctx context.Context) error
}

// Server is the HTTP front of the worker.
type Server struct {
	opts     Options
	router   *gin.Engine
	upgrader websocket.Upgrader
}

// New builds the router.
func New(opts Options) *Server {
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS policy is applied by the middleware.
			},
		},
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  opts.AllowedOrigins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
	}))
	router.Use(LoggingMiddleware())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := router.Group("/v1")
	v1.Use(AuthMiddleware(opts.JWT))
	{
		v1.GET("/worker", s.handleWorker)
		v1.GET("/sessions", s.handleListSessions)
	}

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": len(s.opts.Sessions.IDs()),
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.opts.Sessions.IDs()})
}
