// Package http serves the evaluation and payment API over gin.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meritpay/internal/logging"
	"meritpay/internal/orchestrator"
)

// Config holds the HTTP listener settings.
type Config struct {
	Host           string
	Port           int
	EnableCORS     bool
	Debug          bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig matches the development defaults.
func DefaultConfig() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           3001,
		EnableCORS:     true,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute,
		RequestTimeout: 5 * time.Minute,
	}
}

// Server is the HTTP boundary in front of the orchestrator.
type Server struct {
	orch       *orchestrator.Orchestrator
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger
}

// NewServer builds the router and wires all routes.
func NewServer(orch *orchestrator.Orchestrator, cfg Config, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	if cfg.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		engine.Use(cors.New(corsConfig))
	}

	server := &Server{
		orch:   orch,
		engine: engine,
		logger: logging.OrNop(logger),
	}

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	server.setupRoutes(cfg)
	return server
}

func (s *Server) setupRoutes(cfg Config) {
	api := s.engine.Group("/api")
	api.Use(JSONMiddleware())
	api.Use(TimeoutMiddleware(cfg.RequestTimeout))

	api.POST("/evaluate", s.handleEvaluate)

	payment := api.Group("/payment")
	{
		payment.POST("/process", s.handleProcessPayment)
		payment.GET("/balance", s.handleBalance)
		payment.POST("/deposit", s.handleDeposit)
	}

	api.GET("/sessions/:id", s.handleSession)

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
