// Package api serves the dashboard: REST queries over the alert corpus and
// a websocket channel streaming new alerts.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"choch-scanner/config"
	"choch-scanner/internal/database"
	"choch-scanner/internal/logging"
)

// AlertRepository is the slice of the database repository the dashboard
// reads from. nil when persistence is disabled; endpoints then answer 503.
type AlertRepository interface {
	RecentAlerts(ctx context.Context, limit, offset int) ([]*database.Alert, error)
	FilterAlerts(ctx context.Context, filter database.AlertFilter) ([]*database.Alert, error)
	Stats(ctx context.Context) (*database.AlertStats, error)
	UniqueValues(ctx context.Context) (*database.FilterValues, error)
	RecentArchived(ctx context.Context, limit, offset int) ([]*database.ArchivedAlert, error)
	HealthCheck(ctx context.Context) error
}

// Server is the dashboard HTTP server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	repo       AlertRepository
	hub        *WSHub
	cfg        config.ServerConfig
	logger     *logging.Logger
}

// NewServer builds the router and wires the hub. The hub's Run loop is
// started here.
func NewServer(cfg config.ServerConfig, repo AlertRepository, hub *WSHub) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		repo:   repo,
		hub:    hub,
		cfg:    cfg,
		logger: logging.WithComponent("api"),
	}
	s.registerRoutes()

	go hub.Run()

	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	{
		api.GET("/alerts", s.handleRecentAlerts)
		api.GET("/alerts/filter", s.handleFilterAlerts)
		api.GET("/alerts/stats", s.handleStats)
		api.GET("/alerts/filters", s.handleFilterValues)
		api.GET("/alerts/archive", s.handleArchive)
	}
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	s.logger.Info("Dashboard server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
