package admin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ledgerline/histories"
	"github.com/ledgerline/histories/internal/logger"
)

// Config holds the admin server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Auth         AuthConfig
}

// Server wraps the admin HTTP server
type Server struct {
	config     Config
	handler    *Handler
	httpServer *http.Server
}

// New creates a new admin server over the given plugin and database
func New(cfg Config, plugin *histories.Plugin, db *gorm.DB) *Server {
	return &Server{
		config:  cfg,
		handler: NewHandler(plugin, db),
	}
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(Recovery())
	router.Use(RequestID())
	router.Use(Logger())
	router.Use(SetupCORS())

	SetupRoutes(router, s.handler, s.config.Auth)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting history admin server", zap.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down history admin server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	return nil
}

// SetupRoutes configures the admin API routes
func SetupRoutes(router *gin.Engine, handler *Handler, authCfg AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	v1.Use(Auth(authCfg))
	{
		v1.GET("/tables", handler.ListTables)
		v1.GET("/tables/:table/rows/:pk/history", handler.GetRowHistory)
		v1.POST("/tables/:table/rows/:pk/history/:id/revert", handler.RevertEntry)
	}
}
