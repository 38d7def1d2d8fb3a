package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/orun-dev/orun/internal/audit"
	"github.com/orun-dev/orun/internal/config"
	"github.com/orun-dev/orun/internal/engine"
	"github.com/orun-dev/orun/internal/idp"
	"github.com/orun-dev/orun/internal/models"
	"github.com/orun-dev/orun/internal/session"
	"github.com/orun-dev/orun/internal/stats"
)

// Server is the operator console gateway. It owns the process-wide session
// manager, the engine client and the HTTP surface the dashboard consumes.
type Server struct {
	router       *gin.Engine
	db           *gorm.DB
	config       *config.Config
	logger       zerolog.Logger
	validator    *validator.Validate
	sessions     *session.Manager
	engineClient *engine.Client
	auditService *audit.Service
	collector    *stats.Collector
	version      string
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := initDatabase(cfg, zlog)
	if err != nil {
		return nil, err
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, err
	}

	provider := idp.New(idp.Config{
		BaseURL:     cfg.Provider.URL,
		Realm:       cfg.Provider.Realm,
		ClientID:    cfg.Provider.ClientID,
		RedirectURL: cfg.Server.PublicURL + "/auth/callback",
	})

	sessions := session.NewManager(provider, cfg.Server.PublicURL, zlog)
	engineClient := engine.New(cfg.Engine.BaseURL, cfg.Engine.Timeout, sessions)

	server := &Server{
		db:           db,
		config:       cfg,
		logger:       zlog,
		validator:    validator.New(),
		sessions:     sessions,
		engineClient: engineClient,
		auditService: audit.NewService(db, zlog),
		collector:    stats.NewCollector(engineClient, cfg.Stats.PollInterval, zlog),
		version:      version,
	}

	server.setupRouter()

	return server, nil
}

// initDatabase initializes the audit database with production settings
func initDatabase(cfg *config.Config, zlog zerolog.Logger) (*gorm.DB, error) {
	const (
		maxOpenConns    = 4
		maxIdleConns    = 2
		connMaxLifetime = 300 * time.Second
		busyTimeout     = 5000
	)

	db, err := gorm.Open(sqlite.Open(cfg.Audit.DatabaseURL), &gorm.Config{
		Logger: gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				LogLevel:                  gormlogger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode must be set first for optimal concurrency
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=1",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	return db, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{s.config.Server.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint (no auth required)
	s.router.GET("/health", s.healthCheck)

	// Session endpoints (no auth required)
	authRoutes := s.router.Group("/auth")
	{
		authRoutes.GET("/login", s.login)
		authRoutes.GET("/callback", s.loginCallback)
		authRoutes.POST("/logout", s.logout)
		authRoutes.GET("/session", s.getSession)
	}

	// Dashboard API (authenticated operator with the orun-admin role)
	api := s.router.Group("/api/v1")
	api.Use(SessionRequiredMiddleware(s.sessions, s.logger))
	api.Use(AdminOnlyMiddleware(s.sessions, s.logger))
	{
		// Process definitions
		api.GET("/processes", s.listProcessDefinitions)
		api.GET("/processes/:id", s.getProcessDefinition)

		// Process instances
		api.GET("/instances", s.listProcessInstances)
		api.GET("/instances/:id", s.getProcessInstance)
		api.PUT("/instances/:id/suspension", s.setInstanceSuspension)
		api.DELETE("/instances/:id", s.cancelProcessInstance)
		api.GET("/instances/:id/activity-instances", s.listActivityInstances)

		// Variables (data surgery)
		api.GET("/instances/:id/variables", s.listVariables)
		api.PATCH("/instances/:id/variables", s.updateVariable)

		// Jobs
		api.GET("/jobs", s.listJobs)
		api.POST("/jobs/:id/retries", s.retryJob)
		api.GET("/jobs/:id/stacktrace", s.getJobStacktrace)

		// Dashboard read model
		api.GET("/stats", s.getStats)

		// Audit trail
		api.GET("/audit", s.listAuditEntries)
	}
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("request_id", GetRequestID(c)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "orun-gateway",
		"version":   s.version,
	})
}

// Start initializes the session, starts the background loops and serves
// HTTP until a shutdown signal arrives.
func (s *Server) Start() error {
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	authenticated, err := s.sessions.Initialize(bootCtx)
	bootCancel()
	if err != nil {
		// The gateway still serves the login flow; the operator can
		// authenticate interactively once the provider is reachable.
		s.logger.Warn().Err(err).Msg("Session initialization failed, continuing unauthenticated")
	} else {
		s.logger.Info().Bool("authenticated", authenticated).Msg("Session manager ready")
	}

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	go s.collector.Run(backgroundCtx)
	go s.auditService.StartPruner(backgroundCtx, s.config.Audit.PruneSchedule, s.config.Audit.RetentionDays)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              s.config.Server.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", s.config.Server.ListenAddr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	<-sigChan
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	// Stop background loops and the session refresh cycle before the
	// listener so nothing fires against a torn-down session.
	backgroundCancel()
	s.sessions.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing database")
		}
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}

// Router exposes the configured router for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
