// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentinelgate/sentinel/internal/audit"
	"github.com/sentinelgate/sentinel/internal/authz"
	"github.com/sentinelgate/sentinel/internal/config"
	"github.com/sentinelgate/sentinel/internal/dialog"
	"github.com/sentinelgate/sentinel/internal/health"
	"github.com/sentinelgate/sentinel/internal/idgen"
	"github.com/sentinelgate/sentinel/internal/logging"
	"github.com/sentinelgate/sentinel/internal/metrics"
	"github.com/sentinelgate/sentinel/internal/policy"
	"github.com/sentinelgate/sentinel/internal/ratelimit"
	"github.com/sentinelgate/sentinel/internal/realtime"
	"github.com/sentinelgate/sentinel/internal/scorer"
	"github.com/sentinelgate/sentinel/internal/security"
	"github.com/sentinelgate/sentinel/internal/validation"
	"github.com/sentinelgate/sentinel/internal/voice"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	machine     *authz.Machine
	controller  *dialog.Controller
	scorer      *scorer.Client
	channel     voice.Channel
	auditStore  audit.Store
	pgStore     *audit.PostgresStore // nil if using in-memory
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	healthReg   *health.Registry
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	cancelRun   context.CancelFunc

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithVoiceChannel sets a custom voice channel (for testing)
func WithVoiceChannel(ch voice.Channel) Option {
	return func(s *Server) {
		s.channel = ch
	}
}

// WithAuditStore sets a custom audit store (for testing)
func WithAuditStore(st audit.Store) Option {
	return func(s *Server) {
		s.auditStore = st
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set channel/logger/store)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Audit storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.auditStore == nil {
		if cfg.DatabaseURL != "" {
			pg, err := audit.NewPostgresStore(cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("audit store: %w", err)
			}
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("audit store: %w", err)
			}
			s.pgStore = pg
			s.auditStore = pg
			s.logger.Info("using PostgreSQL audit store", "url", maskDSN(cfg.DatabaseURL))
		} else {
			s.auditStore = audit.NewMemoryStore(0)
			s.logger.Info("using in-memory audit store")
		}
	}

	if s.channel == nil {
		s.channel = voice.NewTelnyx(voice.TelnyxConfig{
			BaseURL:      cfg.VoiceAPIURL,
			APIKey:       cfg.VoiceAPIKey,
			ConnectionID: cfg.VoiceConnectionID,
		})
	}

	s.scorer = scorer.New(scorer.Config{
		BaseURL: cfg.ScorerURL,
		APIKey:  cfg.ScorerAPIKey,
		Model:   cfg.ScorerModel,
		Timeout: cfg.ScorerTimeout,
	})

	s.realtimeHub = realtime.NewHub(s.logger)

	engine := policy.NewEngine(nil, cfg.EscalateThreshold)
	s.machine = authz.NewMachine(engine, s.scorer, s.auditStore, hubEmitter{hub: s.realtimeHub}, cfg.PendingTimeout)

	s.controller = dialog.New(dialog.Config{
		ApproverNumber: cfg.ApproverNumber,
		FromNumber:     cfg.VoiceFromNumber,
	}, s.channel, s.machine, s.scorer, nil)
	s.machine.SetEscalator(s.controller)

	s.healthReg = health.NewRegistry()
	s.healthReg.Register("audit_store", func(ctx context.Context) health.Status {
		if err := s.auditStore.Ping(ctx); err != nil {
			return health.Status{Name: "audit_store", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "audit_store", Healthy: true}
	})

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// hubEmitter adapts the realtime hub to the machine's Emitter interface.
type hubEmitter struct {
	hub *realtime.Hub
}

func (e hubEmitter) CaseUpdated(c authz.Case)  { e.hub.BroadcastCaseUpdated(c) }
func (e hubEmitter) CaseResolved(c authz.Case) { e.hub.BroadcastCaseResolved(c) }

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limits := ratelimit.DefaultConfig()
	limits.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(limits)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(8)
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func (s *Server) setupRoutes() {
	// Health and observability
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", s.infoHandler)

	v1 := s.router.Group("/v1")
	{
		v1.POST("/actions", s.submitActionHandler)
		v1.GET("/case", s.caseStatusHandler)
		// Alias kept for agents built against the original poll path.
		v1.GET("/actions/current", s.caseStatusHandler)
		v1.POST("/voice/webhook", s.voiceWebhookHandler)
		v1.GET("/decisions", s.listDecisionsHandler)
	}

	// Live dashboard feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "sentinel",
		"description": "Authorization gateway for autonomous agent actions",
		"version":     "0.1.0",
		"endpoints": gin.H{
			"submit":    "POST /v1/actions",
			"status":    "GET /v1/case",
			"decisions": "GET /v1/decisions",
			"stream":    "GET /ws",
		},
	})
}

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"escalate_threshold", s.cfg.EscalateThreshold,
			"pending_timeout", s.cfg.PendingTimeout.String(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel background goroutines (realtime hub)
	if s.cancelRun != nil {
		s.cancelRun()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.pgStore != nil {
		if err := s.pgStore.Close(); err != nil {
			s.logger.Error("audit store close error", "error", err)
		} else {
			s.logger.Info("audit store closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the realtime hub so Run-less callers (tests) can drive it.
func (s *Server) Hub() *realtime.Hub {
	return s.realtimeHub
}

// maskDSN hides credentials in a database URL for logging
func maskDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i >= 0 {
		if j := strings.Index(dsn, "://"); j >= 0 && j+3 < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}
