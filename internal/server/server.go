// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/toolpay/toolpay/internal/auth"
	"github.com/toolpay/toolpay/internal/bank"
	"github.com/toolpay/toolpay/internal/chain"
	"github.com/toolpay/toolpay/internal/config"
	"github.com/toolpay/toolpay/internal/escrow"
	"github.com/toolpay/toolpay/internal/health"
	"github.com/toolpay/toolpay/internal/logging"
	"github.com/toolpay/toolpay/internal/metrics"
	"github.com/toolpay/toolpay/internal/ratelimit"
	"github.com/toolpay/toolpay/internal/realtime"
	"github.com/toolpay/toolpay/internal/registry"
	"github.com/toolpay/toolpay/internal/security"
	"github.com/toolpay/toolpay/internal/traces"
	"github.com/toolpay/toolpay/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	authMgr       *auth.Manager
	registry      *registry.Service
	bank          *bank.Service
	escrowService *escrow.Service
	escrowTimer   *escrow.Timer
	heights       escrow.HeightSource
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	healthChecks  *health.Registry
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	tracesStop    func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

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

// WithHeightSource sets a custom block height source (for testing)
func WithHeightSource(hs escrow.HeightSource) Option {
	return func(s *Server) {
		s.heights = hs
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	// Apply options first (may set logger/heights)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Block height oracle: real chain when an RPC endpoint is configured,
	// simulated clock-driven height otherwise.
	if s.heights == nil {
		if cfg.RPCURL != "" {
			src, err := chain.NewEthSource(cfg.RPCURL, s.logger)
			if err != nil {
				return nil, fmt.Errorf("failed to connect height oracle: %w", err)
			}
			s.heights = src
			s.logger.Info("block height oracle connected", "rpc", cfg.RPCURL)
		} else {
			s.heights = chain.NewSimSource(time.Duration(cfg.BlockInterval) * time.Second)
			s.logger.Info("using simulated block height", "intervalSeconds", cfg.BlockInterval)
		}
	}

	escrowCfg := escrow.Config{
		Owner:                  validation.SanitizeAddress(cfg.OwnerAddress),
		FeePercent:             cfg.FeePercent,
		MaxTTL:                 cfg.MaxEscrowTTL,
		FreezeBlocksSettlement: cfg.FreezeBlocksSettlement,
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var escrowStore escrow.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.registry = registry.NewService(registry.NewPostgresStore(db), s.logger)
		s.bank = bank.NewService(bank.NewPostgresStore(db))

		pgEscrow := escrow.NewPostgresStore(db)
		if err := pgEscrow.EnsureConfig(ctx, escrowCfg); err != nil {
			return nil, fmt.Errorf("failed to initialize escrow config: %w", err)
		}
		escrowStore = pgEscrow
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.registry = registry.NewService(registry.NewMemoryStore(), s.logger)
		s.bank = bank.NewService(bank.NewMemoryStore())
		escrowStore = escrow.NewMemoryStore(escrowCfg)
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Escrow core: bank custodies funds, registry resolves tools and
	// providers, the height source drives expiry.
	s.escrowService = escrow.NewService(
		escrowStore,
		s.bank,
		&registryDirectory{s.registry},
		s.heights,
		s.logger,
	).WithEvents(realtime.NewEscrowSink(s.realtimeHub))
	s.escrowTimer = escrow.NewTimer(s.escrowService, escrowStore, s.heights, s.logger)
	s.logger.Info("escrow enabled",
		"owner", escrowCfg.Owner,
		"feePercent", escrowCfg.FeePercent,
		"maxTtl", escrowCfg.MaxTTL,
	)

	s.registerHealthChecks()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	s.healthChecks.Register("heights", func(ctx context.Context) health.Status {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		h, err := s.heights.Height(ctx)
		if err != nil {
			return health.Status{Name: "heights", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "heights", Healthy: true, Detail: fmt.Sprintf("height=%d", h)}
	})
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
		rlCfg.BurstSize = s.cfg.RateLimitRPS
	}
	s.rateLimiter = ratelimit.New(rlCfg)
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
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time escrow event streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	registryHandler := registry.NewHandler(s.registry, s.logger)
	bankHandler := bank.NewHandler(s.bank, s.logger)
	escrowHandler := escrow.NewHandler(s.escrowService)
	authHandler := auth.NewHandler(s.authMgr)

	// PUBLIC ROUTES (no auth required)
	// Discovery and read endpoints, plus key issuance.
	registryHandler.RegisterRoutes(v1)
	bankHandler.RegisterRoutes(v1)
	escrowHandler.RegisterRoutes(v1)
	authHandler.RegisterRoutes(v1)
	v1.GET("/platform", s.platformHandler)
	v1.GET("/heights", s.heightHandler)
	v1.GET("/ws/stats", s.wsStatsHandler)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	{
		registryHandler.RegisterAuthedRoutes(protected)
		escrowHandler.RegisterProtectedRoutes(protected)
		authHandler.RegisterAuthedRoutes(protected)
	}

	// ADMIN ROUTES (X-Admin-Secret header)
	admin := v1.Group("")
	admin.Use(auth.Middleware(s.authMgr), auth.AdminOnly(s.cfg.AdminSecret))
	{
		escrowHandler.RegisterAdminRoutes(admin)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthChecks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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
		"name":        "toolpay",
		"description": "Pay-per-call escrow for metered API and tool usage",
		"version":     "0.1.0",
	})
}

// platformHandler returns platform parameters callers need before locking funds
func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"name":         "toolpay",
			"version":      "0.1.0",
			"owner":        s.cfg.OwnerAddress,
			"feePercent":   s.cfg.FeePercent,
			"maxEscrowTtl": s.cfg.MaxEscrowTTL,
			"defaultDenom": s.cfg.DefaultDenom,
			"poolAddress":  escrow.PoolAddress,
		},
		"instructions": gin.H{
			"lock":    "POST /v1/escrows with toolId, maxFee and expires (current height + TTL)",
			"release": "Providers POST /v1/escrows/{id}/release with the metered usageFee",
			"refund":  "Anyone may POST /v1/escrows/{id}/refund once the escrow has expired",
		},
	})
}

// heightHandler exposes the oracle's view of the current block height
func (s *Server) heightHandler(c *gin.Context) {
	h, err := s.heights.Height(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to read block height", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "height_unavailable",
			"message": "Failed to read current block height",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"height": h})
}

func (s *Server) wsStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing is optional; without an endpoint Init installs a no-op provider.
	stop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesStop = stop
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start expiry sweeper
	go s.escrowTimer.Start(runCtx)

	// Periodic DB pool stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

	// Cancel the context for all background goroutines (hub, timer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.escrowTimer.Stop()

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if src, ok := s.heights.(*chain.EthSource); ok {
		src.Close()
	}

	if s.tracesStop != nil {
		if err := s.tracesStop(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// registryDirectory adapts registry.Service to escrow.Directory
type registryDirectory struct {
	r *registry.Service
}

func (d *registryDirectory) Tool(ctx context.Context, toolID string) (*escrow.ToolInfo, error) {
	tool, err := d.r.GetTool(ctx, toolID)
	if err != nil {
		if errors.Is(err, registry.ErrToolNotFound) {
			return nil, escrow.ErrToolNotFound
		}
		return nil, err
	}
	return &escrow.ToolInfo{
		ToolID:      tool.ToolID,
		Provider:    tool.Provider,
		Price:       tool.Price,
		Denom:       tool.Denom,
		Active:      tool.Active,
		Description: tool.Description,
	}, nil
}
