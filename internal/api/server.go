package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"invest-engine/internal/admin"
	"invest-engine/internal/auth"
	"invest-engine/internal/cache"
	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/events"
	"invest-engine/internal/ledger"
	"invest-engine/internal/logging"
	"invest-engine/internal/plans"
	"invest-engine/internal/requests"
	"invest-engine/internal/rewards"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	// Filter out old requests
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	repo        *database.Repository
	db          *database.DB
	eventBus    *events.EventBus
	authService *auth.Service
	ledger      *ledger.Service
	plans       *plans.Manager
	scheduler   *plans.Scheduler
	requests    *requests.Service
	rewards     *rewards.Service
	admin       *admin.Service
	settings    *engine.SettingsHolder
	clock       engine.Clock
	cache       *cache.BalanceCache // nil when Redis is disabled

	rateLimiter *RateLimiter
	logger      *logging.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	ProductionMode bool
}

// Deps bundles the services the server exposes
type Deps struct {
	Repo        *database.Repository
	DB          *database.DB
	EventBus    *events.EventBus
	AuthService *auth.Service
	Ledger      *ledger.Service
	Plans       *plans.Manager
	Scheduler   *plans.Scheduler
	Requests    *requests.Service
	Rewards     *rewards.Service
	Admin       *admin.Service
	Settings    *engine.SettingsHolder
	Clock       engine.Clock
	Cache       *cache.BalanceCache
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		repo:        deps.Repo,
		db:          deps.DB,
		eventBus:    deps.EventBus,
		authService: deps.AuthService,
		ledger:      deps.Ledger,
		plans:       deps.Plans,
		scheduler:   deps.Scheduler,
		requests:    deps.Requests,
		rewards:     deps.Rewards,
		admin:       deps.Admin,
		settings:    deps.Settings,
		clock:       deps.Clock,
		cache:       deps.Cache,
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logging.WithComponent("api"),
	}

	server.setupRoutes()

	// WebSocket hub for real-time event broadcasting
	InitWebSocket(deps.EventBus)

	return server
}

// rateLimitMiddleware limits requests per authenticated user, falling back to
// client IP for public routes
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := auth.GetUserID(c)
		if key == "" {
			key = c.ClientIP()
		}

		if !s.rateLimiter.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   auth.ErrRateLimited.Code,
				"message": auth.ErrRateLimited.Message,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	jwtManager := s.authService.GetJWTManager()

	// Auth routes (public)
	authGroup := s.router.Group("/api/auth")
	authGroup.Use(s.rateLimitMiddleware())
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
	}

	// Public catalog
	s.router.GET("/api/plans", s.handleListPlans)
	s.router.GET("/api/wheel/prizes", s.handleWheelPrizes)

	// Authenticated user routes
	userGroup := s.router.Group("/api")
	userGroup.Use(auth.Middleware(jwtManager), s.rateLimitMiddleware())
	{
		userGroup.GET("/me", s.handleGetProfile)
		userGroup.POST("/me/password", s.handleChangePassword)
		userGroup.GET("/me/balance", s.handleGetBalance)
		userGroup.GET("/me/ledger", s.handleGetLedger)
		userGroup.GET("/me/plan", s.handleGetActivePlan)

		userGroup.POST("/plans/activate", s.handleActivatePlan)

		userGroup.POST("/deposits", s.handleSubmitDeposit)
		userGroup.GET("/deposits", s.handleListMyDeposits)
		userGroup.POST("/withdrawals", s.handleSubmitWithdrawal)
		userGroup.GET("/withdrawals", s.handleListMyWithdrawals)
		userGroup.GET("/withdrawals/window", s.handleWithdrawWindow)

		userGroup.POST("/checkin", s.handleCheckIn)
		userGroup.POST("/wheel/spin", s.handleSpin)

		userGroup.GET("/ws", s.handleWebSocket)
	}

	// Admin routes
	adminGroup := s.router.Group("/api/admin")
	adminGroup.Use(auth.Middleware(jwtManager), auth.RequireAdmin())
	{
		adminGroup.GET("/deposits/pending", s.handlePendingDeposits)
		adminGroup.POST("/deposits/:id/approve", s.handleApproveDeposit)
		adminGroup.POST("/deposits/:id/reject", s.handleRejectDeposit)

		adminGroup.GET("/withdrawals/pending", s.handlePendingWithdrawals)
		adminGroup.POST("/withdrawals/:id/approve", s.handleApproveWithdrawal)
		adminGroup.POST("/withdrawals/:id/reject", s.handleRejectWithdrawal)

		adminGroup.POST("/withdrawals", s.handleAdminSubmitWithdrawal)

		adminGroup.POST("/users/:id/adjust", s.handleAdjustBalance)
		adminGroup.POST("/users/:id/plan", s.handleGrantPlan)
		adminGroup.POST("/users/:id/status", s.handleSetStatus)
		adminGroup.POST("/users/:id/referrer", s.handleReassignReferrer)
		adminGroup.GET("/users/:id/audit", s.handleAuditUser)

		adminGroup.GET("/settings", s.handleGetSettings)
		adminGroup.PUT("/settings", s.handleReloadSettings)

		adminGroup.POST("/accrual/run", s.handleManualAccrual)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.db.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// engineErrorResponse maps engine error codes to HTTP statuses and renders
// the code alongside the message so clients can branch without parsing text
func engineErrorResponse(c *gin.Context, err error) {
	code := engine.CodeOf(err)
	if code == "" {
		if authErr, ok := err.(auth.AuthError); ok {
			status := http.StatusBadRequest
			switch authErr.Code {
			case auth.ErrInvalidCredentials.Code, auth.ErrInvalidToken.Code, auth.ErrTokenExpired.Code, auth.ErrUnauthorized.Code:
				status = http.StatusUnauthorized
			case auth.ErrForbidden.Code:
				status = http.StatusForbidden
			case auth.ErrEmailExists.Code:
				status = http.StatusConflict
			case auth.ErrUserNotFound.Code:
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": authErr.Code, "message": authErr.Message})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "INTERNAL",
			"message": "internal server error",
		})
		return
	}

	status := http.StatusBadRequest
	switch code {
	case "USER_NOT_FOUND", "REQUEST_NOT_FOUND", "PLAN_NOT_FOUND", "REFERRER_NOT_FOUND":
		status = http.StatusNotFound
	case "INVALID_TRANSITION", "DUPLICATE_EFFECT", "PLAN_ALREADY_ACTIVE", "ALREADY_CHECKED_IN", "ALREADY_SPUN_TODAY", "CYCLIC_REFERRAL":
		status = http.StatusConflict
	case "ACCOUNT_BLOCKED", "NOT_ELIGIBLE", "TRIAL_UNAVAILABLE", "OUTSIDE_WITHDRAW_WINDOW":
		status = http.StatusForbidden
	case "INSUFFICIENT_FUNDS", "BELOW_MINIMUM", "INVALID_AMOUNT":
		status = http.StatusUnprocessableEntity
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
