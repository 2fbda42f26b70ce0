package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"invest-engine/config"
	"invest-engine/internal/admin"
	"invest-engine/internal/api"
	"invest-engine/internal/auth"
	"invest-engine/internal/cache"
	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/events"
	"invest-engine/internal/ledger"
	"invest-engine/internal/logging"
	"invest-engine/internal/plans"
	"invest-engine/internal/referral"
	"invest-engine/internal/requests"
	"invest-engine/internal/rewards"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:     cfg.LoggingConfig.Level,
		Output:    cfg.LoggingConfig.Output,
		JSON:      cfg.LoggingConfig.JSONFormat,
		Component: "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Service-level logger
	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize event bus
	eventBus := events.NewEventBus()
	logger.Info("Event bus initialized")

	// Canonical clock: every day-boundary and window check runs in one zone
	clock, err := engine.NewZoneClock(cfg.EngineConfig.Timezone)
	if err != nil {
		log.Fatalf("Invalid engine timezone %q: %v", cfg.EngineConfig.Timezone, err)
	}

	// Policy snapshot, hot-reloadable through the admin API
	settings := engine.NewSettingsHolder(settingsFromConfig(cfg.EngineConfig))

	// Initialize database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repository
	repo := database.NewRepository(db)

	// Seed the admin account if credentials are configured
	if cfg.AdminConfig.Email != "" {
		if err := auth.SeedAdminUser(ctx, db, cfg.AdminConfig.Email, cfg.AdminConfig.Password); err != nil {
			log.Fatalf("Failed to seed admin user: %v", err)
		}
	}

	// Core services
	ledgerService := ledger.New(repo, eventBus, zlog)
	planManager := plans.NewManager(repo, ledgerService, clock, eventBus, zlog)
	referralService := referral.New(repo, ledgerService, settings.Load().ReferralRates, zlog)
	requestService := requests.New(repo, ledgerService, planManager, referralService, settings, clock, eventBus, zlog)
	rewardService := rewards.New(repo, ledgerService, planManager, clock, eventBus, nil, zlog)
	adminService := admin.New(repo, ledgerService, planManager, referralService, settings, eventBus, zlog)

	// Daily accrual scheduler
	scheduler := plans.NewScheduler(planManager, repo, &plans.SchedulerConfig{
		CheckInterval:  time.Duration(cfg.AccrualConfig.CheckIntervalMins) * time.Minute,
		MaxConcurrent:  cfg.AccrualConfig.MaxConcurrent,
		AccrualTimeout: 30 * time.Second,
	}, zlog)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start accrual scheduler: %v", err)
	}

	// Optional Redis read cache
	var balanceCache *cache.BalanceCache
	if cfg.RedisConfig.Enabled {
		balanceCache, err = cache.New(ctx, cache.Config{
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		}, eventBus, zlog)
		if err != nil {
			logger.Warn("Redis unavailable, serving reads from the database", "error", err)
			balanceCache = nil
		} else {
			defer balanceCache.Close()
		}
	}

	// Authentication
	authService, err := auth.NewService(repo, auth.Config{
		JWTSecret:           cfg.AuthConfig.JWTSecret,
		AccessTokenDuration: cfg.AuthConfig.AccessTokenDuration,
		MinPasswordLength:   cfg.AuthConfig.MinPasswordLength,
	}, zlog)
	if err != nil {
		log.Fatalf("Failed to initialize auth service: %v", err)
	}

	// HTTP server
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: strings.Split(cfg.ServerConfig.AllowedOrigins, ","),
		ProductionMode: os.Getenv("GIN_MODE") == "release",
	}, api.Deps{
		Repo:        repo,
		DB:          db,
		EventBus:    eventBus,
		AuthService: authService,
		Ledger:      ledgerService,
		Plans:       planManager,
		Scheduler:   scheduler,
		Requests:    requestService,
		Rewards:     rewardService,
		Admin:       adminService,
		Settings:    settings,
		Clock:       clock,
		Cache:       balanceCache,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutdown signal received")

	if err := scheduler.Stop(); err != nil {
		logger.Warn("Scheduler stop failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}

	logger.Info("Shutdown complete")
}

// settingsFromConfig converts the boot configuration into the first policy
// snapshot
func settingsFromConfig(ec config.EngineConfig) *engine.Settings {
	weekdays := make([]time.Weekday, 0, len(ec.WithdrawWeekdays))
	for _, d := range ec.WithdrawWeekdays {
		if d >= 0 && d <= 6 {
			weekdays = append(weekdays, time.Weekday(d))
		}
	}

	return &engine.Settings{
		MinWithdrawal:     ec.MinWithdrawal,
		WithdrawWeekdays:  weekdays,
		WithdrawOpenHour:  ec.WithdrawOpenHour,
		WithdrawCloseHour: ec.WithdrawCloseHour,
		InstantFeeRate:    ec.InstantFeeRate,
		ReferralRates:     ec.ReferralRates,
		DisplayRate:       ec.DisplayRate,
	}
}
