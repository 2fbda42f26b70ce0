package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"invest-engine/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logging.Info("Connected to PostgreSQL database", "database", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.Info("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	logging.Info("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			name VARCHAR(100),
			balance DECIMAL(15, 2) NOT NULL DEFAULT 0,
			active_plan_id INTEGER,
			plan_activated_at TIMESTAMPTZ,
			trial_used BOOLEAN NOT NULL DEFAULT FALSE,
			referral_code VARCHAR(16) NOT NULL UNIQUE,
			referred_by VARCHAR(16),
			checkin_streak INTEGER NOT NULL DEFAULT 0,
			last_checkin_at TIMESTAMPTZ,
			last_spin_at TIMESTAMPTZ,
			status VARCHAR(10) NOT NULL DEFAULT 'ACTIVE',
			total_invested DECIMAL(15, 2) NOT NULL DEFAULT 0,
			total_withdrawn DECIMAL(15, 2) NOT NULL DEFAULT 0,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_referred_by ON users(referred_by)`,
		`CREATE INDEX IF NOT EXISTS idx_users_active_plan ON users(active_plan_id) WHERE active_plan_id IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			delta DECIMAL(15, 2) NOT NULL,
			reason VARCHAR(30) NOT NULL,
			ref_id VARCHAR(100) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_effect_key ON ledger_entries(user_id, reason, ref_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_user_created ON ledger_entries(user_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS deposit_requests (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			amount DECIMAL(15, 2) NOT NULL,
			method VARCHAR(20) NOT NULL,
			proof_ref VARCHAR(255),
			plan_id INTEGER,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			decided_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposit_requests_user ON deposit_requests(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deposit_requests_status ON deposit_requests(status)`,

		`CREATE TABLE IF NOT EXISTS withdraw_requests (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id),
			amount DECIMAL(15, 2) NOT NULL,
			method VARCHAR(20) NOT NULL,
			destination VARCHAR(255) NOT NULL,
			fee DECIMAL(15, 2) NOT NULL DEFAULT 0,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			decided_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_withdraw_requests_user ON withdraw_requests(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_withdraw_requests_status ON withdraw_requests(status)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	logging.Info("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
