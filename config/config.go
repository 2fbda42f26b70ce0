package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	AuthConfig     AuthConfig     `json:"auth"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	EngineConfig   EngineConfig   `json:"engine"`
	AccrualConfig  AccrualConfig  `json:"accrual"`
	AdminConfig    AdminConfig    `json:"admin"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for read caching
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	MinPasswordLength   int           `json:"min_password_length"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // DEBUG, INFO, WARN, ERROR
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // Output as JSON
}

// EngineConfig is the policy surface: withdrawal gating, fees, referral
// rates. These seed the hot-reloadable settings snapshot at startup.
type EngineConfig struct {
	Timezone          string    `json:"timezone"` // canonical zone for day boundaries
	MinWithdrawal     float64   `json:"min_withdrawal"`
	WithdrawWeekdays  []int     `json:"withdraw_weekdays"` // 0=Sunday .. 6=Saturday
	WithdrawOpenHour  int       `json:"withdraw_open_hour"`
	WithdrawCloseHour int       `json:"withdraw_close_hour"`
	InstantFeeRate    float64   `json:"instant_fee_rate"`
	ReferralRates     []float64 `json:"referral_rates"`
	DisplayRate       float64   `json:"display_rate"`
}

// AccrualConfig tunes the daily accrual scheduler
type AccrualConfig struct {
	CheckIntervalMins int `json:"check_interval_mins"`
	MaxConcurrent     int `json:"max_concurrent"`
}

// AdminConfig holds the seeded admin credentials
type AdminConfig struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", 8080)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", "0.0.0.0")
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", "*")
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", 30)
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", 30)
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10)

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultString(cfg.DatabaseConfig.User, "invest_engine"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultString(cfg.DatabaseConfig.Database, "invest_engine"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultString(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", "localhost:6379")
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", 0)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", 10)

	// Auth config - ALWAYS apply from environment
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", 24*time.Hour)
	cfg.AuthConfig.MinPasswordLength = getEnvIntOrDefault("AUTH_MIN_PASSWORD_LENGTH", 8)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", "INFO")
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", "stdout")
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"

	// Engine config
	cfg.EngineConfig.Timezone = getEnvOrDefault("ENGINE_TIMEZONE", defaultString(cfg.EngineConfig.Timezone, "UTC"))
	cfg.EngineConfig.MinWithdrawal = getEnvFloatOrDefault("ENGINE_MIN_WITHDRAWAL", defaultFloat(cfg.EngineConfig.MinWithdrawal, 10))
	cfg.EngineConfig.WithdrawOpenHour = getEnvIntOrDefault("ENGINE_WITHDRAW_OPEN_HOUR", defaultInt(cfg.EngineConfig.WithdrawOpenHour, 10))
	cfg.EngineConfig.WithdrawCloseHour = getEnvIntOrDefault("ENGINE_WITHDRAW_CLOSE_HOUR", defaultInt(cfg.EngineConfig.WithdrawCloseHour, 17))
	cfg.EngineConfig.InstantFeeRate = getEnvFloatOrDefault("ENGINE_INSTANT_FEE_RATE", defaultFloat(cfg.EngineConfig.InstantFeeRate, 0.02))
	cfg.EngineConfig.DisplayRate = getEnvFloatOrDefault("ENGINE_DISPLAY_RATE", defaultFloat(cfg.EngineConfig.DisplayRate, 1.0))
	if v := os.Getenv("ENGINE_WITHDRAW_WEEKDAYS"); v != "" {
		cfg.EngineConfig.WithdrawWeekdays = parseIntList(v)
	}
	if len(cfg.EngineConfig.WithdrawWeekdays) == 0 {
		cfg.EngineConfig.WithdrawWeekdays = []int{1, 2, 3, 4, 5}
	}
	if len(cfg.EngineConfig.ReferralRates) == 0 {
		cfg.EngineConfig.ReferralRates = []float64{0.05, 0.03, 0.01, 0.01, 0.01}
	}

	// Accrual config
	cfg.AccrualConfig.CheckIntervalMins = getEnvIntOrDefault("ACCRUAL_CHECK_INTERVAL_MINS", defaultInt(cfg.AccrualConfig.CheckIntervalMins, 5))
	cfg.AccrualConfig.MaxConcurrent = getEnvIntOrDefault("ACCRUAL_MAX_CONCURRENT", defaultInt(cfg.AccrualConfig.MaxConcurrent, 5))

	// Admin config
	cfg.AdminConfig.Email = getEnvOrDefault("ADMIN_EMAIL", cfg.AdminConfig.Email)
	cfg.AdminConfig.Password = getEnvOrDefault("ADMIN_PASSWORD", cfg.AdminConfig.Password)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func parseIntList(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}
