// Package cache provides a Redis read-through cache for hot read paths:
// user balances and profile snapshots. The ledger stays the source of truth;
// entries are invalidated off the event bus whenever a balance moves.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"invest-engine/internal/events"
)

const (
	balanceKeyPrefix = "balance:"
	profileKeyPrefix = "profile:"
	defaultTTL       = 5 * time.Minute
)

// Config holds Redis connection settings
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

// BalanceCache caches per-user balances with event-driven invalidation
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New connects to Redis and wires invalidation onto the bus. A nil bus skips
// the subscription (tests drive invalidation directly).
func New(ctx context.Context, cfg Config, bus *events.EventBus, logger zerolog.Logger) (*BalanceCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	c := &BalanceCache{
		client: client,
		ttl:    defaultTTL,
		logger: logger.With().Str("component", "cache").Logger(),
	}

	if bus != nil {
		bus.Subscribe(events.EventBalanceUpdate, c.onBalanceUpdate)
		bus.Subscribe(events.EventAccountStatus, c.onUserChanged)
		bus.Subscribe(events.EventPlanActivated, c.onUserChanged)
		bus.Subscribe(events.EventPlanExpired, c.onUserChanged)
	}

	return c, nil
}

// Close releases the Redis connection pool
func (c *BalanceCache) Close() error {
	return c.client.Close()
}

// GetBalance returns a cached balance; ok is false on miss or error
func (c *BalanceCache) GetBalance(ctx context.Context, userID string) (float64, bool) {
	val, err := c.client.Get(ctx, balanceKeyPrefix+userID).Float64()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("Balance cache read failed")
		}
		return 0, false
	}
	return val, true
}

// SetBalance stores a balance with the default TTL
func (c *BalanceCache) SetBalance(ctx context.Context, userID string, balance float64) {
	if err := c.client.Set(ctx, balanceKeyPrefix+userID, balance, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Balance cache write failed")
	}
}

// GetProfile unmarshals a cached profile into dst; ok is false on miss
func (c *BalanceCache) GetProfile(ctx context.Context, userID string, dst interface{}) bool {
	data, err := c.client.Get(ctx, profileKeyPrefix+userID).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

// SetProfile stores a profile snapshot with the default TTL
func (c *BalanceCache) SetProfile(ctx context.Context, userID string, profile interface{}) {
	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, profileKeyPrefix+userID, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("Profile cache write failed")
	}
}

// Invalidate drops all cached reads for one user
func (c *BalanceCache) Invalidate(ctx context.Context, userID string) {
	if err := c.client.Del(ctx, balanceKeyPrefix+userID, profileKeyPrefix+userID).Err(); err != nil {
		c.logger.Warn().Err(err).Str("user_id", userID).Msg("Cache invalidation failed")
	}
}

// onBalanceUpdate refreshes the balance key from the event payload and drops
// the profile snapshot
func (c *BalanceCache) onBalanceUpdate(event events.Event) {
	userID, _ := event.Data["user_id"].(string)
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if balance, ok := event.Data["balance"].(float64); ok {
		c.SetBalance(ctx, userID, balance)
	} else {
		c.client.Del(ctx, balanceKeyPrefix+userID)
	}
	c.client.Del(ctx, profileKeyPrefix+userID)
}

func (c *BalanceCache) onUserChanged(event events.Event) {
	userID, _ := event.Data["user_id"].(string)
	if userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Invalidate(ctx, userID)
}
