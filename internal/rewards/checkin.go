// Package rewards implements the engagement credits: daily check-in streaks
// and the weighted lucky wheel. Both are once per calendar day in the
// engine's canonical time zone and both pay through the ledger.
package rewards

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/events"
)

// Store defines the persistence interface for reward operations
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	UpdateCheckin(ctx context.Context, userID string, streak int, at time.Time) error
	UpdateLastSpin(ctx context.Context, userID string, at time.Time) error
}

// Ledger is the credit surface rewards pay through
type Ledger interface {
	Credit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error)
}

// Eligibility answers whether a user may spin the wheel
type Eligibility interface {
	HasPaidPlan(ctx context.Context, userID string) (bool, error)
}

// Service handles check-ins and wheel spins
type Service struct {
	store  Store
	ledger Ledger
	plans  Eligibility
	clock  engine.Clock
	bus    *events.EventBus
	rng    func() int // returns a value in [0, 100)
	logger zerolog.Logger
}

// New creates the rewards service. rng may be nil for the default source;
// tests inject a deterministic one. bus may be nil.
func New(store Store, ledger Ledger, plans Eligibility, clock engine.Clock, bus *events.EventBus, rng func() int, logger zerolog.Logger) *Service {
	if rng == nil {
		rng = defaultDraw
	}
	return &Service{
		store:  store,
		ledger: ledger,
		plans:  plans,
		clock:  clock,
		bus:    bus,
		rng:    rng,
		logger: logger.With().Str("component", "rewards").Logger(),
	}
}

// CheckinResult reports the outcome of a successful check-in
type CheckinResult struct {
	Streak  int     `json:"streak"`
	Reward  float64 `json:"reward"`
	Balance float64 `json:"balance"`
}

// CheckIn records today's check-in and credits the streak reward. The streak
// continues only from yesterday; any longer gap resets it. Reward for streak
// position d in the 30-day cycle is (d mod 30 + 1) cents.
func (s *Service) CheckIn(ctx context.Context, userID string) (*CheckinResult, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, engine.ErrUserNotFound
	}
	if user.Status == database.AccountBlocked {
		return nil, engine.ErrAccountBlocked
	}

	now := s.clock.Now()
	streak := user.CheckinStreak
	if user.LastCheckinAt != nil {
		last := user.LastCheckinAt.In(now.Location())
		switch {
		case engine.SameDay(last, now):
			return nil, engine.ErrAlreadyCheckedIn
		case engine.SameDay(last, now.AddDate(0, 0, -1)):
			// Streak continues
		default:
			streak = 0
		}
	} else {
		streak = 0
	}

	reward := round2(float64(streak%30+1) * 0.01)
	refID := "checkin:" + engine.DayKey(now)

	// The same-day guard above already caught a finished check-in, so a
	// duplicate entry here means an earlier attempt paid the reward but
	// failed before recording the streak; fall through and finish it.
	balance, err := s.ledger.Credit(ctx, userID, reward, database.ReasonCheckinBonus, refID)
	if err != nil && !engine.IsDuplicate(err) {
		return nil, fmt.Errorf("check-in credit failed: %w", err)
	}

	streak++
	if err := s.store.UpdateCheckin(ctx, userID, streak, now); err != nil {
		return nil, fmt.Errorf("failed to record check-in: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Int("streak", streak).
		Float64("reward", reward).
		Msg("Check-in recorded")

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventCheckin,
			Data: map[string]interface{}{
				"user_id": userID,
				"streak":  streak,
				"reward":  reward,
			},
		})
	}

	return &CheckinResult{Streak: streak, Reward: reward, Balance: balance}, nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
