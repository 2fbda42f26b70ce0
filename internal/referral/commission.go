// Package referral fans deposit commissions up the referral chain and guards
// the chain against cycles.
package referral

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
)

// DefaultRates are the commission percentages per upline level. Level 1 is
// the direct referrer.
var DefaultRates = []float64{0.05, 0.03, 0.01, 0.01, 0.01}

// maxDepth bounds the upline walk even if the rate table grows
const maxDepth = 5

// Store defines the persistence interface for referral operations
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*database.User, error)
	UpdateUserReferrer(ctx context.Context, userID string, referrerCode *string) error
}

// Ledger is the credit surface commissions flow through
type Ledger interface {
	Credit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error)
}

// Service pays multi-level commissions on approved deposits
type Service struct {
	store  Store
	ledger Ledger
	rates  []float64
	logger zerolog.Logger
}

// New creates a referral service. Pass nil rates for DefaultRates.
func New(store Store, ledger Ledger, rates []float64, logger zerolog.Logger) *Service {
	if len(rates) == 0 {
		rates = DefaultRates
	}
	if len(rates) > maxDepth {
		rates = rates[:maxDepth]
	}
	return &Service{
		store:  store,
		ledger: ledger,
		rates:  rates,
		logger: logger.With().Str("component", "referral").Logger(),
	}
}

// Commission is one paid upline credit
type Commission struct {
	UserID string  `json:"user_id"`
	Level  int     `json:"level"`
	Amount float64 `json:"amount"`
}

// PayCommissions walks the upline of userID and credits each ancestor its
// level's share of amount. refID scopes the effect keys to the triggering
// deposit, so re-running an approval never double-pays. The walk is
// best-effort per level: a broken edge ends the walk, it does not undo
// levels already paid.
func (s *Service) PayCommissions(ctx context.Context, userID string, amount float64, refID string) ([]Commission, error) {
	if amount <= 0 {
		return nil, engine.ErrInvalidAmount
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, engine.ErrUserNotFound
	}

	visited := map[string]bool{user.ID: true}
	var paid []Commission

	current := user
	for level := 1; level <= len(s.rates); level++ {
		if current.ReferredBy == nil || *current.ReferredBy == "" {
			break
		}

		upline, err := s.store.GetUserByReferralCode(ctx, *current.ReferredBy)
		if err != nil {
			return paid, fmt.Errorf("failed to resolve upline at level %d: %w", level, err)
		}
		if upline == nil {
			s.logger.Warn().
				Str("user_id", current.ID).
				Str("referral_code", *current.ReferredBy).
				Msg("Dangling referral edge")
			break
		}
		if visited[upline.ID] {
			s.logger.Error().Str("user_id", upline.ID).Msg("Referral cycle detected, aborting walk")
			break
		}
		visited[upline.ID] = true

		commission := round2(amount * s.rates[level-1])
		if commission > 0 && upline.Status == database.AccountActive {
			key := fmt.Sprintf("%s:L%d", refID, level)
			if _, err := s.ledger.Credit(ctx, upline.ID, commission, database.ReasonReferralCommission, key); err != nil {
				if !engine.IsDuplicate(err) {
					return paid, fmt.Errorf("commission credit failed at level %d: %w", level, err)
				}
			} else {
				paid = append(paid, Commission{UserID: upline.ID, Level: level, Amount: commission})
				s.logger.Info().
					Str("user_id", upline.ID).
					Int("level", level).
					Float64("amount", commission).
					Str("ref_id", key).
					Msg("Commission paid")
			}
		}

		current = upline
	}

	return paid, nil
}

// SetReferrer attaches a referrer to a user by referral code. Used at
// registration and by admin reassignment. Rejects self-referral and any
// assignment that would close a cycle.
func (s *Service) SetReferrer(ctx context.Context, userID, referrerCode string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return engine.ErrUserNotFound
	}

	referrer, err := s.store.GetUserByReferralCode(ctx, referrerCode)
	if err != nil {
		return fmt.Errorf("failed to resolve referrer: %w", err)
	}
	if referrer == nil {
		return engine.ErrReferrerNotFound
	}
	if referrer.ID == user.ID {
		return engine.ErrCyclicReferral
	}

	// Walk up from the proposed referrer; if the walk reaches the user,
	// the assignment would close a cycle.
	visited := map[string]bool{user.ID: true}
	current := referrer
	for current != nil {
		if visited[current.ID] {
			return engine.ErrCyclicReferral
		}
		visited[current.ID] = true
		if current.ReferredBy == nil || *current.ReferredBy == "" {
			break
		}
		next, err := s.store.GetUserByReferralCode(ctx, *current.ReferredBy)
		if err != nil {
			return fmt.Errorf("failed to walk upline: %w", err)
		}
		current = next
	}

	if err := s.store.UpdateUserReferrer(ctx, userID, &referrerCode); err != nil {
		return fmt.Errorf("failed to set referrer: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("referrer_id", referrer.ID).
		Msg("Referrer set")
	return nil
}

// ClearReferrer detaches a user from their upline
func (s *Service) ClearReferrer(ctx context.Context, userID string) error {
	return s.store.UpdateUserReferrer(ctx, userID, nil)
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
