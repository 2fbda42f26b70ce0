// Package admin exposes the privileged override surface. Every mutation goes
// through the same ledger, plan, and referral primitives as the automated
// flows; admin access changes authorization, never the bookkeeping.
package admin

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/events"
)

// Store defines the persistence interface for admin operations
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	UpdateUserStatus(ctx context.Context, userID string, status database.AccountStatus) error
}

// Ledger moves money for balance adjustments
type Ledger interface {
	Credit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error)
	Debit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error)
}

// Plans grants plans outside the deposit flow
type Plans interface {
	Activate(ctx context.Context, userID string, planID int) error
}

// Referrals rewrites referral edges with cycle protection
type Referrals interface {
	SetReferrer(ctx context.Context, userID, referrerCode string) error
	ClearReferrer(ctx context.Context, userID string) error
}

// Service implements the admin overrides
type Service struct {
	store     Store
	ledger    Ledger
	plans     Plans
	referrals Referrals
	settings  *engine.SettingsHolder
	bus       *events.EventBus
	logger    zerolog.Logger
}

// New creates the admin service. bus may be nil in tests.
func New(store Store, ledger Ledger, plans Plans, referrals Referrals, settings *engine.SettingsHolder, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		plans:     plans,
		referrals: referrals,
		settings:  settings,
		bus:       bus,
		logger:    logger.With().Str("component", "admin").Logger(),
	}
}

// AdjustBalance applies a signed correction to a user's balance. refID ties
// the adjustment to the admin action (ticket id, audit reference) and makes
// retries idempotent.
func (s *Service) AdjustBalance(ctx context.Context, adminID, userID string, amount float64, refID string) (float64, error) {
	if refID == "" {
		return 0, fmt.Errorf("adjustment requires a reference id")
	}

	var balance float64
	var err error
	if amount >= 0 {
		balance, err = s.ledger.Credit(ctx, userID, amount, database.ReasonAdminAdjustment, refID)
	} else {
		balance, err = s.ledger.Debit(ctx, userID, -amount, database.ReasonAdminAdjustment, refID)
	}
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Str("admin_id", adminID).
		Str("user_id", userID).
		Float64("amount", amount).
		Str("ref_id", refID).
		Msg("Balance adjusted")
	return balance, nil
}

// GrantPlan activates a plan for a user without a funding deposit
func (s *Service) GrantPlan(ctx context.Context, adminID, userID string, planID int) error {
	if err := s.plans.Activate(ctx, userID, planID); err != nil {
		return err
	}
	s.logger.Info().
		Str("admin_id", adminID).
		Str("user_id", userID).
		Int("plan_id", planID).
		Msg("Plan granted")
	return nil
}

// SetStatus blocks or unblocks a user. BLOCKED users are rejected by every
// user-initiated operation; admin operations keep working on them.
func (s *Service) SetStatus(ctx context.Context, adminID, userID string, status database.AccountStatus) error {
	if status != database.AccountActive && status != database.AccountBlocked {
		return fmt.Errorf("unknown account status %q", status)
	}
	if err := s.store.UpdateUserStatus(ctx, userID, status); err != nil {
		return err
	}

	s.logger.Info().
		Str("admin_id", adminID).
		Str("user_id", userID).
		Str("status", string(status)).
		Msg("Account status changed")

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventAccountStatus,
			Data: map[string]interface{}{
				"user_id": userID,
				"status":  string(status),
			},
		})
	}
	return nil
}

// ReassignReferrer rewrites a user's upline edge. Cycle checks live in the
// referral service; an empty code detaches the user.
func (s *Service) ReassignReferrer(ctx context.Context, adminID, userID, referrerCode string) error {
	var err error
	if referrerCode == "" {
		err = s.referrals.ClearReferrer(ctx, userID)
	} else {
		err = s.referrals.SetReferrer(ctx, userID, referrerCode)
	}
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("admin_id", adminID).
		Str("user_id", userID).
		Str("referrer_code", referrerCode).
		Msg("Referrer reassigned")
	return nil
}

// ReloadSettings atomically publishes a new policy snapshot for all
// subsequent operations
func (s *Service) ReloadSettings(ctx context.Context, adminID string, settings *engine.Settings) error {
	if settings == nil {
		return fmt.Errorf("settings must not be nil")
	}
	if settings.MinWithdrawal < 0 || settings.InstantFeeRate < 0 || settings.InstantFeeRate >= 1 {
		return fmt.Errorf("settings out of range")
	}
	s.settings.Store(settings)

	s.logger.Info().Str("admin_id", adminID).Msg("Engine settings reloaded")

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventSettingsReloaded,
			Data: map[string]interface{}{"admin_id": adminID},
		})
	}
	return nil
}
