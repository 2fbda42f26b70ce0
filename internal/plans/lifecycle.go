package plans

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/events"
)

// Store defines the persistence interface for plan lifecycle operations
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	ActivateUserPlan(ctx context.Context, userID string, planID int, activatedAt time.Time, markTrial bool, invested float64) error
	ClearUserPlan(ctx context.Context, userID string) error
	ListUsersWithActivePlan(ctx context.Context) ([]database.User, error)
}

// Ledger is the credit surface the lifecycle needs for daily accrual
type Ledger interface {
	Credit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error)
}

// Manager activates plans, credits daily returns, and expires plans whose
// duration has elapsed.
type Manager struct {
	store  Store
	ledger Ledger
	clock  engine.Clock
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewManager creates a plan lifecycle manager. bus may be nil in tests.
func NewManager(store Store, ledger Ledger, clock engine.Clock, bus *events.EventBus, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		ledger: ledger,
		clock:  clock,
		bus:    bus,
		logger: logger.With().Str("component", "plans").Logger(),
	}
}

// expired reports whether the user's active plan has run its full duration
func expired(user *database.User, plan Plan, now time.Time) bool {
	if user.PlanActivatedAt == nil {
		return true
	}
	return daysBetween(*user.PlanActivatedAt, now) >= plan.DurationDays
}

// daysBetween counts calendar day boundaries crossed between a and b,
// evaluated in b's location
func daysBetween(a, b time.Time) int {
	da := engine.Day(a.In(b.Location()))
	db := engine.Day(b)
	return int(db.Sub(da).Hours()/24 + 0.5)
}

// Activate attaches planID to the user. Fails with engine.ErrPlanAlreadyActive
// while a non-expired plan is held, and engine.ErrTrialUnavailable when the
// trial was already consumed. An expired plan still attached to the user is
// cleared on the way through.
func (m *Manager) Activate(ctx context.Context, userID string, planID int) error {
	plan, ok := ByID(planID)
	if !ok {
		return engine.ErrPlanNotFound
	}

	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return engine.ErrUserNotFound
	}

	now := m.clock.Now()

	if user.ActivePlanID != nil {
		current, ok := ByID(*user.ActivePlanID)
		if ok && !expired(user, current, now) {
			if plan.Trial {
				return engine.ErrTrialUnavailable
			}
			return engine.ErrPlanAlreadyActive
		}
		if err := m.clearExpired(ctx, user); err != nil {
			return err
		}
	}

	if plan.Trial && user.TrialUsed {
		return engine.ErrTrialUnavailable
	}

	if err := m.store.ActivateUserPlan(ctx, userID, planID, now, plan.Trial, plan.Investment); err != nil {
		return fmt.Errorf("failed to activate plan: %w", err)
	}

	m.logger.Info().
		Str("user_id", userID).
		Int("plan_id", planID).
		Str("plan", plan.Name).
		Msg("Plan activated")

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.EventPlanActivated,
			Data: map[string]interface{}{
				"user_id": userID,
				"plan_id": planID,
				"plan":    plan.Name,
			},
		})
	}
	return nil
}

// CanActivate checks activation eligibility without side effects. The deposit
// workflow calls this before crediting so an ineligible purchase aborts the
// whole approval.
func (m *Manager) CanActivate(ctx context.Context, userID string, planID int) error {
	plan, ok := ByID(planID)
	if !ok {
		return engine.ErrPlanNotFound
	}

	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return engine.ErrUserNotFound
	}

	now := m.clock.Now()
	if user.ActivePlanID != nil {
		current, ok := ByID(*user.ActivePlanID)
		if ok && !expired(user, current, now) {
			if plan.Trial {
				return engine.ErrTrialUnavailable
			}
			return engine.ErrPlanAlreadyActive
		}
	}
	if plan.Trial && user.TrialUsed {
		return engine.ErrTrialUnavailable
	}
	return nil
}

// Accrue credits one day's return for the user's active plan. Safe to call
// any number of times per day: the ledger's (user, PLAN_ACCRUAL, plan+day)
// key turns repeats into no-ops. Clears the plan once its duration elapses;
// no partial-day accrual after expiry.
func (m *Manager) Accrue(ctx context.Context, userID string) error {
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return engine.ErrUserNotFound
	}
	if user.ActivePlanID == nil {
		return nil
	}

	plan, ok := ByID(*user.ActivePlanID)
	if !ok {
		// Catalog entry removed out from under an active plan; detach it.
		m.logger.Warn().Str("user_id", userID).Int("plan_id", *user.ActivePlanID).Msg("Active plan missing from catalog")
		return m.store.ClearUserPlan(ctx, userID)
	}

	now := m.clock.Now()
	if expired(user, plan, now) {
		return m.clearExpired(ctx, user)
	}

	refID := fmt.Sprintf("plan%d:%s", plan.ID, engine.DayKey(now))
	if plan.DailyReturn > 0 {
		if _, err := m.ledger.Credit(ctx, userID, plan.DailyReturn, database.ReasonPlanAccrual, refID); err != nil {
			if engine.IsDuplicate(err) {
				return nil
			}
			return fmt.Errorf("accrual credit failed: %w", err)
		}
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type: events.EventPlanAccrued,
			Data: map[string]interface{}{
				"user_id": userID,
				"plan_id": plan.ID,
				"amount":  plan.DailyReturn,
				"day":     engine.DayKey(now),
			},
		})
	}
	return nil
}

func (m *Manager) clearExpired(ctx context.Context, user *database.User) error {
	if err := m.store.ClearUserPlan(ctx, user.ID); err != nil {
		return fmt.Errorf("failed to clear expired plan: %w", err)
	}

	m.logger.Info().Str("user_id", user.ID).Msg("Plan expired")

	if m.bus != nil && user.ActivePlanID != nil {
		m.bus.Publish(events.Event{
			Type: events.EventPlanExpired,
			Data: map[string]interface{}{
				"user_id": user.ID,
				"plan_id": *user.ActivePlanID,
			},
		})
	}
	return nil
}

// HasPaidPlan reports whether the user currently holds a non-trial plan.
// The lucky wheel requires this.
func (m *Manager) HasPaidPlan(ctx context.Context, userID string) (bool, error) {
	user, err := m.store.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user == nil {
		return false, engine.ErrUserNotFound
	}
	if user.ActivePlanID == nil {
		return false, nil
	}
	plan, ok := ByID(*user.ActivePlanID)
	if !ok || plan.Trial {
		return false, nil
	}
	return !expired(user, plan, m.clock.Now()), nil
}
