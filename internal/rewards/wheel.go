package rewards

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/events"
)

// WheelPrize is one slot on the lucky wheel
type WheelPrize struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
	Weight int     `json:"weight"`
}

// WheelPrizes is the fixed prize table. Weights sum to 100; one draw in
// [0, 100) selects the slot.
var WheelPrizes = []WheelPrize{
	{Label: "0.10", Amount: 0.10, Weight: 30},
	{Label: "0.20", Amount: 0.20, Weight: 25},
	{Label: "0.50", Amount: 0.50, Weight: 18},
	{Label: "1.00", Amount: 1.00, Weight: 12},
	{Label: "2.00", Amount: 2.00, Weight: 8},
	{Label: "5.00", Amount: 5.00, Weight: 4},
	{Label: "10.00", Amount: 10.00, Weight: 2},
	{Label: "50.00", Amount: 50.00, Weight: 1},
}

var (
	drawMu  sync.Mutex
	drawRng = rand.New(rand.NewSource(rand.Int63()))
)

func defaultDraw() int {
	drawMu.Lock()
	defer drawMu.Unlock()
	return drawRng.Intn(100)
}

// pickPrize maps one draw in [0, 100) onto the prize table
func pickPrize(draw int) WheelPrize {
	acc := 0
	for _, p := range WheelPrizes {
		acc += p.Weight
		if draw < acc {
			return p
		}
	}
	return WheelPrizes[len(WheelPrizes)-1]
}

// SpinResult reports the outcome of a wheel spin
type SpinResult struct {
	Prize   WheelPrize `json:"prize"`
	Balance float64    `json:"balance"`
}

// Spin draws a prize for the user and credits it. Requires a current paid
// plan and at most one spin per calendar day.
func (s *Service) Spin(ctx context.Context, userID string) (*SpinResult, error) {
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

	paid, err := s.plans.HasPaidPlan(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !paid {
		return nil, engine.ErrNotEligible
	}

	now := s.clock.Now()
	if user.LastSpinAt != nil && engine.SameDay(user.LastSpinAt.In(now.Location()), now) {
		return nil, engine.ErrAlreadySpunToday
	}

	prize := pickPrize(s.rng())
	refID := "wheel:" + engine.DayKey(now)

	balance, err := s.ledger.Credit(ctx, userID, prize.Amount, database.ReasonWheelPrize, refID)
	if err != nil {
		if engine.IsDuplicate(err) {
			// An earlier spin paid but failed before recording; finish the
			// bookkeeping so retries stop mapping to today forever.
			if uerr := s.store.UpdateLastSpin(ctx, userID, now); uerr != nil {
				return nil, fmt.Errorf("failed to record spin: %w", uerr)
			}
			return nil, engine.ErrAlreadySpunToday
		}
		return nil, fmt.Errorf("wheel credit failed: %w", err)
	}

	if err := s.store.UpdateLastSpin(ctx, userID, now); err != nil {
		return nil, fmt.Errorf("failed to record spin: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("prize", prize.Label).
		Float64("amount", prize.Amount).
		Msg("Wheel spin paid")

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventWheelPrize,
			Data: map[string]interface{}{
				"user_id": userID,
				"prize":   prize.Label,
				"amount":  prize.Amount,
			},
		})
	}

	return &SpinResult{Prize: prize, Balance: balance}, nil
}
