// Package ledger owns every user balance mutation. All components credit and
// debit through this service; nothing else writes balances.
package ledger

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/events"
)

// Store defines the persistence interface for ledger operations
type Store interface {
	ApplyEntry(ctx context.Context, entry *database.LedgerEntry) (float64, error)
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	GetLedgerEntries(ctx context.Context, userID string, limit int) ([]database.LedgerEntry, error)
	SumLedgerEntries(ctx context.Context, userID string) (float64, error)
}

// Service applies ledger entries with per-user serialization on top of the
// store's own transaction. The (user, reason, refID) key makes every effect
// at-most-once; retried admin actions and accrual jobs surface as
// engine.ErrDuplicateEffect, which callers treat as success.
type Service struct {
	store  Store
	bus    *events.EventBus
	logger zerolog.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// New creates a ledger service. bus may be nil in tests.
func New(store Store, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		bus:       bus,
		logger:    logger.With().Str("component", "ledger").Logger(),
		userLocks: make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one user's mutations. Locks are never
// released from the map; the set is bounded by the user population.
func (s *Service) lockFor(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// Credit adds amount to the user's balance
func (s *Service) Credit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error) {
	if amount <= 0 {
		return 0, engine.ErrInvalidAmount
	}
	return s.apply(ctx, userID, amount, reason, refID)
}

// Debit removes amount from the user's balance, failing with
// engine.ErrInsufficientFunds if the balance would go negative
func (s *Service) Debit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error) {
	if amount <= 0 {
		return 0, engine.ErrInvalidAmount
	}
	return s.apply(ctx, userID, -amount, reason, refID)
}

func (s *Service) apply(ctx context.Context, userID string, delta float64, reason database.EntryReason, refID string) (float64, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	entry := &database.LedgerEntry{
		UserID: userID,
		Delta:  delta,
		Reason: reason,
		RefID:  refID,
	}

	balance, err := s.store.ApplyEntry(ctx, entry)
	if err != nil {
		if engine.IsDuplicate(err) {
			s.logger.Debug().
				Str("user_id", userID).
				Str("reason", string(reason)).
				Str("ref_id", refID).
				Msg("Duplicate ledger effect rejected")
		}
		return balance, err
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("reason", string(reason)).
		Str("ref_id", refID).
		Float64("delta", delta).
		Float64("balance", balance).
		Msg("Ledger entry applied")

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Type: events.EventBalanceUpdate,
			Data: map[string]interface{}{
				"user_id": userID,
				"balance": balance,
				"delta":   delta,
				"reason":  string(reason),
				"ref_id":  refID,
			},
		})
	}

	return balance, nil
}

// Balance returns the user's cached balance
func (s *Service) Balance(ctx context.Context, userID string) (float64, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, engine.ErrUserNotFound
	}
	return user.Balance, nil
}

// Entries returns the user's audit trail, newest first
func (s *Service) Entries(ctx context.Context, userID string, limit int) ([]database.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.GetLedgerEntries(ctx, userID, limit)
}

// Audit recomputes the entry sum and compares it against the cached balance
type Audit struct {
	UserID   string  `json:"user_id"`
	Balance  float64 `json:"balance"`
	EntrySum float64 `json:"entry_sum"`
	Match    bool    `json:"match"`
}

// Verify checks the core invariant for one user: balance == sum of entries
func (s *Service) Verify(ctx context.Context, userID string) (*Audit, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, engine.ErrUserNotFound
	}

	sum, err := s.store.SumLedgerEntries(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Audit{
		UserID:   userID,
		Balance:  user.Balance,
		EntrySum: sum,
		Match:    almostEqual(user.Balance, sum),
	}, nil
}

func almostEqual(a, b float64) bool {
	d := a - b
	return d < 1e-6 && d > -1e-6
}
