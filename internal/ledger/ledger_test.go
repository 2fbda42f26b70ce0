package ledger

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
)

// fakeStore keeps balances and entries in memory and enforces the same
// (user, reason, refID) uniqueness the database index does.
type fakeStore struct {
	users   map[string]*database.User
	entries []database.LedgerEntry
	seen    map[string]bool
}

func newFakeStore(userIDs ...string) *fakeStore {
	s := &fakeStore{
		users: make(map[string]*database.User),
		seen:  make(map[string]bool),
	}
	for _, id := range userIDs {
		s.users[id] = &database.User{ID: id, Status: database.AccountActive}
	}
	return s
}

func effectKey(e *database.LedgerEntry) string {
	return fmt.Sprintf("%s|%s|%s", e.UserID, e.Reason, e.RefID)
}

func (s *fakeStore) ApplyEntry(ctx context.Context, entry *database.LedgerEntry) (float64, error) {
	user, ok := s.users[entry.UserID]
	if !ok {
		return 0, engine.ErrUserNotFound
	}
	if s.seen[effectKey(entry)] {
		return user.Balance, engine.ErrDuplicateEffect
	}
	if user.Balance+entry.Delta < 0 {
		return user.Balance, engine.ErrInsufficientFunds
	}
	s.seen[effectKey(entry)] = true
	user.Balance += entry.Delta
	s.entries = append(s.entries, *entry)
	return user.Balance, nil
}

func (s *fakeStore) GetUserByID(ctx context.Context, userID string) (*database.User, error) {
	return s.users[userID], nil
}

func (s *fakeStore) GetLedgerEntries(ctx context.Context, userID string, limit int) ([]database.LedgerEntry, error) {
	var out []database.LedgerEntry
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if s.entries[i].UserID == userID {
			out = append(out, s.entries[i])
		}
	}
	return out, nil
}

func (s *fakeStore) SumLedgerEntries(ctx context.Context, userID string) (float64, error) {
	sum := 0.0
	for _, e := range s.entries {
		if e.UserID == userID {
			sum += e.Delta
		}
	}
	return sum, nil
}

func newTestService(store *fakeStore) *Service {
	return New(store, nil, zerolog.Nop())
}

func TestCreditAndDebit(t *testing.T) {
	store := newFakeStore("u1")
	svc := newTestService(store)
	ctx := context.Background()

	balance, err := svc.Credit(ctx, "u1", 100, database.ReasonDeposit, "dep1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, balance)

	balance, err = svc.Debit(ctx, "u1", 30, database.ReasonWithdrawal, "wd1")
	require.NoError(t, err)
	assert.Equal(t, 70.0, balance)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	svc := newTestService(newFakeStore("u1"))
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 0, database.ReasonDeposit, "dep1")
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	_, err = svc.Credit(ctx, "u1", -5, database.ReasonDeposit, "dep2")
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	_, err = svc.Debit(ctx, "u1", -5, database.ReasonWithdrawal, "wd1")
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)
}

func TestDebitInsufficientFunds(t *testing.T) {
	store := newFakeStore("u1")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 50, database.ReasonDeposit, "dep1")
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "u1", 50.01, database.ReasonWithdrawal, "wd1")
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)

	// Balance untouched, no entry recorded
	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 50.0, balance)
	assert.Len(t, store.entries, 1)
}

func TestDuplicateEffectKeyIsRejected(t *testing.T) {
	store := newFakeStore("u1")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 100, database.ReasonDeposit, "dep1")
	require.NoError(t, err)

	_, err = svc.Credit(ctx, "u1", 100, database.ReasonDeposit, "dep1")
	assert.True(t, engine.IsDuplicate(err))

	// Same refID under a different reason is a distinct effect
	_, err = svc.Credit(ctx, "u1", 5, database.ReasonReferralCommission, "dep1")
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 105.0, balance)
}

func TestBalanceUnknownUser(t *testing.T) {
	svc := newTestService(newFakeStore())
	_, err := svc.Balance(context.Background(), "nobody")
	assert.ErrorIs(t, err, engine.ErrUserNotFound)
}

func TestVerifyMatchesEntrySum(t *testing.T) {
	store := newFakeStore("u1")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 100, database.ReasonDeposit, "dep1")
	require.NoError(t, err)
	_, err = svc.Debit(ctx, "u1", 40, database.ReasonWithdrawal, "wd1")
	require.NoError(t, err)
	_, err = svc.Credit(ctx, "u1", 0.03, database.ReasonCheckinBonus, "checkin:2026-08-28")
	require.NoError(t, err)

	audit, err := svc.Verify(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, audit.Match)
	assert.InDelta(t, 60.03, audit.Balance, 1e-9)
	assert.InDelta(t, audit.Balance, audit.EntrySum, 1e-6)
}

func TestVerifyDetectsDrift(t *testing.T) {
	store := newFakeStore("u1")
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.Credit(ctx, "u1", 100, database.ReasonDeposit, "dep1")
	require.NoError(t, err)

	// Corrupt the cached balance behind the ledger's back
	store.users["u1"].Balance = 120

	audit, err := svc.Verify(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, audit.Match)
}

func TestEntriesClampsLimit(t *testing.T) {
	store := newFakeStore("u1")
	svc := newTestService(store)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		_, err := svc.Credit(ctx, "u1", 1, database.ReasonDeposit, fmt.Sprintf("dep%d", i))
		require.NoError(t, err)
	}

	entries, err := svc.Entries(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 100)

	entries, err = svc.Entries(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 10)
	// Newest first
	assert.Equal(t, "dep149", entries[0].RefID)
}
