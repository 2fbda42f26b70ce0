package rewards

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

type fakeStore struct {
	users map[string]*database.User

	checkinErr error
	spinErr    error
}

func newFakeStore(userIDs ...string) *fakeStore {
	s := &fakeStore{users: make(map[string]*database.User)}
	for _, id := range userIDs {
		s.users[id] = &database.User{ID: id, Status: database.AccountActive}
	}
	return s
}

func (s *fakeStore) GetUserByID(ctx context.Context, userID string) (*database.User, error) {
	return s.users[userID], nil
}

func (s *fakeStore) UpdateCheckin(ctx context.Context, userID string, streak int, at time.Time) error {
	if s.checkinErr != nil {
		return s.checkinErr
	}
	u := s.users[userID]
	u.CheckinStreak = streak
	t := at
	u.LastCheckinAt = &t
	return nil
}

func (s *fakeStore) UpdateLastSpin(ctx context.Context, userID string, at time.Time) error {
	if s.spinErr != nil {
		return s.spinErr
	}
	t := at
	s.users[userID].LastSpinAt = &t
	return nil
}

type fakeLedger struct {
	balance float64
	credits []float64
	seen    map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seen: make(map[string]bool)}
}

func (l *fakeLedger) Credit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error) {
	key := fmt.Sprintf("%s|%s|%s", userID, reason, refID)
	if l.seen[key] {
		return l.balance, engine.ErrDuplicateEffect
	}
	l.seen[key] = true
	l.balance += amount
	l.credits = append(l.credits, amount)
	return l.balance, nil
}

type fakeEligibility struct {
	paid bool
}

func (e *fakeEligibility) HasPaidPlan(ctx context.Context, userID string) (bool, error) {
	return e.paid, nil
}

func newTestService(store *fakeStore, ledger *fakeLedger, paid bool, clock *fixedClock, draw int) *Service {
	return New(store, ledger, &fakeEligibility{paid: paid}, clock, nil,
		func() int { return draw }, zerolog.Nop())
}

func TestCheckInFirstDay(t *testing.T) {
	store := newFakeStore("u1")
	ledger := newFakeLedger()
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, ledger, false, clock, 0)

	res, err := svc.CheckIn(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.InDelta(t, 0.01, res.Reward, 1e-9)
	assert.Equal(t, 1, store.users["u1"].CheckinStreak)
}

func TestCheckInTwicePerDayRefused(t *testing.T) {
	store := newFakeStore("u1")
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, newFakeLedger(), false, clock, 0)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "u1")
	require.NoError(t, err)

	// Later the same day, even near midnight
	clock.now = time.Date(2025, 6, 2, 23, 59, 0, 0, time.UTC)
	_, err = svc.CheckIn(ctx, "u1")
	assert.ErrorIs(t, err, engine.ErrAlreadyCheckedIn)
}

func TestCheckInStreakContinuesFromYesterday(t *testing.T) {
	store := newFakeStore("u1")
	ledger := newFakeLedger()
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, ledger, false, clock, 0)
	ctx := context.Background()

	for day := 0; day < 5; day++ {
		clock.now = clock.now.AddDate(0, 0, 1)
		res, err := svc.CheckIn(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, day+1, res.Streak)
		assert.InDelta(t, float64(day+1)*0.01, res.Reward, 1e-9)
	}
}

func TestCheckInStreakResetsAfterGap(t *testing.T) {
	store := newFakeStore("u1")
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, newFakeLedger(), false, clock, 0)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	clock.now = clock.now.AddDate(0, 0, 1)
	_, err = svc.CheckIn(ctx, "u1")
	require.NoError(t, err)

	// Miss a day
	clock.now = clock.now.AddDate(0, 0, 2)
	res, err := svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.InDelta(t, 0.01, res.Reward, 1e-9)
}

func TestCheckInRewardWrapsAtThirty(t *testing.T) {
	store := newFakeStore("u1")
	ledger := newFakeLedger()
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, ledger, false, clock, 0)
	ctx := context.Background()

	// Day 30 of the streak pays 0.30; day 31 wraps back to 0.01
	store.users["u1"].CheckinStreak = 29
	last := clock.now.AddDate(0, 0, -1)
	store.users["u1"].LastCheckinAt = &last

	res, err := svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 30, res.Streak)
	assert.InDelta(t, 0.30, res.Reward, 1e-9)

	clock.now = clock.now.AddDate(0, 0, 1)
	res, err = svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 31, res.Streak)
	assert.InDelta(t, 0.01, res.Reward, 1e-9)
}

func TestCheckInGuards(t *testing.T) {
	store := newFakeStore("blocked")
	store.users["blocked"].Status = database.AccountBlocked
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, newFakeLedger(), false, clock, 0)
	ctx := context.Background()

	_, err := svc.CheckIn(ctx, "blocked")
	assert.ErrorIs(t, err, engine.ErrAccountBlocked)

	_, err = svc.CheckIn(ctx, "ghost")
	assert.ErrorIs(t, err, engine.ErrUserNotFound)
}

func TestCheckInRetryAfterStateWriteFailure(t *testing.T) {
	store := newFakeStore("u1")
	ledger := newFakeLedger()
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, ledger, false, clock, 0)
	ctx := context.Background()

	store.checkinErr = errors.New("db down")
	_, err := svc.CheckIn(ctx, "u1")
	require.Error(t, err)
	require.Nil(t, store.users["u1"].LastCheckinAt, "streak state did not advance")
	assert.Len(t, ledger.credits, 1, "the reward landed before the failure")

	// The retry finishes the streak bookkeeping without paying again
	store.checkinErr = nil
	res, err := svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Streak)
	assert.Equal(t, 1, store.users["u1"].CheckinStreak)
	assert.Len(t, ledger.credits, 1)

	// And the next day checks in normally
	clock.now = clock.now.AddDate(0, 0, 1)
	res, err = svc.CheckIn(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Streak)
}

func TestSpinRetryAfterStateWriteFailure(t *testing.T) {
	store := newFakeStore("u1")
	ledger := newFakeLedger()
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, ledger, true, clock, 0)
	ctx := context.Background()

	store.spinErr = errors.New("db down")
	_, err := svc.Spin(ctx, "u1")
	require.Error(t, err)
	assert.Len(t, ledger.credits, 1, "the prize landed before the failure")

	// The retry records the spin, pays nothing more, and reports today as spent
	store.spinErr = nil
	_, err = svc.Spin(ctx, "u1")
	assert.ErrorIs(t, err, engine.ErrAlreadySpunToday)
	assert.Len(t, ledger.credits, 1)
	require.NotNil(t, store.users["u1"].LastSpinAt)

	// Tomorrow spins again
	clock.now = clock.now.AddDate(0, 0, 1)
	_, err = svc.Spin(ctx, "u1")
	assert.NoError(t, err)
}

func TestPickPrizeBoundaries(t *testing.T) {
	cases := []struct {
		draw   int
		amount float64
	}{
		{0, 0.10},
		{29, 0.10},
		{30, 0.20},
		{54, 0.20},
		{55, 0.50},
		{72, 0.50},
		{73, 1.00},
		{84, 1.00},
		{85, 2.00},
		{92, 2.00},
		{93, 5.00},
		{96, 5.00},
		{97, 10.00},
		{98, 10.00},
		{99, 50.00},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.amount, pickPrize(tc.draw).Amount, 1e-9, "draw %d", tc.draw)
	}
}

func TestWheelWeightsSumToHundred(t *testing.T) {
	sum := 0
	for _, p := range WheelPrizes {
		sum += p.Weight
	}
	assert.Equal(t, 100, sum)
}

func TestSpinPaysDrawnPrize(t *testing.T) {
	store := newFakeStore("u1")
	ledger := newFakeLedger()
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, ledger, true, clock, 99)

	res, err := svc.Spin(context.Background(), "u1")
	require.NoError(t, err)
	assert.InDelta(t, 50.00, res.Prize.Amount, 1e-9)
	assert.InDelta(t, 50.00, ledger.balance, 1e-9)
	require.NotNil(t, store.users["u1"].LastSpinAt)
}

func TestSpinOncePerDay(t *testing.T) {
	store := newFakeStore("u1")
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, newFakeLedger(), true, clock, 0)
	ctx := context.Background()

	_, err := svc.Spin(ctx, "u1")
	require.NoError(t, err)

	_, err = svc.Spin(ctx, "u1")
	assert.ErrorIs(t, err, engine.ErrAlreadySpunToday)

	// Next day spins again
	clock.now = clock.now.AddDate(0, 0, 1)
	_, err = svc.Spin(ctx, "u1")
	assert.NoError(t, err)
}

func TestSpinRequiresPaidPlan(t *testing.T) {
	store := newFakeStore("u1")
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, newFakeLedger(), false, clock, 0)

	_, err := svc.Spin(context.Background(), "u1")
	assert.ErrorIs(t, err, engine.ErrNotEligible)
}

func TestSpinGuards(t *testing.T) {
	store := newFakeStore("blocked")
	store.users["blocked"].Status = database.AccountBlocked
	clock := &fixedClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	svc := newTestService(store, newFakeLedger(), true, clock, 0)
	ctx := context.Background()

	_, err := svc.Spin(ctx, "blocked")
	assert.ErrorIs(t, err, engine.ErrAccountBlocked)

	_, err = svc.Spin(ctx, "ghost")
	assert.ErrorIs(t, err, engine.ErrUserNotFound)
}
