package requests

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
	"invest-engine/internal/referral"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// windowOpen is a Monday inside the default 10-17 withdrawal window
var windowOpen = time.Date(2025, 6, 2, 11, 0, 0, 0, time.UTC)

type fakeStore struct {
	users     map[string]*database.User
	deposits  map[string]*database.DepositRequest
	withdraws map[string]*database.WithdrawRequest

	createWithdrawErr error

	// Run once after the next read returns its stale copy; simulates a
	// concurrent decision landing between an admin's read and write.
	onGetDeposit  func()
	onGetWithdraw func()
}

func newFakeStore(userIDs ...string) *fakeStore {
	s := &fakeStore{
		users:     make(map[string]*database.User),
		deposits:  make(map[string]*database.DepositRequest),
		withdraws: make(map[string]*database.WithdrawRequest),
	}
	for _, id := range userIDs {
		s.users[id] = &database.User{ID: id, Status: database.AccountActive}
	}
	return s
}

func (s *fakeStore) GetUserByID(ctx context.Context, userID string) (*database.User, error) {
	return s.users[userID], nil
}

func (s *fakeStore) CreateDepositRequest(ctx context.Context, req *database.DepositRequest) error {
	cp := *req
	cp.Status = database.RequestPending
	s.deposits[req.ID] = &cp
	req.Status = database.RequestPending
	return nil
}

func (s *fakeStore) GetDepositRequest(ctx context.Context, id string) (*database.DepositRequest, error) {
	r, ok := s.deposits[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	if s.onGetDeposit != nil {
		fn := s.onGetDeposit
		s.onGetDeposit = nil
		fn()
	}
	return &cp, nil
}

func (s *fakeStore) MarkDepositDecided(ctx context.Context, id string, status database.RequestStatus, at time.Time) (bool, error) {
	r, ok := s.deposits[id]
	if !ok || r.Status != database.RequestPending {
		return false, nil
	}
	r.Status = status
	r.DecidedAt = &at
	return true, nil
}

func (s *fakeStore) CreateWithdrawRequest(ctx context.Context, req *database.WithdrawRequest) error {
	if s.createWithdrawErr != nil {
		return s.createWithdrawErr
	}
	cp := *req
	cp.Status = database.RequestPending
	s.withdraws[req.ID] = &cp
	req.Status = database.RequestPending
	return nil
}

func (s *fakeStore) GetWithdrawRequest(ctx context.Context, id string) (*database.WithdrawRequest, error) {
	r, ok := s.withdraws[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	if s.onGetWithdraw != nil {
		fn := s.onGetWithdraw
		s.onGetWithdraw = nil
		fn()
	}
	return &cp, nil
}

func (s *fakeStore) MarkWithdrawDecided(ctx context.Context, id string, status database.RequestStatus, at time.Time) (bool, error) {
	r, ok := s.withdraws[id]
	if !ok || r.Status != database.RequestPending {
		return false, nil
	}
	r.Status = status
	r.DecidedAt = &at
	return true, nil
}

func (s *fakeStore) IncrementTotalWithdrawn(ctx context.Context, userID string, amount float64) error {
	s.users[userID].TotalWithdrawn += amount
	return nil
}

func (s *fakeStore) ListDepositRequests(ctx context.Context, status database.RequestStatus, limit int) ([]database.DepositRequest, error) {
	var out []database.DepositRequest
	for _, r := range s.deposits {
		if r.Status == status && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListWithdrawRequests(ctx context.Context, status database.RequestStatus, limit int) ([]database.WithdrawRequest, error) {
	var out []database.WithdrawRequest
	for _, r := range s.withdraws {
		if r.Status == status && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListUserDepositRequests(ctx context.Context, userID string, limit int) ([]database.DepositRequest, error) {
	var out []database.DepositRequest
	for _, r := range s.deposits {
		if r.UserID == userID && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) ListUserWithdrawRequests(ctx context.Context, userID string, limit int) ([]database.WithdrawRequest, error) {
	var out []database.WithdrawRequest
	for _, r := range s.withdraws {
		if r.UserID == userID && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

// fakeLedger enforces the idempotency key and non-negative balances
type fakeLedger struct {
	balances map[string]float64
	seen     map[string]bool
	applied  []string // "C:REASON/refID" / "D:REASON/refID" in order
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]float64), seen: make(map[string]bool)}
}

func (l *fakeLedger) apply(userID string, delta float64, reason database.EntryReason, refID string) (float64, error) {
	key := fmt.Sprintf("%s|%s|%s", userID, reason, refID)
	if l.seen[key] {
		return l.balances[userID], engine.ErrDuplicateEffect
	}
	if l.balances[userID]+delta < 0 {
		return l.balances[userID], engine.ErrInsufficientFunds
	}
	l.seen[key] = true
	l.balances[userID] += delta
	tag := "C:"
	if delta < 0 {
		tag = "D:"
	}
	l.applied = append(l.applied, fmt.Sprintf("%s%s/%s", tag, reason, refID))
	return l.balances[userID], nil
}

func (l *fakeLedger) Credit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error) {
	return l.apply(userID, amount, reason, refID)
}

func (l *fakeLedger) Debit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error) {
	return l.apply(userID, -amount, reason, refID)
}

type fakePlans struct {
	canErr      error
	activateErr error
	activated   []int
}

func (p *fakePlans) CanActivate(ctx context.Context, userID string, planID int) error {
	return p.canErr
}

func (p *fakePlans) Activate(ctx context.Context, userID string, planID int) error {
	if p.activateErr != nil {
		return p.activateErr
	}
	p.activated = append(p.activated, planID)
	return nil
}

type fakeReferrals struct {
	calls []string // refIDs
	err   error
}

func (r *fakeReferrals) PayCommissions(ctx context.Context, userID string, amount float64, refID string) ([]referral.Commission, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.calls = append(r.calls, refID)
	return nil, nil
}

type fixture struct {
	store     *fakeStore
	ledger    *fakeLedger
	plans     *fakePlans
	referrals *fakeReferrals
	clock     *fixedClock
	svc       *Service
}

func newFixture(userIDs ...string) *fixture {
	f := &fixture{
		store:     newFakeStore(userIDs...),
		ledger:    newFakeLedger(),
		plans:     &fakePlans{},
		referrals: &fakeReferrals{},
		clock:     &fixedClock{now: windowOpen},
	}
	f.svc = New(f.store, f.ledger, f.plans, f.referrals,
		engine.NewSettingsHolder(nil), f.clock, nil, zerolog.Nop())
	return f
}

func TestDepositLifecycle(t *testing.T) {
	f := newFixture("u1")
	ctx := context.Background()

	planID := 2
	req, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "0xabc", &planID)
	require.NoError(t, err)
	assert.Equal(t, database.RequestPending, req.Status)
	assert.Empty(t, f.ledger.applied, "submission must not touch the balance")

	require.NoError(t, f.svc.ApproveDeposit(ctx, req.ID))

	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)
	assert.Equal(t, []int{2}, f.plans.activated)
	assert.Equal(t, []string{req.ID}, f.referrals.calls)

	stored, err := f.store.GetDepositRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, database.RequestApproved, stored.Status)
	require.NotNil(t, stored.DecidedAt)
}

func TestDepositSubmitValidation(t *testing.T) {
	f := newFixture("u1", "blocked")
	f.store.users["blocked"].Status = database.AccountBlocked
	ctx := context.Background()

	_, err := f.svc.SubmitDeposit(ctx, "u1", 0, database.MethodChainTransfer, "", nil)
	assert.ErrorIs(t, err, engine.ErrInvalidAmount)

	badPlan := 99
	_, err = f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", &badPlan)
	assert.ErrorIs(t, err, engine.ErrPlanNotFound)

	_, err = f.svc.SubmitDeposit(ctx, "ghost", 100, database.MethodChainTransfer, "", nil)
	assert.ErrorIs(t, err, engine.ErrUserNotFound)

	_, err = f.svc.SubmitDeposit(ctx, "blocked", 100, database.MethodChainTransfer, "", nil)
	assert.ErrorIs(t, err, engine.ErrAccountBlocked)
}

func TestApproveDepositTwice(t *testing.T) {
	f := newFixture("u1")
	ctx := context.Background()

	req, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.ApproveDeposit(ctx, req.ID))
	assert.ErrorIs(t, f.svc.ApproveDeposit(ctx, req.ID), engine.ErrInvalidTransition)

	// One credit, one commission fan-out
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)
	assert.Len(t, f.referrals.calls, 1)
}

func TestRejectDeposit(t *testing.T) {
	f := newFixture("u1")
	ctx := context.Background()

	req, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.RejectDeposit(ctx, req.ID))
	assert.Empty(t, f.ledger.applied)

	// Terminal status is immutable in both directions
	assert.ErrorIs(t, f.svc.ApproveDeposit(ctx, req.ID), engine.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.RejectDeposit(ctx, req.ID), engine.ErrInvalidTransition)
}

func TestApproveDepositUnknownRequest(t *testing.T) {
	f := newFixture("u1")
	assert.ErrorIs(t, f.svc.ApproveDeposit(context.Background(), "nope"), engine.ErrRequestNotFound)
}

func TestApproveDepositIneligiblePlanMovesNoMoney(t *testing.T) {
	f := newFixture("u1")
	f.plans.canErr = engine.ErrPlanAlreadyActive
	ctx := context.Background()

	planID := 2
	req, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", &planID)
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.ApproveDeposit(ctx, req.ID), engine.ErrPlanAlreadyActive)
	assert.Empty(t, f.ledger.applied)

	// The request is still pending and can be approved once eligible
	f.plans.canErr = nil
	require.NoError(t, f.svc.ApproveDeposit(ctx, req.ID))
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)
}

func TestApproveDepositActivationFailureKeepsDecisionAndCredit(t *testing.T) {
	f := newFixture("u1")
	f.plans.activateErr = errors.New("storage down")
	ctx := context.Background()

	planID := 2
	req, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", &planID)
	require.NoError(t, err)

	assert.Error(t, f.svc.ApproveDeposit(ctx, req.ID))
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)

	// The decision already owned the row; remediation goes through an admin
	// plan grant, not a re-approval.
	stored, _ := f.store.GetDepositRequest(ctx, req.ID)
	assert.Equal(t, database.RequestApproved, stored.Status)
	f.plans.activateErr = nil
	assert.ErrorIs(t, f.svc.ApproveDeposit(ctx, req.ID), engine.ErrInvalidTransition)
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)
}

func TestApproveDepositLosesRaceToRejection(t *testing.T) {
	f := newFixture("u1")
	ctx := context.Background()

	req, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", nil)
	require.NoError(t, err)

	// A second admin rejects between this approval's read and its write
	f.store.onGetDeposit = func() {
		require.NoError(t, f.svc.RejectDeposit(ctx, req.ID))
	}

	assert.ErrorIs(t, f.svc.ApproveDeposit(ctx, req.ID), engine.ErrInvalidTransition)

	stored, _ := f.store.GetDepositRequest(ctx, req.ID)
	assert.Equal(t, database.RequestRejected, stored.Status)
	assert.Empty(t, f.ledger.applied, "a lost approval moves no money")
	assert.Empty(t, f.referrals.calls)
}

func TestConcurrentDepositApprovalsConverge(t *testing.T) {
	f := newFixture("u1")
	ctx := context.Background()

	req, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", nil)
	require.NoError(t, err)

	f.store.onGetDeposit = func() {
		require.NoError(t, f.svc.ApproveDeposit(ctx, req.ID))
	}

	// The loser agrees with the winner; the request-keyed credit keeps the
	// replayed effects down to one entry.
	require.NoError(t, f.svc.ApproveDeposit(ctx, req.ID))
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)
	assert.Len(t, f.ledger.applied, 1)
}

func TestApproveDepositCommissionFailureIsNotFatal(t *testing.T) {
	f := newFixture("u1")
	f.referrals.err = errors.New("upline lookup down")
	ctx := context.Background()

	req, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.ApproveDeposit(ctx, req.ID))

	stored, _ := f.store.GetDepositRequest(ctx, req.ID)
	assert.Equal(t, database.RequestApproved, stored.Status)
}

func TestWithdrawalLifecycle(t *testing.T) {
	f := newFixture("u1")
	f.ledger.balances["u1"] = 200
	ctx := context.Background()

	req, err := f.svc.SubmitWithdrawal(ctx, "u1", 50, database.MethodChainTransfer, "wallet1", false)
	require.NoError(t, err)
	assert.Zero(t, req.Fee, "chain transfers carry no fee")
	assert.InDelta(t, 150.0, f.ledger.balances["u1"], 1e-9, "funds held at submission")

	require.NoError(t, f.svc.ApproveWithdrawal(ctx, req.ID))
	assert.InDelta(t, 150.0, f.ledger.balances["u1"], 1e-9, "approval moves no further funds")
	assert.InDelta(t, 50.0, f.store.users["u1"].TotalWithdrawn, 1e-9)

	assert.ErrorIs(t, f.svc.ApproveWithdrawal(ctx, req.ID), engine.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.RejectWithdrawal(ctx, req.ID), engine.ErrInvalidTransition)
}

func TestWithdrawalInstantFeeFixedAtSubmission(t *testing.T) {
	f := newFixture("u1")
	f.ledger.balances["u1"] = 200
	ctx := context.Background()

	req, err := f.svc.SubmitWithdrawal(ctx, "u1", 100, database.MethodInstantTransfer, "key1", false)
	require.NoError(t, err)
	assert.InDelta(t, 2.00, req.Fee, 1e-9)
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)

	// The hold splits into the net payout and the retained fee
	assert.Equal(t, []string{
		"D:WITHDRAWAL/" + req.ID,
		"D:WITHDRAWAL_FEE/" + req.ID,
	}, f.ledger.applied)

	// A fee-rate change after submission does not affect the pending request
	next := *engine.DefaultSettings()
	next.InstantFeeRate = 0.10
	f.svc.settings.Store(&next)

	require.NoError(t, f.svc.ApproveWithdrawal(ctx, req.ID))
	assert.InDelta(t, 98.0, f.store.users["u1"].TotalWithdrawn, 1e-9, "net payout uses the fee fixed at submission")
}

func TestInstantWithdrawalRejectRestoresFullHold(t *testing.T) {
	f := newFixture("u1")
	f.ledger.balances["u1"] = 200
	ctx := context.Background()

	req, err := f.svc.SubmitWithdrawal(ctx, "u1", 100, database.MethodInstantTransfer, "key1", false)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)

	require.NoError(t, f.svc.RejectWithdrawal(ctx, req.ID))
	assert.InDelta(t, 200.0, f.ledger.balances["u1"], 1e-9)
	assert.Contains(t, f.ledger.applied, "C:WITHDRAWAL/"+req.ID+":reversal")
	assert.Contains(t, f.ledger.applied, "C:WITHDRAWAL_FEE/"+req.ID+":reversal")
}

func TestWithdrawalRejectReversesHold(t *testing.T) {
	f := newFixture("u1")
	f.ledger.balances["u1"] = 100
	ctx := context.Background()

	req, err := f.svc.SubmitWithdrawal(ctx, "u1", 60, database.MethodChainTransfer, "wallet1", false)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, f.ledger.balances["u1"], 1e-9)

	require.NoError(t, f.svc.RejectWithdrawal(ctx, req.ID))
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)
	assert.Zero(t, f.store.users["u1"].TotalWithdrawn)

	// A rejected request cannot be approved or re-rejected
	assert.ErrorIs(t, f.svc.ApproveWithdrawal(ctx, req.ID), engine.ErrInvalidTransition)
	assert.ErrorIs(t, f.svc.RejectWithdrawal(ctx, req.ID), engine.ErrInvalidTransition)
}

func TestRejectWithdrawalLosesRaceToApproval(t *testing.T) {
	f := newFixture("u1")
	f.ledger.balances["u1"] = 100
	ctx := context.Background()

	req, err := f.svc.SubmitWithdrawal(ctx, "u1", 100, database.MethodChainTransfer, "w", false)
	require.NoError(t, err)
	require.Zero(t, f.ledger.balances["u1"])

	// A second admin approves between this rejection's read and its write
	f.store.onGetWithdraw = func() {
		require.NoError(t, f.svc.ApproveWithdrawal(ctx, req.ID))
	}

	assert.ErrorIs(t, f.svc.RejectWithdrawal(ctx, req.ID), engine.ErrInvalidTransition)

	// The approval stands untouched: the hold stays spent
	stored, _ := f.store.GetWithdrawRequest(ctx, req.ID)
	assert.Equal(t, database.RequestApproved, stored.Status)
	assert.Zero(t, f.ledger.balances["u1"], "the lost rejection must not restore the hold")
	assert.InDelta(t, 100.0, f.store.users["u1"].TotalWithdrawn, 1e-9)
}

func TestConcurrentWithdrawalRejectionsReleaseOnce(t *testing.T) {
	f := newFixture("u1")
	f.ledger.balances["u1"] = 100
	ctx := context.Background()

	req, err := f.svc.SubmitWithdrawal(ctx, "u1", 60, database.MethodChainTransfer, "w", false)
	require.NoError(t, err)

	f.store.onGetWithdraw = func() {
		require.NoError(t, f.svc.RejectWithdrawal(ctx, req.ID))
	}

	// The loser agrees with the winner; the keyed reversal credit keeps the
	// replayed release down to one entry.
	require.NoError(t, f.svc.RejectWithdrawal(ctx, req.ID))
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)
}

func TestWithdrawalSubmitGuards(t *testing.T) {
	f := newFixture("u1", "blocked")
	f.ledger.balances["u1"] = 100
	f.store.users["blocked"].Status = database.AccountBlocked
	ctx := context.Background()

	_, err := f.svc.SubmitWithdrawal(ctx, "u1", 5, database.MethodChainTransfer, "w", false)
	assert.ErrorIs(t, err, engine.ErrBelowMinimum)

	_, err = f.svc.SubmitWithdrawal(ctx, "u1", 500, database.MethodChainTransfer, "w", false)
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)

	_, err = f.svc.SubmitWithdrawal(ctx, "blocked", 50, database.MethodChainTransfer, "w", false)
	assert.ErrorIs(t, err, engine.ErrAccountBlocked)

	// Saturday: window closed
	f.clock.now = time.Date(2025, 6, 7, 11, 0, 0, 0, time.UTC)
	_, err = f.svc.SubmitWithdrawal(ctx, "u1", 50, database.MethodChainTransfer, "w", false)
	assert.ErrorIs(t, err, engine.ErrOutsideWithdrawWindow)

	// No holds were taken by any failed submission
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9)
	assert.Empty(t, f.store.withdraws)
}

func TestAdminWithdrawalBypassesWindowAndMinimum(t *testing.T) {
	f := newFixture("u1")
	f.ledger.balances["u1"] = 100
	f.clock.now = time.Date(2025, 6, 7, 3, 0, 0, 0, time.UTC) // Saturday night
	ctx := context.Background()

	// Below minimum, outside window: fine with the admin flag
	req, err := f.svc.SubmitWithdrawal(ctx, "u1", 5, database.MethodChainTransfer, "w", true)
	require.NoError(t, err)
	assert.InDelta(t, 95.0, f.ledger.balances["u1"], 1e-9)
	assert.Equal(t, database.RequestPending, req.Status)

	// The balance check still binds
	_, err = f.svc.SubmitWithdrawal(ctx, "u1", 500, database.MethodChainTransfer, "w", true)
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)
}

func TestWithdrawalCreateFailureReleasesHold(t *testing.T) {
	f := newFixture("u1")
	f.ledger.balances["u1"] = 100
	f.store.createWithdrawErr = errors.New("db down")
	ctx := context.Background()

	_, err := f.svc.SubmitWithdrawal(ctx, "u1", 50, database.MethodChainTransfer, "w", false)
	require.Error(t, err)
	assert.InDelta(t, 100.0, f.ledger.balances["u1"], 1e-9, "hold released after create failure")
}

func TestPendingLists(t *testing.T) {
	f := newFixture("u1", "u2")
	f.ledger.balances["u1"] = 100
	ctx := context.Background()

	_, err := f.svc.SubmitDeposit(ctx, "u1", 100, database.MethodChainTransfer, "", nil)
	require.NoError(t, err)
	dep2, err := f.svc.SubmitDeposit(ctx, "u2", 200, database.MethodChainTransfer, "", nil)
	require.NoError(t, err)
	_, err = f.svc.SubmitWithdrawal(ctx, "u1", 50, database.MethodChainTransfer, "w", false)
	require.NoError(t, err)

	require.NoError(t, f.svc.ApproveDeposit(ctx, dep2.ID))

	deposits, err := f.svc.PendingDeposits(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, deposits, 1)

	withdrawals, err := f.svc.PendingWithdrawals(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, withdrawals, 1)

	mine, err := f.svc.UserDeposits(ctx, "u2", 0)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
