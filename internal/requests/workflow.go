// Package requests implements the deposit and withdrawal state machines:
// PENDING → APPROVED | REJECTED, one-way. Deposits touch the balance only on
// approval; withdrawals hold funds at submission and reverse the hold on
// rejection. Every decision wins the PENDING row first and applies its
// balance effects second, so a decision that loses a race moves no money.
package requests

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invest-engine/internal/database"
	"invest-engine/internal/engine"
	"invest-engine/internal/events"
	"invest-engine/internal/plans"
	"invest-engine/internal/referral"
)

// Store defines the persistence interface for the request workflow
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
	CreateDepositRequest(ctx context.Context, req *database.DepositRequest) error
	GetDepositRequest(ctx context.Context, id string) (*database.DepositRequest, error)
	MarkDepositDecided(ctx context.Context, id string, status database.RequestStatus, at time.Time) (bool, error)
	CreateWithdrawRequest(ctx context.Context, req *database.WithdrawRequest) error
	GetWithdrawRequest(ctx context.Context, id string) (*database.WithdrawRequest, error)
	MarkWithdrawDecided(ctx context.Context, id string, status database.RequestStatus, at time.Time) (bool, error)
	IncrementTotalWithdrawn(ctx context.Context, userID string, amount float64) error
	ListDepositRequests(ctx context.Context, status database.RequestStatus, limit int) ([]database.DepositRequest, error)
	ListWithdrawRequests(ctx context.Context, status database.RequestStatus, limit int) ([]database.WithdrawRequest, error)
	ListUserDepositRequests(ctx context.Context, userID string, limit int) ([]database.DepositRequest, error)
	ListUserWithdrawRequests(ctx context.Context, userID string, limit int) ([]database.WithdrawRequest, error)
}

// Ledger is the balance surface the workflow moves money through
type Ledger interface {
	Credit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error)
	Debit(ctx context.Context, userID string, amount float64, reason database.EntryReason, refID string) (float64, error)
}

// Plans gates plan activation on deposit approval
type Plans interface {
	CanActivate(ctx context.Context, userID string, planID int) error
	Activate(ctx context.Context, userID string, planID int) error
}

// Referrals fans out commissions on deposit approval
type Referrals interface {
	PayCommissions(ctx context.Context, userID string, amount float64, refID string) ([]referral.Commission, error)
}

// Service drives both request state machines
type Service struct {
	store     Store
	ledger    Ledger
	plans     Plans
	referrals Referrals
	settings  *engine.SettingsHolder
	clock     engine.Clock
	bus       *events.EventBus
	logger    zerolog.Logger
}

// New creates the request workflow service. bus may be nil in tests.
func New(store Store, ledger Ledger, plans Plans, referrals Referrals, settings *engine.SettingsHolder, clock engine.Clock, bus *events.EventBus, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		ledger:    ledger,
		plans:     plans,
		referrals: referrals,
		settings:  settings,
		clock:     clock,
		bus:       bus,
		logger:    logger.With().Str("component", "requests").Logger(),
	}
}

// SubmitDeposit records a PENDING deposit declaration. No balance effect.
func (s *Service) SubmitDeposit(ctx context.Context, userID string, amount float64, method database.PaymentMethod, proofRef string, planID *int) (*database.DepositRequest, error) {
	if amount <= 0 {
		return nil, engine.ErrInvalidAmount
	}
	if planID != nil {
		if _, ok := plans.ByID(*planID); !ok {
			return nil, engine.ErrPlanNotFound
		}
	}

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

	req := &database.DepositRequest{
		ID:       uuid.NewString(),
		UserID:   userID,
		Amount:   amount,
		Method:   method,
		ProofRef: proofRef,
		PlanID:   planID,
	}
	if err := s.store.CreateDepositRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create deposit request: %w", err)
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", userID).
		Float64("amount", amount).
		Str("method", string(method)).
		Msg("Deposit request submitted")

	s.publish(events.EventDepositSubmitted, req.ID, userID, amount)
	return req, nil
}

// ApproveDeposit marks the request APPROVED, then credits the declared amount,
// pays referral commissions, and activates the target plan if one was named.
// The balance effects are keyed on the request id, so once APPROVED owns the
// row they can be replayed until they land; an approval that loses the
// PENDING race to a rejection moves no money.
func (s *Service) ApproveDeposit(ctx context.Context, requestID string) error {
	req, err := s.store.GetDepositRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to load deposit request: %w", err)
	}
	if req == nil {
		return engine.ErrRequestNotFound
	}
	if req.Status != database.RequestPending {
		return engine.ErrInvalidTransition
	}

	// Plan eligibility first: an ineligible purchase must abort while the
	// request is still undecided.
	if req.PlanID != nil {
		if err := s.plans.CanActivate(ctx, req.UserID, *req.PlanID); err != nil {
			return err
		}
	}

	decided, err := s.decideDeposit(ctx, req.ID, database.RequestApproved)
	if err != nil {
		return err
	}

	if _, err := s.ledger.Credit(ctx, req.UserID, req.Amount, database.ReasonDeposit, req.ID); err != nil && !engine.IsDuplicate(err) {
		return fmt.Errorf("deposit credit failed: %w", err)
	}

	if _, err := s.referrals.PayCommissions(ctx, req.UserID, req.Amount, req.ID); err != nil {
		s.logger.Error().Err(err).Str("request_id", req.ID).Msg("Commission fan-out incomplete")
	}

	if req.PlanID != nil {
		if err := s.plans.Activate(ctx, req.UserID, *req.PlanID); err != nil && !errors.Is(err, engine.ErrPlanAlreadyActive) {
			// The approval and credit stand; remediation goes through an
			// admin plan grant. Already-active means a concurrent approval
			// of this request finished the activation.
			return err
		}
	}

	if decided {
		s.logger.Info().
			Str("request_id", req.ID).
			Str("user_id", req.UserID).
			Float64("amount", req.Amount).
			Msg("Deposit approved")
		s.publish(events.EventDepositApproved, req.ID, req.UserID, req.Amount)
	}
	return nil
}

// RejectDeposit marks the request REJECTED with no balance effect
func (s *Service) RejectDeposit(ctx context.Context, requestID string) error {
	req, err := s.store.GetDepositRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to load deposit request: %w", err)
	}
	if req == nil {
		return engine.ErrRequestNotFound
	}
	if req.Status != database.RequestPending {
		return engine.ErrInvalidTransition
	}

	decided, err := s.decideDeposit(ctx, req.ID, database.RequestRejected)
	if err != nil || !decided {
		return err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", req.UserID).
		Msg("Deposit rejected")

	s.publish(events.EventDepositRejected, req.ID, req.UserID, req.Amount)
	return nil
}

// decideDeposit moves the request out of PENDING. Returns true when this call
// won the row. A lost race reconciles with the winner: the same status is
// agreement, the opposite one an invalid transition.
func (s *Service) decideDeposit(ctx context.Context, id string, status database.RequestStatus) (bool, error) {
	moved, err := s.store.MarkDepositDecided(ctx, id, status, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("failed to mark deposit decided: %w", err)
	}
	if moved {
		return true, nil
	}
	current, err := s.store.GetDepositRequest(ctx, id)
	if err != nil {
		return false, err
	}
	if current == nil || current.Status != status {
		return false, engine.ErrInvalidTransition
	}
	return false, nil
}

// SubmitWithdrawal validates balance, minimum, and window, then debits the
// amount immediately (optimistic hold) and records the PENDING request. The
// retained instant-transfer fee is held as its own WITHDRAWAL_FEE entry so it
// stays visible in the audit trail. Admins bypass the window and minimum
// checks, not the balance check.
func (s *Service) SubmitWithdrawal(ctx context.Context, userID string, amount float64, method database.PaymentMethod, destination string, isAdmin bool) (*database.WithdrawRequest, error) {
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
	if user.Status == database.AccountBlocked && !isAdmin {
		return nil, engine.ErrAccountBlocked
	}

	cfg := s.settings.Load()
	if !isAdmin {
		if amount < cfg.MinWithdrawal {
			return nil, engine.ErrBelowMinimum
		}
		if !cfg.WithdrawWindowOpen(s.clock.Now()) {
			return nil, engine.ErrOutsideWithdrawWindow
		}
	}

	fee := 0.0
	if method == database.MethodInstantTransfer {
		fee = round2(amount * cfg.InstantFeeRate)
	}

	req := &database.WithdrawRequest{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Method:      method,
		Destination: destination,
		Fee:         fee,
	}

	// Hold the funds before the request exists: a failed debit must leave no
	// pending row behind.
	if err := s.holdFunds(ctx, req); err != nil {
		return nil, err
	}

	if err := s.store.CreateWithdrawRequest(ctx, req); err != nil {
		if rerr := s.releaseHold(ctx, req); rerr != nil {
			s.logger.Error().Err(rerr).Str("request_id", req.ID).Msg("Failed to release hold after create failure")
		}
		return nil, fmt.Errorf("failed to create withdraw request: %w", err)
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", userID).
		Float64("amount", amount).
		Float64("fee", fee).
		Msg("Withdrawal request submitted, funds held")

	s.publish(events.EventWithdrawalSubmitted, req.ID, userID, amount)
	return req, nil
}

// holdFunds debits the net payout and, separately, the retained fee. A fee
// debit that fails undoes the net debit so no partial hold survives.
func (s *Service) holdFunds(ctx context.Context, req *database.WithdrawRequest) error {
	if _, err := s.ledger.Debit(ctx, req.UserID, req.Amount-req.Fee, database.ReasonWithdrawal, req.ID); err != nil {
		return err
	}
	if req.Fee <= 0 {
		return nil
	}
	if _, err := s.ledger.Debit(ctx, req.UserID, req.Fee, database.ReasonWithdrawalFee, req.ID); err != nil {
		if _, rerr := s.ledger.Credit(ctx, req.UserID, req.Amount-req.Fee, database.ReasonWithdrawal, req.ID+":reversal"); rerr != nil && !engine.IsDuplicate(rerr) {
			s.logger.Error().Err(rerr).Str("request_id", req.ID).Msg("Failed to undo net debit after fee debit failure")
		}
		return err
	}
	return nil
}

// releaseHold restores a held request's funds. Both credits are keyed on
// id+":reversal", so replaying the release cannot double-pay.
func (s *Service) releaseHold(ctx context.Context, req *database.WithdrawRequest) error {
	if _, err := s.ledger.Credit(ctx, req.UserID, req.Amount-req.Fee, database.ReasonWithdrawal, req.ID+":reversal"); err != nil && !engine.IsDuplicate(err) {
		return err
	}
	if req.Fee > 0 {
		if _, err := s.ledger.Credit(ctx, req.UserID, req.Fee, database.ReasonWithdrawalFee, req.ID+":reversal"); err != nil && !engine.IsDuplicate(err) {
			return err
		}
	}
	return nil
}

// ApproveWithdrawal confirms a held withdrawal. No further balance effect;
// totalWithdrawn grows by the net payout.
func (s *Service) ApproveWithdrawal(ctx context.Context, requestID string) error {
	req, err := s.store.GetWithdrawRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to load withdraw request: %w", err)
	}
	if req == nil {
		return engine.ErrRequestNotFound
	}
	if req.Status != database.RequestPending {
		return engine.ErrInvalidTransition
	}

	decided, err := s.decideWithdraw(ctx, req.ID, database.RequestApproved)
	if err != nil {
		return err
	}
	if !decided {
		// The winning approval owns the payout bump.
		return nil
	}

	if err := s.store.IncrementTotalWithdrawn(ctx, req.UserID, req.Amount-req.Fee); err != nil {
		s.logger.Error().Err(err).Str("request_id", req.ID).Msg("Failed to bump total withdrawn")
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", req.UserID).
		Float64("net", req.Amount-req.Fee).
		Msg("Withdrawal approved")

	s.publish(events.EventWithdrawalApproved, req.ID, req.UserID, req.Amount)
	return nil
}

// RejectWithdrawal marks the request REJECTED, then reverses the hold. The
// reversal runs only once REJECTED owns the row: a rejection that loses the
// race to an approval must not restore funds the payout already spent.
func (s *Service) RejectWithdrawal(ctx context.Context, requestID string) error {
	req, err := s.store.GetWithdrawRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("failed to load withdraw request: %w", err)
	}
	if req == nil {
		return engine.ErrRequestNotFound
	}
	if req.Status != database.RequestPending {
		return engine.ErrInvalidTransition
	}

	decided, err := s.decideWithdraw(ctx, req.ID, database.RequestRejected)
	if err != nil {
		return err
	}

	// Keyed reversal credits collapse concurrent rejections into one release.
	if err := s.releaseHold(ctx, req); err != nil {
		return fmt.Errorf("failed to reverse hold: %w", err)
	}
	if !decided {
		return nil
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", req.UserID).
		Float64("amount", req.Amount).
		Msg("Withdrawal rejected, hold reversed")

	s.publish(events.EventWithdrawalRejected, req.ID, req.UserID, req.Amount)
	return nil
}

// decideWithdraw is the withdrawal analog of decideDeposit
func (s *Service) decideWithdraw(ctx context.Context, id string, status database.RequestStatus) (bool, error) {
	moved, err := s.store.MarkWithdrawDecided(ctx, id, status, s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("failed to mark withdrawal decided: %w", err)
	}
	if moved {
		return true, nil
	}
	current, err := s.store.GetWithdrawRequest(ctx, id)
	if err != nil {
		return false, err
	}
	if current == nil || current.Status != status {
		return false, engine.ErrInvalidTransition
	}
	return false, nil
}

// PendingDeposits lists deposit requests awaiting a decision
func (s *Service) PendingDeposits(ctx context.Context, limit int) ([]database.DepositRequest, error) {
	return s.store.ListDepositRequests(ctx, database.RequestPending, clampLimit(limit))
}

// PendingWithdrawals lists withdrawal requests awaiting a decision
func (s *Service) PendingWithdrawals(ctx context.Context, limit int) ([]database.WithdrawRequest, error) {
	return s.store.ListWithdrawRequests(ctx, database.RequestPending, clampLimit(limit))
}

// UserDeposits lists one user's deposit requests, newest first
func (s *Service) UserDeposits(ctx context.Context, userID string, limit int) ([]database.DepositRequest, error) {
	return s.store.ListUserDepositRequests(ctx, userID, clampLimit(limit))
}

// UserWithdrawals lists one user's withdrawal requests, newest first
func (s *Service) UserWithdrawals(ctx context.Context, userID string, limit int) ([]database.WithdrawRequest, error) {
	return s.store.ListUserWithdrawRequests(ctx, userID, clampLimit(limit))
}

func (s *Service) publish(evt events.EventType, requestID, userID string, amount float64) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type: evt,
		Data: map[string]interface{}{
			"request_id": requestID,
			"user_id":    userID,
			"amount":     amount,
		},
	})
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
