package database

import (
	"time"
)

// AccountStatus represents whether a user may perform user-initiated operations
type AccountStatus string

const (
	AccountActive  AccountStatus = "ACTIVE"
	AccountBlocked AccountStatus = "BLOCKED"
)

// User represents a platform member
type User struct {
	ID              string        `json:"id"`
	Email           string        `json:"email"`
	PasswordHash    string        `json:"-"` // Never serialize
	Name            string        `json:"name,omitempty"`
	Balance         float64       `json:"balance"`
	ActivePlanID    *int          `json:"active_plan_id,omitempty"`
	PlanActivatedAt *time.Time    `json:"plan_activated_at,omitempty"`
	TrialUsed       bool          `json:"trial_used"`
	ReferralCode    string        `json:"referral_code"`
	ReferredBy      *string       `json:"referred_by,omitempty"` // referrer's referral code, set once at registration
	CheckinStreak   int           `json:"checkin_streak"`
	LastCheckinAt   *time.Time    `json:"last_checkin_at,omitempty"`
	LastSpinAt      *time.Time    `json:"last_spin_at,omitempty"`
	Status          AccountStatus `json:"status"`
	TotalInvested   float64       `json:"total_invested"`
	TotalWithdrawn  float64       `json:"total_withdrawn"`
	IsAdmin         bool          `json:"is_admin"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// EntryReason classifies a ledger entry
type EntryReason string

const (
	ReasonDeposit            EntryReason = "DEPOSIT"
	ReasonWithdrawal         EntryReason = "WITHDRAWAL"
	ReasonWithdrawalFee      EntryReason = "WITHDRAWAL_FEE"
	ReasonPlanAccrual        EntryReason = "PLAN_ACCRUAL"
	ReasonReferralCommission EntryReason = "REFERRAL_COMMISSION"
	ReasonCheckinBonus       EntryReason = "CHECKIN_BONUS"
	ReasonWheelPrize         EntryReason = "WHEEL_PRIZE"
	ReasonAdminAdjustment    EntryReason = "ADMIN_ADJUSTMENT"
)

// LedgerEntry is one append-only balance mutation. A user's balance always
// equals the sum of their entry deltas; (user_id, reason, ref_id) is unique
// and forms the idempotency key.
type LedgerEntry struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Delta     float64     `json:"delta"`
	Reason    EntryReason `json:"reason"`
	RefID     string      `json:"ref_id"`
	CreatedAt time.Time   `json:"created_at"`
}

// RequestStatus is the state of a deposit or withdrawal request
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// PaymentMethod is how funds move in or out
type PaymentMethod string

const (
	MethodChainTransfer   PaymentMethod = "CHAIN_TRANSFER"
	MethodInstantTransfer PaymentMethod = "INSTANT_TRANSFER"
)

// DepositRequest is a user's declaration of an incoming payment, finalized by
// an admin decision. Terminal statuses are immutable.
type DepositRequest struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	Amount    float64       `json:"amount"`
	Method    PaymentMethod `json:"method"`
	ProofRef  string        `json:"proof_ref,omitempty"` // tx hash or payer id
	PlanID    *int          `json:"plan_id,omitempty"`   // plan to activate on approval
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	DecidedAt *time.Time    `json:"decided_at,omitempty"`
}

// WithdrawRequest holds the user's balance optimistically from submission
// until an admin decision. Fee is fixed at submission time.
type WithdrawRequest struct {
	ID          string        `json:"id"`
	UserID      string        `json:"user_id"`
	Amount      float64       `json:"amount"`
	Method      PaymentMethod `json:"method"`
	Destination string        `json:"destination"` // wallet address or payment key
	Fee         float64       `json:"fee"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	DecidedAt   *time.Time    `json:"decided_at,omitempty"`
}
