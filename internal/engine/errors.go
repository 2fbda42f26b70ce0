package engine

import "errors"

// Error is a typed engine error with a stable machine-readable code.
// The HTTP layer maps codes to status codes; callers compare with errors.Is
// against the sentinel values below.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e Error) Error() string {
	return e.Message
}

// Common engine errors
var (
	ErrInvalidAmount         = Error{Code: "INVALID_AMOUNT", Message: "amount must be greater than zero"}
	ErrInsufficientFunds     = Error{Code: "INSUFFICIENT_FUNDS", Message: "balance is insufficient for this operation"}
	ErrDuplicateEffect       = Error{Code: "DUPLICATE_EFFECT", Message: "ledger effect was already applied"}
	ErrInvalidTransition     = Error{Code: "INVALID_TRANSITION", Message: "request is not in a state that allows this transition"}
	ErrPlanAlreadyActive     = Error{Code: "PLAN_ALREADY_ACTIVE", Message: "user already has an active plan"}
	ErrTrialUnavailable      = Error{Code: "TRIAL_UNAVAILABLE", Message: "trial plan is not available for this user"}
	ErrPlanNotFound          = Error{Code: "PLAN_NOT_FOUND", Message: "plan does not exist"}
	ErrAlreadyCheckedIn      = Error{Code: "ALREADY_CHECKED_IN", Message: "already checked in today"}
	ErrAlreadySpunToday      = Error{Code: "ALREADY_SPUN_TODAY", Message: "wheel already spun today"}
	ErrNotEligible           = Error{Code: "NOT_ELIGIBLE", Message: "a paid plan is required for this reward"}
	ErrOutsideWithdrawWindow = Error{Code: "OUTSIDE_WITHDRAW_WINDOW", Message: "withdrawals are closed at this time"}
	ErrBelowMinimum          = Error{Code: "BELOW_MINIMUM", Message: "amount is below the configured minimum"}
	ErrAccountBlocked        = Error{Code: "ACCOUNT_BLOCKED", Message: "account is blocked"}
	ErrCyclicReferral        = Error{Code: "CYCLIC_REFERRAL", Message: "referral change would create a cycle"}
	ErrUserNotFound          = Error{Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrRequestNotFound       = Error{Code: "REQUEST_NOT_FOUND", Message: "request not found"}
	ErrReferrerNotFound      = Error{Code: "REFERRER_NOT_FOUND", Message: "referral code does not match any user"}
)

// CodeOf extracts the engine error code from err, or "" if err is not an
// engine error.
func CodeOf(err error) string {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsDuplicate reports whether err is the idempotency rejection. Accrual and
// commission fan-out treat it as success and keep going.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateEffect)
}
