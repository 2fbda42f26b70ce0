package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"invest-engine/internal/engine"
)

// Repository provides data access methods over the connection pool
type Repository struct {
	db *DB
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

const userColumns = `id, email, password_hash, name, balance, active_plan_id, plan_activated_at,
	trial_used, referral_code, referred_by, checkin_streak, last_checkin_at, last_spin_at,
	status, total_invested, total_withdrawn, is_admin, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Balance, &u.ActivePlanID, &u.PlanActivatedAt,
		&u.TrialUsed, &u.ReferralCode, &u.ReferredBy, &u.CheckinStreak, &u.LastCheckinAt, &u.LastSpinAt,
		&u.Status, &u.TotalInvested, &u.TotalWithdrawn, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// CreateUser inserts a new user record
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Status == "" {
		user.Status = AccountActive
	}

	query := `
		INSERT INTO users (id, email, password_hash, name, referral_code, referred_by, status, is_admin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	return r.db.Pool.QueryRow(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Name,
		user.ReferralCode, user.ReferredBy, user.Status, user.IsAdmin,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
}

// GetUserByID retrieves a user by id, or nil if not found
func (r *Repository) GetUserByID(ctx context.Context, userID string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.Pool.QueryRow(ctx, query, userID))
}

// GetUserByEmail retrieves a user by email, or nil if not found
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.db.Pool.QueryRow(ctx, query, email))
}

// GetUserByReferralCode retrieves a user by their referral code, or nil if not found
func (r *Repository) GetUserByReferralCode(ctx context.Context, code string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE referral_code = $1`
	return scanUser(r.db.Pool.QueryRow(ctx, query, code))
}

// EmailExists checks whether an email is already registered
func (r *Repository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email).Scan(&exists)
	return exists, err
}

// UpdateUserStatus sets the account status
func (r *Repository) UpdateUserStatus(ctx context.Context, userID string, status AccountStatus) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, userID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrUserNotFound
	}
	return nil
}

// UpdateUserPassword replaces a user's password hash
func (r *Repository) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrUserNotFound
	}
	return nil
}

// SetUserAdmin toggles the admin role
func (r *Repository) SetUserAdmin(ctx context.Context, userID string, isAdmin bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET is_admin = $2, updated_at = NOW() WHERE id = $1`, userID, isAdmin)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrUserNotFound
	}
	return nil
}

// UpdateUserReferrer rewrites the referral edge for a user
func (r *Repository) UpdateUserReferrer(ctx context.Context, userID string, referrerCode *string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET referred_by = $2, updated_at = NOW() WHERE id = $1`, userID, referrerCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrUserNotFound
	}
	return nil
}

// ActivateUserPlan attaches a plan to a user and bumps the invested counter.
// markTrial also flips the one-shot trial flag.
func (r *Repository) ActivateUserPlan(ctx context.Context, userID string, planID int, activatedAt time.Time, markTrial bool, invested float64) error {
	query := `
		UPDATE users SET
			active_plan_id = $2,
			plan_activated_at = $3,
			trial_used = trial_used OR $4,
			total_invested = total_invested + $5,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Pool.Exec(ctx, query, userID, planID, activatedAt, markTrial, invested)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrUserNotFound
	}
	return nil
}

// ClearUserPlan detaches an expired or replaced plan
func (r *Repository) ClearUserPlan(ctx context.Context, userID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET active_plan_id = NULL, plan_activated_at = NULL, updated_at = NOW() WHERE id = $1`,
		userID)
	return err
}

// ListUsersWithActivePlan returns users holding a plan, for the accrual scheduler
func (r *Repository) ListUsersWithActivePlan(ctx context.Context) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE active_plan_id IS NOT NULL`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateCheckin records a completed daily check-in
func (r *Repository) UpdateCheckin(ctx context.Context, userID string, streak int, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET checkin_streak = $2, last_checkin_at = $3, updated_at = NOW() WHERE id = $1`,
		userID, streak, at)
	return err
}

// UpdateLastSpin records a completed wheel spin
func (r *Repository) UpdateLastSpin(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET last_spin_at = $2, updated_at = NOW() WHERE id = $1`, userID, at)
	return err
}

// IncrementTotalWithdrawn bumps the monotone payout counter on withdrawal approval
func (r *Repository) IncrementTotalWithdrawn(ctx context.Context, userID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("total_withdrawn increment must be non-negative, got %f", amount)
	}
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET total_withdrawn = total_withdrawn + $2, updated_at = NOW() WHERE id = $1`,
		userID, amount)
	return err
}
