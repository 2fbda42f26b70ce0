package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Deposit and withdrawal request repository methods. Status transitions are
// guarded in SQL (WHERE status = 'PENDING') so a terminal request can never
// be decided twice even under concurrent admin actions.

// CreateDepositRequest inserts a new PENDING deposit request
func (r *Repository) CreateDepositRequest(ctx context.Context, req *DepositRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = RequestPending

	query := `
		INSERT INTO deposit_requests (id, user_id, amount, method, proof_ref, plan_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return r.db.Pool.QueryRow(ctx, query,
		req.ID, req.UserID, req.Amount, req.Method, req.ProofRef, req.PlanID, req.Status,
	).Scan(&req.CreatedAt)
}

// GetDepositRequest retrieves a deposit request by id, or nil if not found
func (r *Repository) GetDepositRequest(ctx context.Context, id string) (*DepositRequest, error) {
	query := `
		SELECT id, user_id, amount, method, COALESCE(proof_ref, ''), plan_id, status, created_at, decided_at
		FROM deposit_requests WHERE id = $1`

	req := &DepositRequest{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.UserID, &req.Amount, &req.Method, &req.ProofRef,
		&req.PlanID, &req.Status, &req.CreatedAt, &req.DecidedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return req, nil
}

// MarkDepositDecided moves a PENDING deposit request to a terminal status.
// Returns false if the request was not PENDING (already decided or missing).
func (r *Repository) MarkDepositDecided(ctx context.Context, id string, status RequestStatus, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE deposit_requests SET status = $2, decided_at = $3
		WHERE id = $1 AND status = 'PENDING'`,
		id, status, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListDepositRequests returns requests filtered by status ("" for all), newest first
func (r *Repository) ListDepositRequests(ctx context.Context, status RequestStatus, limit int) ([]DepositRequest, error) {
	query := `
		SELECT id, user_id, amount, method, COALESCE(proof_ref, ''), plan_id, status, created_at, decided_at
		FROM deposit_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []DepositRequest
	for rows.Next() {
		var req DepositRequest
		err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.Method, &req.ProofRef,
			&req.PlanID, &req.Status, &req.CreatedAt, &req.DecidedAt)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ListUserDepositRequests returns one user's deposit requests, newest first
func (r *Repository) ListUserDepositRequests(ctx context.Context, userID string, limit int) ([]DepositRequest, error) {
	query := `
		SELECT id, user_id, amount, method, COALESCE(proof_ref, ''), plan_id, status, created_at, decided_at
		FROM deposit_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []DepositRequest
	for rows.Next() {
		var req DepositRequest
		err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.Method, &req.ProofRef,
			&req.PlanID, &req.Status, &req.CreatedAt, &req.DecidedAt)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// CreateWithdrawRequest inserts a new PENDING withdrawal request
func (r *Repository) CreateWithdrawRequest(ctx context.Context, req *WithdrawRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.Status = RequestPending

	query := `
		INSERT INTO withdraw_requests (id, user_id, amount, method, destination, fee, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	return r.db.Pool.QueryRow(ctx, query,
		req.ID, req.UserID, req.Amount, req.Method, req.Destination, req.Fee, req.Status,
	).Scan(&req.CreatedAt)
}

// GetWithdrawRequest retrieves a withdrawal request by id, or nil if not found
func (r *Repository) GetWithdrawRequest(ctx context.Context, id string) (*WithdrawRequest, error) {
	query := `
		SELECT id, user_id, amount, method, destination, fee, status, created_at, decided_at
		FROM withdraw_requests WHERE id = $1`

	req := &WithdrawRequest{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&req.ID, &req.UserID, &req.Amount, &req.Method, &req.Destination,
		&req.Fee, &req.Status, &req.CreatedAt, &req.DecidedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return req, nil
}

// MarkWithdrawDecided moves a PENDING withdrawal request to a terminal status.
// Returns false if the request was not PENDING.
func (r *Repository) MarkWithdrawDecided(ctx context.Context, id string, status RequestStatus, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE withdraw_requests SET status = $2, decided_at = $3
		WHERE id = $1 AND status = 'PENDING'`,
		id, status, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListWithdrawRequests returns requests filtered by status ("" for all), newest first
func (r *Repository) ListWithdrawRequests(ctx context.Context, status RequestStatus, limit int) ([]WithdrawRequest, error) {
	query := `
		SELECT id, user_id, amount, method, destination, fee, status, created_at, decided_at
		FROM withdraw_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []WithdrawRequest
	for rows.Next() {
		var req WithdrawRequest
		err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.Method, &req.Destination,
			&req.Fee, &req.Status, &req.CreatedAt, &req.DecidedAt)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// ListUserWithdrawRequests returns one user's withdrawal requests, newest first
func (r *Repository) ListUserWithdrawRequests(ctx context.Context, userID string, limit int) ([]WithdrawRequest, error) {
	query := `
		SELECT id, user_id, amount, method, destination, fee, status, created_at, decided_at
		FROM withdraw_requests
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []WithdrawRequest
	for rows.Next() {
		var req WithdrawRequest
		err := rows.Scan(&req.ID, &req.UserID, &req.Amount, &req.Method, &req.Destination,
			&req.Fee, &req.Status, &req.CreatedAt, &req.DecidedAt)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}
