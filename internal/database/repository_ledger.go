package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"invest-engine/internal/engine"
)

// Ledger repository methods. ApplyEntry is the single write path for every
// balance mutation in the system.

// ApplyEntry atomically appends a ledger entry and moves the cached balance.
// The row lock on users serializes concurrent mutations per user; the unique
// (user_id, reason, ref_id) index enforces at-most-once application.
// Returns the balance after the entry.
func (r *Repository) ApplyEntry(ctx context.Context, entry *LedgerEntry) (float64, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM users WHERE id = $1 FOR UPDATE`, entry.UserID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, engine.ErrUserNotFound
		}
		return 0, err
	}

	if entry.Delta < 0 && balance+entry.Delta < 0 {
		return balance, engine.ErrInsufficientFunds
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, delta, reason, ref_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, reason, ref_id) DO NOTHING`,
		entry.ID, entry.UserID, entry.Delta, entry.Reason, entry.RefID)
	if err != nil {
		return balance, err
	}
	if tag.RowsAffected() == 0 {
		return balance, engine.ErrDuplicateEffect
	}

	err = tx.QueryRow(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance`,
		entry.UserID, entry.Delta).Scan(&balance)
	if err != nil {
		return balance, err
	}

	err = tx.QueryRow(ctx,
		`SELECT created_at FROM ledger_entries WHERE id = $1`, entry.ID).Scan(&entry.CreatedAt)
	if err != nil {
		return balance, err
	}

	if err := tx.Commit(ctx); err != nil {
		return balance, err
	}
	return balance, nil
}

// GetLedgerEntries returns a user's entries, newest first
func (r *Repository) GetLedgerEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	query := `
		SELECT id, user_id, delta, reason, ref_id, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SumLedgerEntries returns the sum of a user's deltas. Auditing compares this
// against the cached balance; the two must always agree.
func (r *Repository) SumLedgerEntries(ctx context.Context, userID string) (float64, error) {
	var sum float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE user_id = $1`, userID).Scan(&sum)
	return sum, err
}
