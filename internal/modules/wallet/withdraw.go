package wallet

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"compengine/internal/domain"
)

// Withdrawals ride on the hold/release/finalize ledger primitives:
// request = hold, approve = finalize, reject = release. Settlement of the
// approved amount happens outside the core.

// RequestWithdraw places a hold for the amount and records the request.
func (r *Repository) RequestWithdraw(userID string, amount float64) (string, error) {
	txID, err := r.Hold(userID, amount, "withdraw")
	if err != nil {
		return "", err
	}

	now := time.Now().Unix()
	_, err = r.db.Exec(`
		INSERT INTO withdraw_requests (tx_id, user_id, amount, status, requested_at)
		VALUES (?, ?, ?, 'pending', ?)
	`, txID, userID, amount, now)
	if err != nil {
		// The hold is already durable; surface the bookkeeping failure.
		return txID, fmt.Errorf("failed to record withdraw request: %w", err)
	}

	r.log.Info().Str("user_id", userID).Float64("amount", amount).Str("tx_id", txID).Msg("Withdraw requested")
	return txID, nil
}

// ApproveWithdraw finalizes the held amount. Approving an already resolved
// request is an ErrAlreadyProcessed no-op.
func (r *Repository) ApproveWithdraw(txID string) error {
	return r.resolveWithdraw(txID, "approved")
}

// RejectWithdraw releases the held amount back to the balance.
func (r *Repository) RejectWithdraw(txID string) error {
	return r.resolveWithdraw(txID, "rejected")
}

func (r *Repository) resolveWithdraw(txID, status string) error {
	var userID string
	var amount float64
	var current string
	err := r.db.QueryRow(`
		SELECT user_id, amount, status FROM withdraw_requests WHERE tx_id = ?
	`, txID).Scan(&userID, &amount, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: withdraw request %s", domain.ErrNotFound, txID)
	}
	if err != nil {
		return fmt.Errorf("failed to load withdraw request: %w", err)
	}
	if current != "pending" {
		return domain.ErrAlreadyProcessed
	}

	if status == "approved" {
		if _, err := r.Finalize(userID, amount, txID); err != nil {
			return err
		}
	} else {
		if _, err := r.Release(userID, amount, txID); err != nil {
			return err
		}
	}

	now := time.Now().Unix()
	_, err = r.db.Exec(`
		UPDATE withdraw_requests SET status = ?, resolved_at = ? WHERE tx_id = ? AND status = 'pending'
	`, status, now, txID)
	if err != nil {
		return fmt.Errorf("failed to resolve withdraw request: %w", err)
	}

	r.log.Info().Str("tx_id", txID).Str("status", status).Msg("Withdraw resolved")
	return nil
}
