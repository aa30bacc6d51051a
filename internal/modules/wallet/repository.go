// Package wallet implements the wallet and ledger substrate. Every credit
// and debit in the system lands here as a wallet row update plus an
// append-only ledger row, committed as one transaction.
package wallet

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
)

// ledgerColumns is the column list for wallet_ledger reads.
// Order must match scanEntry.
const ledgerColumns = `tx_id, user_id, direction, amount, category, balance_after, refs, note, created_at`

// Repository handles wallet and wallet ledger operations
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new wallet repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "wallet").Logger(),
	}
}

// Credit appends a credit ledger row and increments the wallet balance.
func (r *Repository) Credit(userID string, amount float64, category domain.LedgerCategory, refs, note string) (string, error) {
	var txID string
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var err error
		txID, err = r.CreditTx(tx, userID, amount, category, refs, note)
		return err
	})
	return txID, err
}

// CreditTx is Credit inside a caller-owned transaction. The binary engine
// uses this to keep the pair flip and the pair income in one atomic unit.
func (r *Repository) CreditTx(tx *sql.Tx, userID string, amount float64, category domain.LedgerCategory, refs, note string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: credit amount must be positive, got %v", domain.ErrValidation, amount)
	}

	now := time.Now().Unix()
	if err := ensureWallet(tx, userID, now); err != nil {
		return "", err
	}

	_, err := tx.Exec(`
		UPDATE wallets
		SET balance = balance + ?, total_credited = total_credited + ?, updated_at = ?
		WHERE user_id = ?
	`, amount, amount, now, userID)
	if err != nil {
		return "", fmt.Errorf("failed to credit wallet: %w", err)
	}

	return appendEntry(tx, userID, domain.DirectionCredit, amount, category, refs, note, now)
}

// Debit appends a debit ledger row and decrements the wallet balance.
// Fails with ErrInsufficientBalance when the balance is short.
func (r *Repository) Debit(userID string, amount float64, category domain.LedgerCategory, refs, note string) (string, error) {
	var txID string
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var err error
		txID, err = r.DebitTx(tx, userID, amount, category, refs, note)
		return err
	})
	return txID, err
}

// DebitTx is Debit inside a caller-owned transaction.
func (r *Repository) DebitTx(tx *sql.Tx, userID string, amount float64, category domain.LedgerCategory, refs, note string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: debit amount must be positive, got %v", domain.ErrValidation, amount)
	}

	now := time.Now().Unix()
	res, err := tx.Exec(`
		UPDATE wallets
		SET balance = balance - ?, total_debited = total_debited + ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?
	`, amount, amount, now, userID, amount)
	if err != nil {
		return "", fmt.Errorf("failed to debit wallet: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return "", domain.ErrInsufficientBalance
	}

	return appendEntry(tx, userID, domain.DirectionDebit, amount, category, refs, note, now)
}

// Hold moves amount from balance to pending.
func (r *Repository) Hold(userID string, amount float64, refs string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: hold amount must be positive, got %v", domain.ErrValidation, amount)
	}

	var txID string
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		res, err := tx.Exec(`
			UPDATE wallets
			SET balance = balance - ?, pending = pending + ?, updated_at = ?
			WHERE user_id = ? AND balance >= ?
		`, amount, amount, now, userID, amount)
		if err != nil {
			return fmt.Errorf("failed to hold amount: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return domain.ErrInsufficientBalance
		}

		txID, err = appendEntry(tx, userID, domain.DirectionHold, amount, domain.CategoryWithdraw, refs, "", now)
		return err
	})
	return txID, err
}

// Release moves amount from pending back to balance.
func (r *Repository) Release(userID string, amount float64, refs string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: release amount must be positive, got %v", domain.ErrValidation, amount)
	}

	var txID string
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		res, err := tx.Exec(`
			UPDATE wallets
			SET pending = pending - ?, balance = balance + ?, updated_at = ?
			WHERE user_id = ? AND pending >= ?
		`, amount, amount, now, userID, amount)
		if err != nil {
			return fmt.Errorf("failed to release amount: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return domain.ErrInsufficientBalance
		}

		txID, err = appendEntry(tx, userID, domain.DirectionRelease, amount, domain.CategoryWithdraw, refs, "", now)
		return err
	})
	return txID, err
}

// Finalize consumes amount from pending, completing a withdrawal.
func (r *Repository) Finalize(userID string, amount float64, refs string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: finalize amount must be positive, got %v", domain.ErrValidation, amount)
	}

	var txID string
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		res, err := tx.Exec(`
			UPDATE wallets
			SET pending = pending - ?, total_debited = total_debited + ?, updated_at = ?
			WHERE user_id = ? AND pending >= ?
		`, amount, amount, now, userID, amount)
		if err != nil {
			return fmt.Errorf("failed to finalize amount: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return domain.ErrInsufficientBalance
		}

		txID, err = appendEntry(tx, userID, domain.DirectionFinalize, amount, domain.CategoryWithdraw, refs, "", now)
		return err
	})
	return txID, err
}

// GetBalance returns the current wallet position for a user.
// A user without a wallet yet has a zero position.
func (r *Repository) GetBalance(userID string) (*domain.Wallet, error) {
	w := &domain.Wallet{UserID: userID}
	err := r.db.QueryRow(`
		SELECT balance, pending, total_credited, total_debited
		FROM wallets WHERE user_id = ?
	`, userID).Scan(&w.Balance, &w.Pending, &w.TotalCredited, &w.TotalDebited)
	if errors.Is(err, sql.ErrNoRows) {
		return w, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet balance: %w", err)
	}
	return w, nil
}

// GetEntries returns the most recent ledger entries for a user.
func (r *Repository) GetEntries(userID string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := r.db.Query(`
		SELECT `+ledgerColumns+` FROM wallet_ledger
		WHERE user_id = ?
		ORDER BY created_at DESC, tx_id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

// CountByCategory counts ledger rows for a user and category.
func (r *Repository) CountByCategory(userID string, category domain.LedgerCategory) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM wallet_ledger WHERE user_id = ? AND category = ?
	`, userID, category).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return count, nil
}

// Reconcile verifies the ledger-wallet invariant for one user: the signed
// ledger sum must equal balance + pending. A mismatch is fatal.
func (r *Repository) Reconcile(userID string) error {
	var ledgerSum float64
	err := r.db.QueryRow(`
		SELECT COALESCE(SUM(CASE direction
			WHEN 'credit' THEN amount
			WHEN 'debit' THEN -amount
			WHEN 'finalize' THEN -amount
			ELSE 0 END), 0)
		FROM wallet_ledger WHERE user_id = ?
	`, userID).Scan(&ledgerSum)
	if err != nil {
		return fmt.Errorf("failed to sum ledger for %s: %w", userID, err)
	}

	w, err := r.GetBalance(userID)
	if err != nil {
		return err
	}

	// Float ledger arithmetic accumulates sub-paisa noise; anything beyond
	// that is a real mismatch.
	diff := ledgerSum - (w.Balance + w.Pending)
	if diff > 1e-6 || diff < -1e-6 {
		return fmt.Errorf("%w: user %s ledger sum %v != balance+pending %v",
			domain.ErrLedgerInvariant, userID, ledgerSum, w.Balance+w.Pending)
	}

	return nil
}

// ReconcileAll runs Reconcile for every wallet and returns the first fatal
// mismatch along with the ids of all affected users.
func (r *Repository) ReconcileAll() ([]string, error) {
	rows, err := r.db.Query(`SELECT user_id FROM wallets`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan wallet user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}

	var bad []string
	var firstErr error
	for _, id := range userIDs {
		if err := r.Reconcile(id); err != nil {
			if !errors.Is(err, domain.ErrLedgerInvariant) {
				return bad, err
			}
			bad = append(bad, id)
			if firstErr == nil {
				firstErr = err
			}
			r.log.Error().Err(err).Str("user_id", id).Msg("Ledger reconciliation mismatch")
		}
	}

	return bad, firstErr
}

// Helper functions

// ensureWallet creates the wallet row on first touch.
func ensureWallet(tx *sql.Tx, userID string, now int64) error {
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO wallets (user_id, balance, pending, total_credited, total_debited, updated_at)
		VALUES (?, 0, 0, 0, 0, ?)
	`, userID, now)
	if err != nil {
		return fmt.Errorf("failed to ensure wallet for %s: %w", userID, err)
	}
	return nil
}

// appendEntry appends the ledger row with the post-operation balance snapshot.
func appendEntry(tx *sql.Tx, userID string, direction domain.LedgerDirection, amount float64, category domain.LedgerCategory, refs, note string, now int64) (string, error) {
	var balanceAfter float64
	if err := tx.QueryRow(`SELECT balance FROM wallets WHERE user_id = ?`, userID).Scan(&balanceAfter); err != nil {
		return "", fmt.Errorf("failed to read balance after %s: %w", direction, err)
	}

	txID := uuid.NewString()
	_, err := tx.Exec(`
		INSERT INTO wallet_ledger (tx_id, user_id, direction, amount, category, balance_after, refs, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, txID, userID, string(direction), amount, string(category), balanceAfter, refs, note, now)
	if err != nil {
		return "", fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return txID, nil
}

func scanEntry(rows *sql.Rows) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var direction, category string
	var createdAt int64

	err := rows.Scan(&e.TxID, &e.UserID, &direction, &e.Amount, &category, &e.BalanceAfter, &e.Refs, &e.Note, &createdAt)
	if err != nil {
		return e, err
	}

	e.Direction = domain.LedgerDirection(direction)
	e.Category = domain.LedgerCategory(category)
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	return e, nil
}
