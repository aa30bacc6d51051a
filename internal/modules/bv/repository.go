// Package bv implements the BV ledger and its coupling to the fund pool.
// Every BV credit feeds the company-wide CTO BV aggregate and the monthly
// car/house accumulators in the same transaction.
package bv

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
)

// Repository handles BV ledger operations
type Repository struct {
	db           *sql.DB
	carPercent   float64
	housePercent float64
	log          zerolog.Logger
}

// NewRepository creates a new BV repository. carPercent and housePercent are
// the monthly pool allocations applied at credit time (plan default 2 each).
func NewRepository(db *sql.DB, carPercent, housePercent float64, log zerolog.Logger) *Repository {
	return &Repository{
		db:           db,
		carPercent:   carPercent,
		housePercent: housePercent,
		log:          log.With().Str("repo", "bv").Logger(),
	}
}

// CreditBV appends a positive BV row and allocates the pool shares.
func (r *Repository) CreditBV(userID string, amount float64, source, ref string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		return r.CreditBVTx(tx, userID, amount, source, ref)
	})
}

// CreditBVTx is CreditBV inside a caller-owned transaction.
func (r *Repository) CreditBVTx(tx *sql.Tx, userID string, amount float64, source, ref string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: BV credit must be positive, got %v", domain.ErrValidation, amount)
	}

	now := time.Now().Unix()
	_, err := tx.Exec(`
		INSERT INTO bv_ledger (user_id, amount, source, ref, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, amount, source, ref, now)
	if err != nil {
		return fmt.Errorf("failed to append BV entry: %w", err)
	}

	carShare := amount * r.carPercent / 100
	houseShare := amount * r.housePercent / 100

	_, err = tx.Exec(`
		UPDATE fund_pool
		SET total_cto_bv = total_cto_bv + ?,
		    car_pool_monthly = car_pool_monthly + ?,
		    house_pool_monthly = house_pool_monthly + ?,
		    updated_at = ?
		WHERE id = 1
	`, amount, carShare, houseShare, now)
	if err != nil {
		return fmt.Errorf("failed to allocate BV to fund pool: %w", err)
	}

	return nil
}

// ConsumeBV appends a negative BV row. The CTO aggregate is clamped at zero;
// a consumption can never drive the pool negative.
func (r *Repository) ConsumeBV(userID string, amount float64, source, ref string) error {
	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		return r.ConsumeBVTx(tx, userID, amount, source, ref)
	})
}

// ConsumeBVTx is ConsumeBV inside a caller-owned transaction.
func (r *Repository) ConsumeBVTx(tx *sql.Tx, userID string, amount float64, source, ref string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: BV consumption must be positive, got %v", domain.ErrValidation, amount)
	}

	now := time.Now().Unix()
	_, err := tx.Exec(`
		INSERT INTO bv_ledger (user_id, amount, source, ref, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, -amount, source, ref, now)
	if err != nil {
		return fmt.Errorf("failed to append BV consumption: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE fund_pool
		SET total_cto_bv = MAX(0, total_cto_bv - ?), updated_at = ?
		WHERE id = 1
	`, amount, now)
	if err != nil {
		return fmt.Errorf("failed to consume CTO BV: %w", err)
	}

	return nil
}

// CTOTotal returns the current company-wide CTO BV from the fund pool row.
func (r *Repository) CTOTotal() (float64, error) {
	var total float64
	err := r.db.QueryRow(`SELECT total_cto_bv FROM fund_pool WHERE id = 1`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to read CTO BV: %w", err)
	}
	return total, nil
}

// LedgerSum returns the signed sum of all BV ledger rows. Used by tests and
// reconciliation to cross-check the fund pool aggregate.
func (r *Repository) LedgerSum() (float64, error) {
	var sum float64
	err := r.db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM bv_ledger`).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum BV ledger: %w", err)
	}
	return sum, nil
}

// UserBVTotal returns the signed BV sum for one user.
func (r *Repository) UserBVTotal(userID string) (float64, error) {
	var sum float64
	err := r.db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM bv_ledger WHERE user_id = ?`, userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum user BV: %w", err)
	}
	return sum, nil
}
