package binary

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/domain"
)

// PendingRepository stores pair income owed for packages a user has not
// activated yet. Silver pairs unlock matching gold and ruby incomes; the
// rows sit here until the user owns the package.
type PendingRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPendingRepository creates a new pending income repository
func NewPendingRepository(db *sql.DB, log zerolog.Logger) *PendingRepository {
	return &PendingRepository{
		db:  db,
		log: log.With().Str("repo", "pending").Logger(),
	}
}

// AddTx records one pending income row.
func (r *PendingRepository) AddTx(tx *sql.Tx, userID, packageCode string, amount float64, sourceEntryID int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: pending amount must be positive", domain.ErrValidation)
	}
	_, err := tx.Exec(`
		INSERT INTO pending_incomes (user_id, package_code, amount, source_entry_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, packageCode, amount, sourceEntryID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record pending income: %w", err)
	}
	return nil
}

// ListUnmaterializedTx returns the unmaterialized rows for (user, package)
// in creation order.
func (r *PendingRepository) ListUnmaterializedTx(tx *sql.Tx, userID, packageCode string) ([]*domain.PendingIncome, error) {
	rows, err := tx.Query(`
		SELECT id, user_id, package_code, amount, source_entry_id, created_at
		FROM pending_incomes
		WHERE user_id = ? AND package_code = ? AND materialized = 0
		ORDER BY id
	`, userID, packageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending incomes: %w", err)
	}
	defer rows.Close()

	var out []*domain.PendingIncome
	for rows.Next() {
		var p domain.PendingIncome
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.PackageCode, &p.Amount, &p.SourceEntryID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending income: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending incomes: %w", err)
	}

	return out, nil
}

// MarkMaterializedTx flips one row to materialized. The CAS keeps a row from
// paying out twice when two materialization paths race.
func (r *PendingRepository) MarkMaterializedTx(tx *sql.Tx, id int64) (bool, error) {
	res, err := tx.Exec(`
		UPDATE pending_incomes SET materialized = 1, materialized_at = ?
		WHERE id = ? AND materialized = 0
	`, time.Now().Unix(), id)
	if err != nil {
		return false, fmt.Errorf("failed to materialize pending income: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected == 1, nil
}

// PendingTotal sums a user's unmaterialized amount for a package.
func (r *PendingRepository) PendingTotal(userID, packageCode string) (float64, error) {
	var total float64
	err := r.db.QueryRow(`
		SELECT COALESCE(SUM(amount), 0) FROM pending_incomes
		WHERE user_id = ? AND package_code = ? AND materialized = 0
	`, userID, packageCode).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum pending incomes: %w", err)
	}
	return total, nil
}
