// Package binary implements the session engine: PV entries, session runs
// and the per-session pair matcher.
package binary

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/domain"
)

// PVRepository handles PV entry operations
type PVRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPVRepository creates a new PV repository
func NewPVRepository(db *sql.DB, log zerolog.Logger) *PVRepository {
	return &PVRepository{
		db:  db,
		log: log.With().Str("repo", "pv").Logger(),
	}
}

// CreditPV creates a new red PV entry on the given side. Each activation
// creates an entry; this is never a counter update.
func (r *PVRepository) CreditPV(userID, packageCode string, pv float64, side domain.Side) (int64, error) {
	return creditPV(r.db, userID, packageCode, pv, side)
}

// CreditPVTx is CreditPV inside a caller-owned transaction.
func (r *PVRepository) CreditPVTx(tx *sql.Tx, userID, packageCode string, pv float64, side domain.Side) (int64, error) {
	return creditPV(tx, userID, packageCode, pv, side)
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func creditPV(ex execer, userID, packageCode string, pv float64, side domain.Side) (int64, error) {
	if side != domain.SideLeft && side != domain.SideRight {
		return 0, fmt.Errorf("%w: invalid PV side %q", domain.ErrValidation, side)
	}
	if pv <= 0 {
		return 0, fmt.Errorf("%w: PV must be positive, got %v", domain.ErrValidation, pv)
	}

	res, err := ex.Exec(`
		INSERT INTO pv_entries (user_id, package_code, side, pv, state, created_at)
		VALUES (?, ?, ?, ?, 'red', ?)
	`, userID, packageCode, string(side), pv, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to create PV entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get PV entry id: %w", err)
	}
	return id, nil
}

// Candidates returns the users holding at least one red entry on each side
// for the package, in FIFO order by their earliest red entry.
func (r *PVRepository) Candidates(packageCode string) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT user_id
		FROM pv_entries
		WHERE package_code = ? AND state = 'red'
		GROUP BY user_id
		HAVING SUM(CASE WHEN side = 'L' THEN 1 ELSE 0 END) > 0
		   AND SUM(CASE WHEN side = 'R' THEN 1 ELSE 0 END) > 0
		ORDER BY MIN(created_at), MIN(id)
	`, packageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to discover pair candidates: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		userIDs = append(userIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}

	return userIDs, nil
}

// EarliestRedTx returns the id of the earliest unlocked red entry on one
// side. The strict FIFO per leg is the matching order guarantee.
func (r *PVRepository) EarliestRedTx(tx *sql.Tx, userID, packageCode string, side domain.Side) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		SELECT id FROM pv_entries
		WHERE user_id = ? AND package_code = ? AND side = ? AND state = 'red' AND lock_token IS NULL
		ORDER BY created_at, id
		LIMIT 1
	`, userID, packageCode, string(side)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: no red %s entry for %s/%s", domain.ErrNotFound, side, userID, packageCode)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to find earliest red entry: %w", err)
	}
	return id, nil
}

// ReserveTx takes the transient lock on one red entry. Losing the CAS means
// a concurrent engine instance holds it. Reservations live only inside the
// pairing transaction; a rollback clears them.
func (r *PVRepository) ReserveTx(tx *sql.Tx, entryID int64, token string) error {
	res, err := tx.Exec(`
		UPDATE pv_entries SET lock_token = ?
		WHERE id = ? AND state = 'red' AND lock_token IS NULL
	`, token, entryID)
	if err != nil {
		return fmt.Errorf("failed to reserve PV entry: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: PV entry %d is locked or matched", domain.ErrConflict, entryID)
	}
	return nil
}

// FlipPairTx flips both reserved entries to green with symmetric match
// pointers. Either both rows transition or the transaction aborts; a green
// entry never reverts.
func (r *PVRepository) FlipPairTx(tx *sql.Tx, leftID, rightID int64, sessionRunID, token string) error {
	now := time.Now().Unix()

	for _, pair := range []struct{ id, matchedWith int64 }{
		{leftID, rightID},
		{rightID, leftID},
	} {
		res, err := tx.Exec(`
			UPDATE pv_entries
			SET state = 'green', matched_with = ?, session_run_id = ?, matched_at = ?, lock_token = NULL
			WHERE id = ? AND state = 'red' AND lock_token = ?
		`, pair.matchedWith, sessionRunID, now, pair.id, token)
		if err != nil {
			return fmt.Errorf("failed to flip PV entry %d: %w", pair.id, err)
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return fmt.Errorf("%w: PV entry %d lost its reservation", domain.ErrConflict, pair.id)
		}
	}

	return nil
}

// GetEntry loads one PV entry.
func (r *PVRepository) GetEntry(id int64) (*domain.PVEntry, error) {
	row := r.db.QueryRow(`
		SELECT id, user_id, package_code, side, pv, state, matched_with, session_run_id, matched_at, created_at
		FROM pv_entries WHERE id = ?
	`, id)

	var e domain.PVEntry
	var side, state string
	var matchedWith sql.NullInt64
	var runID sql.NullString
	var matchedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(&e.ID, &e.UserID, &e.PackageCode, &side, &e.PV, &state, &matchedWith, &runID, &matchedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: PV entry %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get PV entry: %w", err)
	}

	e.Side = domain.Side(side)
	e.State = domain.PVState(state)
	e.SessionRunID = runID.String
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	if matchedWith.Valid {
		e.MatchedWith = &matchedWith.Int64
	}
	if matchedAt.Valid {
		t := time.Unix(matchedAt.Int64, 0).UTC()
		e.MatchedAt = &t
	}

	return &e, nil
}

// CountByState counts a user's PV entries for a package and state.
func (r *PVRepository) CountByState(userID, packageCode string, state domain.PVState) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM pv_entries WHERE user_id = ? AND package_code = ? AND state = ?
	`, userID, packageCode, string(state)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count PV entries: %w", err)
	}
	return count, nil
}
