package binary

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"compengine/internal/domain"
)

// SessionRepository handles session run and processed pair persistence
type SessionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sql.DB, log zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		db:  db,
		log: log.With().Str("repo", "sessions").Logger(),
	}
}

// InsertRun claims (dateKey, sessionIndex). The unique constraint is the
// idempotency gate; a second claim for the same slot returns
// ErrAlreadyProcessed.
func (r *SessionRepository) InsertRun(dateKey string, sessionIndex int) (*domain.SessionRun, error) {
	run := &domain.SessionRun{
		ID:           uuid.NewString(),
		DateKey:      dateKey,
		SessionIndex: sessionIndex,
		StartedAt:    time.Now(),
	}

	_, err := r.db.Exec(`
		INSERT INTO session_runs (id, date_key, session_index, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, dateKey, sessionIndex, run.StartedAt.Unix())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: session %s/%d already ran", domain.ErrAlreadyProcessed, dateKey, sessionIndex)
		}
		return nil, fmt.Errorf("failed to insert session run: %w", err)
	}

	return run, nil
}

// AddPairTx appends one processed pair and bumps the run counter.
func (r *SessionRepository) AddPairTx(tx *sql.Tx, runID, userID, packageCode string, leftEntryID, rightEntryID int64, amount float64) error {
	_, err := tx.Exec(`
		INSERT INTO session_pairs (session_run_id, user_id, package_code, left_entry_id, right_entry_id, amount, credited_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, userID, packageCode, leftEntryID, rightEntryID, amount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record session pair: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE session_runs SET processed_pairs = processed_pairs + 1 WHERE id = ?
	`, runID)
	if err != nil {
		return fmt.Errorf("failed to bump pair counter: %w", err)
	}

	return nil
}

// PairCountTx counts pairs already credited to (user, package) inside a run.
// The per-session cap check reads through this.
func (r *SessionRepository) PairCountTx(tx *sql.Tx, runID, userID, packageCode string) (int, error) {
	var count int
	err := tx.QueryRow(`
		SELECT COUNT(*) FROM session_pairs
		WHERE session_run_id = ? AND user_id = ? AND package_code = ?
	`, runID, userID, packageCode).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count session pairs: %w", err)
	}
	return count, nil
}

// FinalizeRun marks a run finished, recording any per-user failures.
func (r *SessionRepository) FinalizeRun(runID, failures string) error {
	_, err := r.db.Exec(`
		UPDATE session_runs SET finalized = 1, finished_at = ?, failures = ? WHERE id = ?
	`, time.Now().Unix(), failures, runID)
	if err != nil {
		return fmt.Errorf("failed to finalize session run: %w", err)
	}
	return nil
}

// GetRun loads a run by date key and session index.
func (r *SessionRepository) GetRun(dateKey string, sessionIndex int) (*domain.SessionRun, error) {
	row := r.db.QueryRow(`
		SELECT id, date_key, session_index, started_at, finished_at, finalized, processed_pairs, failures
		FROM session_runs WHERE date_key = ? AND session_index = ?
	`, dateKey, sessionIndex)

	var run domain.SessionRun
	var startedAt int64
	var finishedAt sql.NullInt64

	err := row.Scan(&run.ID, &run.DateKey, &run.SessionIndex, &startedAt, &finishedAt,
		&run.Finalized, &run.ProcessedPairs, &run.Failures)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session run %s/%d", domain.ErrNotFound, dateKey, sessionIndex)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session run: %w", err)
	}

	run.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0).UTC()
		run.FinishedAt = &t
	}

	return &run, nil
}

// GetPairs returns the processed pairs of a run in credit order.
func (r *SessionRepository) GetPairs(runID string) ([]*domain.ProcessedPair, error) {
	rows, err := r.db.Query(`
		SELECT id, session_run_id, user_id, package_code, left_entry_id, right_entry_id, amount, credited_at
		FROM session_pairs WHERE session_run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*domain.ProcessedPair
	for rows.Next() {
		var p domain.ProcessedPair
		var creditedAt int64
		if err := rows.Scan(&p.ID, &p.SessionRunID, &p.UserID, &p.PackageCode,
			&p.LeftEntryID, &p.RightEntryID, &p.Amount, &creditedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session pair: %w", err)
		}
		p.CreditedAt = time.Unix(creditedAt, 0).UTC()
		pairs = append(pairs, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session pairs: %w", err)
	}

	return pairs, nil
}
