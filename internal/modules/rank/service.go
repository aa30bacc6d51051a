// Package rank implements pair counting and rank progression. Every paid
// pair moves the per (user, package) counters; each full 8-pair cycle
// (4 income + 4 cutoff) advances the rank by one step and pays the rank
// income exactly once, enforced by the rank_history unique constraint.
package rank

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
	"compengine/internal/modules/wallet"
	"compengine/internal/plan"
)

// StepResult reports what one OnPairPaid call did.
type StepResult struct {
	IncomePairs int
	CutoffPairs int
	Advanced    bool
	RankIndex   int
	RankIncome  float64 // 0 when the income was already credited before
}

// Service drives rank progression
type Service struct {
	db      *sql.DB
	wallets *wallet.Repository
	log     zerolog.Logger
}

// NewService creates a new rank service
func NewService(db *sql.DB, wallets *wallet.Repository, log zerolog.Logger) *Service {
	return &Service{
		db:      db,
		wallets: wallets,
		log:     log.With().Str("service", "rank").Logger(),
	}
}

// OnPairPaidTx advances the counters for one paid pair inside the session
// engine's transaction. Income pairs fill first (to 4), then cutoff pairs;
// at 8 total the counters reset and the rank steps up, clamped at Company
// Star.
func (s *Service) OnPairPaidTx(tx *sql.Tx, userID, packageCode string) (*StepResult, error) {
	now := time.Now().Unix()
	_, err := tx.Exec(`
		INSERT OR IGNORE INTO user_ranks (user_id, package_code, rank_index, income_pairs, cutoff_pairs, updated_at)
		VALUES (?, ?, -1, 0, 0, ?)
	`, userID, packageCode, now)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure rank state: %w", err)
	}

	var rankIndex, incomePairs, cutoffPairs int
	err = tx.QueryRow(`
		SELECT rank_index, income_pairs, cutoff_pairs FROM user_ranks
		WHERE user_id = ? AND package_code = ?
	`, userID, packageCode).Scan(&rankIndex, &incomePairs, &cutoffPairs)
	if err != nil {
		return nil, fmt.Errorf("failed to load rank state: %w", err)
	}

	if incomePairs < plan.MaxIncomePairs {
		incomePairs++
	} else {
		cutoffPairs++
	}

	result := &StepResult{IncomePairs: incomePairs, CutoffPairs: cutoffPairs, RankIndex: rankIndex}

	if incomePairs+cutoffPairs >= plan.PairsPerRankStep {
		newRank := rankIndex + 1
		if newRank > plan.MaxRankIndex {
			newRank = plan.MaxRankIndex
		}

		income, err := plan.RankIncome(packageCode, newRank)
		if err != nil {
			return nil, err
		}

		// The unique (user, package, rank) row is the one-shot guard: only
		// the inserting transaction pays the income.
		res, err := tx.Exec(`
			INSERT OR IGNORE INTO rank_history (user_id, package_code, rank_index, income, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, userID, packageCode, newRank, income, now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert rank history: %w", err)
		}
		inserted, _ := res.RowsAffected()
		if inserted == 1 {
			refs := fmt.Sprintf("rank:%s:%d", packageCode, newRank)
			if _, err := s.wallets.CreditTx(tx, userID, income, domain.CategoryRank, refs, plan.RankNames[newRank]); err != nil {
				return nil, err
			}
			result.RankIncome = income
		}

		// Monotonic: the index never steps back even on replays.
		_, err = tx.Exec(`
			UPDATE user_ranks
			SET rank_index = MAX(rank_index, ?), income_pairs = 0, cutoff_pairs = 0, updated_at = ?
			WHERE user_id = ? AND package_code = ?
		`, newRank, now, userID, packageCode)
		if err != nil {
			return nil, fmt.Errorf("failed to advance rank: %w", err)
		}

		result.Advanced = true
		result.RankIndex = newRank
		result.IncomePairs = 0
		result.CutoffPairs = 0
		return result, nil
	}

	_, err = tx.Exec(`
		UPDATE user_ranks SET income_pairs = ?, cutoff_pairs = ?, updated_at = ?
		WHERE user_id = ? AND package_code = ?
	`, incomePairs, cutoffPairs, now, userID, packageCode)
	if err != nil {
		return nil, fmt.Errorf("failed to update pair counters: %w", err)
	}

	return result, nil
}

// GetState returns the rank state for (user, package); a missing row is the
// unranked zero state.
func (s *Service) GetState(userID, packageCode string) (*domain.RankState, error) {
	state := &domain.RankState{UserID: userID, PackageCode: packageCode, RankIndex: -1}
	err := s.db.QueryRow(`
		SELECT rank_index, income_pairs, cutoff_pairs FROM user_ranks
		WHERE user_id = ? AND package_code = ?
	`, userID, packageCode).Scan(&state.RankIndex, &state.IncomePairs, &state.CutoffPairs)
	if errors.Is(err, sql.ErrNoRows) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rank state: %w", err)
	}
	return state, nil
}

// MaxRankIndex returns the user's highest rank index across all packages.
// Fund eligibility uses this ("rank >= Ruby Star in any package").
func (s *Service) MaxRankIndex(userID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(`
		SELECT MAX(rank_index) FROM user_ranks WHERE user_id = ?
	`, userID).Scan(&max)
	if err != nil {
		return -1, fmt.Errorf("failed to get max rank: %w", err)
	}
	if !max.Valid {
		return -1, nil
	}
	return int(max.Int64), nil
}

// Recalculate rebuilds the pair counters for a user from the processed-pair
// history. Rank incomes already paid are untouched (rank_history stays the
// source of truth for one-shot credits); only the counters and the index are
// realigned.
func (s *Service) Recalculate(userID string) error {
	return database.WithTransaction(s.db, func(tx *sql.Tx) error {
		rows, err := tx.Query(`
			SELECT package_code, COUNT(*) FROM session_pairs
			WHERE user_id = ? GROUP BY package_code
		`, userID)
		if err != nil {
			return fmt.Errorf("failed to count processed pairs: %w", err)
		}

		counts := map[string]int{}
		for rows.Next() {
			var pkg string
			var n int
			if err := rows.Scan(&pkg, &n); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan pair count: %w", err)
			}
			counts[pkg] = n
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("error iterating pair counts: %w", err)
		}
		rows.Close()

		now := time.Now().Unix()
		for pkg, total := range counts {
			steps := total / plan.PairsPerRankStep
			remainder := total % plan.PairsPerRankStep

			rankIndex := steps - 1
			if rankIndex > plan.MaxRankIndex {
				rankIndex = plan.MaxRankIndex
			}
			incomePairs := remainder
			if incomePairs > plan.MaxIncomePairs {
				incomePairs = plan.MaxIncomePairs
			}
			cutoffPairs := remainder - incomePairs

			_, err := tx.Exec(`
				INSERT INTO user_ranks (user_id, package_code, rank_index, income_pairs, cutoff_pairs, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT (user_id, package_code) DO UPDATE SET
					rank_index = MAX(rank_index, excluded.rank_index),
					income_pairs = excluded.income_pairs,
					cutoff_pairs = excluded.cutoff_pairs,
					updated_at = excluded.updated_at
			`, userID, pkg, rankIndex, incomePairs, cutoffPairs, now)
			if err != nil {
				return fmt.Errorf("failed to rebuild rank state for %s/%s: %w", userID, pkg, err)
			}
		}

		s.log.Info().Str("user_id", userID).Interface("pair_counts", counts).Msg("Rank state recalculated")
		return nil
	})
}
