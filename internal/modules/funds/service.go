// Package funds implements the BV-derived pools: the monthly car and house
// distributions and the yearly travel allocation. The pool accumulators are
// filled at BV credit time; this module only drains them.
package funds

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

// Pool history kinds.
const (
	historyPoolReset        = "POOL_RESET"
	historyTravelAllocation = "TRAVEL_ALLOCATION"
)

// Service drains the fund pools
type Service struct {
	db      *sql.DB
	wallets *wallet.Repository
	log     zerolog.Logger
}

// NewService creates a new fund service
func NewService(db *sql.DB, wallets *wallet.Repository, log zerolog.Logger) *Service {
	return &Service{
		db:      db,
		wallets: wallets,
		log:     log.With().Str("service", "funds").Logger(),
	}
}

// GetPool returns the current pool snapshot.
func (s *Service) GetPool() (*domain.FundPool, error) {
	var pool domain.FundPool
	err := s.db.QueryRow(`
		SELECT total_cto_bv, car_pool_monthly, house_pool_monthly, travel_fund
		FROM fund_pool WHERE id = 1
	`).Scan(&pool.TotalCTOBV, &pool.CarPoolMonthly, &pool.HousePoolMonthly, &pool.TravelFund)
	if err != nil {
		return nil, fmt.Errorf("failed to read fund pool: %w", err)
	}
	return &pool, nil
}

// AddTravelFund tops up the travel accumulator. The yearly allocation drains
// it.
func (s *Service) AddTravelFund(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: travel fund amount must be positive", domain.ErrValidation)
	}
	_, err := s.db.Exec(`
		UPDATE fund_pool SET travel_fund = travel_fund + ?, updated_at = ? WHERE id = 1
	`, amount, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to add travel fund: %w", err)
	}
	return nil
}

// DistributionResult summarizes one monthly pool distribution.
type DistributionResult struct {
	Pool      float64
	Eligible  []string
	PerUser   float64
	TotalPaid float64
}

// DistributeCarFund splits the monthly car pool equally across users ranked
// Ruby Star or above in any package, then resets the accumulator.
func (s *Service) DistributeCarFund(month string) (*DistributionResult, error) {
	return s.distributeMonthly(month, "car_pool_monthly", plan.CarFundMinRank, domain.CategoryFundCar)
}

// DistributeHouseFund splits the monthly house pool across users ranked
// Diamond Star or above.
func (s *Service) DistributeHouseFund(month string) (*DistributionResult, error) {
	return s.distributeMonthly(month, "house_pool_monthly", plan.HouseFundMinRank, domain.CategoryFundHouse)
}

func (s *Service) distributeMonthly(month, column string, minRank int, category domain.LedgerCategory) (*DistributionResult, error) {
	eligible, err := s.eligibleUsers(minRank)
	if err != nil {
		return nil, err
	}

	result := &DistributionResult{Eligible: eligible}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		err := tx.QueryRow(`SELECT ` + column + ` FROM fund_pool WHERE id = 1`).Scan(&result.Pool)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: fund pool row missing", domain.ErrLedgerInvariant)
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", column, err)
		}

		if result.Pool <= 0 || len(eligible) == 0 {
			return nil
		}

		result.PerUser = result.Pool / float64(len(eligible))
		for _, userID := range eligible {
			refs := fmt.Sprintf("%s:%s", category, month)
			if _, err := s.wallets.CreditTx(tx, userID, result.PerUser, category, refs, "monthly fund share"); err != nil {
				return err
			}
			result.TotalPaid += result.PerUser
		}

		now := time.Now().Unix()
		_, err = tx.Exec(`UPDATE fund_pool SET `+column+` = 0, updated_at = ? WHERE id = 1`, now)
		if err != nil {
			return fmt.Errorf("failed to reset %s: %w", column, err)
		}

		_, err = tx.Exec(`
			INSERT INTO fund_pool_history (kind, amount, note, created_at)
			VALUES (?, ?, ?, ?)
		`, historyPoolReset, result.Pool, fmt.Sprintf("%s %s", category, month), now)
		if err != nil {
			return fmt.Errorf("failed to append pool history: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("category", string(category)).
		Str("month", month).
		Float64("pool", result.Pool).
		Int("eligible", len(eligible)).
		Float64("per_user", result.PerUser).
		Msg("Monthly fund distributed")

	return result, nil
}

// eligibleUsers lists users whose best rank in any package meets the minimum.
func (s *Service) eligibleUsers(minRank int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT user_id FROM user_ranks
		GROUP BY user_id
		HAVING MAX(rank_index) >= ?
		ORDER BY MIN(updated_at), user_id
	`, minRank)
	if err != nil {
		return nil, fmt.Errorf("failed to list fund-eligible users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan eligible user: %w", err)
		}
		users = append(users, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating eligible users: %w", err)
	}

	return users, nil
}

// AllocateTravelFund splits a yearly travel total into national and
// international allocation records. Winner selection happens outside the
// engine; the allocations only fix the buckets and their rank floors.
func (s *Service) AllocateTravelFund(year int, total float64) ([]*domain.TravelAllocation, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: travel fund total must be positive", domain.ErrValidation)
	}

	allocations := []*domain.TravelAllocation{
		{Year: year, Scope: "national", Amount: total * plan.TravelNationalShare, MinRankIndex: plan.TravelNationalMinRank},
		{Year: year, Scope: "international", Amount: total * plan.TravelInternationalShare, MinRankIndex: plan.TravelInternationalMinRank},
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()

		var fund float64
		if err := tx.QueryRow(`SELECT travel_fund FROM fund_pool WHERE id = 1`).Scan(&fund); err != nil {
			return fmt.Errorf("failed to read travel fund: %w", err)
		}
		if fund < total {
			return fmt.Errorf("%w: travel fund %v cannot cover allocation %v", domain.ErrInsufficientPool, fund, total)
		}

		for _, alloc := range allocations {
			res, err := tx.Exec(`
				INSERT INTO travel_allocations (year, scope, amount, min_rank_index, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, alloc.Year, alloc.Scope, alloc.Amount, alloc.MinRankIndex, now)
			if err != nil {
				return fmt.Errorf("failed to record travel allocation: %w", err)
			}
			alloc.ID, _ = res.LastInsertId()
			alloc.CreatedAt = time.Unix(now, 0).UTC()
		}

		_, err := tx.Exec(`
			UPDATE fund_pool SET travel_fund = travel_fund - ?, updated_at = ? WHERE id = 1
		`, total, now)
		if err != nil {
			return fmt.Errorf("failed to drain travel fund: %w", err)
		}

		_, err = tx.Exec(`
			INSERT INTO fund_pool_history (kind, amount, note, created_at)
			VALUES (?, ?, ?, ?)
		`, historyTravelAllocation, total, fmt.Sprintf("travel %d", year), now)
		if err != nil {
			return fmt.Errorf("failed to append pool history: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("year", year).Float64("total", total).Msg("Travel fund allocated")
	return allocations, nil
}

// History returns the pool history rows, newest first.
func (s *Service) History(limit int) ([]string, []float64, error) {
	rows, err := s.db.Query(`
		SELECT kind, amount FROM fund_pool_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read pool history: %w", err)
	}
	defer rows.Close()

	var kinds []string
	var amounts []float64
	for rows.Next() {
		var kind string
		var amount float64
		if err := rows.Scan(&kind, &amount); err != nil {
			return nil, nil, fmt.Errorf("failed to scan pool history: %w", err)
		}
		kinds = append(kinds, kind)
		amounts = append(amounts, amount)
	}

	return kinds, amounts, rows.Err()
}
