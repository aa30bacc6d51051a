// Package distribution fans BV events out into level income, the royalty
// pool, the level-star bonus and franchise referrer income. Pair income is
// PV-derived and never reaches this module.
package distribution

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"compengine/internal/database"
	"compengine/internal/domain"
	"compengine/internal/events"
	"compengine/internal/modules/users"
	"compengine/internal/modules/wallet"
	"compengine/internal/plan"
)

// companyBVAccount is the BV ledger account royalty consumptions book
// against. It is not a real user.
const companyBVAccount = "company"

// BVConsumer is the slice of the BV repository the distributor needs.
type BVConsumer interface {
	ConsumeBVTx(tx *sql.Tx, userID string, amount float64, source, ref string) error
}

// Service distributes BV-derived income
type Service struct {
	db                 *sql.DB
	royaltyPoolPercent float64
	users              *users.Repository
	wallets            *wallet.Repository
	bv                 BVConsumer
	log                zerolog.Logger
}

// NewService creates a new distribution service
func NewService(db *sql.DB, royaltyPoolPercent float64, userRepo *users.Repository,
	wallets *wallet.Repository, bvRepo BVConsumer, log zerolog.Logger) *Service {
	return &Service{
		db:                 db,
		royaltyPoolPercent: royaltyPoolPercent,
		users:              userRepo,
		wallets:            wallets,
		bv:                 bvRepo,
		log:                log.With().Str("service", "distribution").Logger(),
	}
}

// Register subscribes the distributor to BV credit events.
func (s *Service) Register(bus *events.Bus) {
	bus.Subscribe(events.BVCredited, s.handleBVCredited)
}

func (s *Service) handleBVCredited(event *events.Event) {
	data, ok := event.Data.(*events.BVCreditedData)
	if !ok {
		return
	}

	if _, err := s.PayLevelIncome(data.UserID, data.Amount); err != nil {
		s.log.Error().Err(err).Str("user_id", data.UserID).Msg("Level income fan-out failed")
	}

	if data.ReferrerID != "" {
		if err := s.PayFranchiseReferrer(data.ReferrerID, data.Amount, data.FranchiseRef); err != nil {
			s.log.Error().Err(err).Str("referrer_id", data.ReferrerID).Msg("Franchise referrer income failed")
		}
	}
}

// PayLevelIncome walks the originating user's sponsor chain and credits 0.5%
// of the BV amount to each of the first ten sponsors. A failed credit skips
// that sponsor and the walk continues; each credit is its own transaction.
// Returns the total paid.
func (s *Service) PayLevelIncome(originUserID string, bvAmount float64) (float64, error) {
	if bvAmount <= 0 {
		return 0, fmt.Errorf("%w: BV amount must be positive", domain.ErrValidation)
	}

	chain, err := s.users.SponsorChain(originUserID, plan.LevelCount)
	if err != nil {
		return 0, err
	}

	share := bvAmount * plan.LevelIncomeRate
	var total float64
	for level, sponsorID := range chain {
		refs := fmt.Sprintf("level:%d:%s", level+1, originUserID)
		note := fmt.Sprintf("level %d income", level+1)
		if _, err := s.wallets.Credit(sponsorID, share, domain.CategoryLevel, refs, note); err != nil {
			s.log.Error().Err(err).
				Str("sponsor_id", sponsorID).
				Int("level", level+1).
				Msg("Level income credit failed")
			continue
		}
		total += share
	}

	if total > 0 {
		s.log.Debug().
			Str("origin", originUserID).
			Int("levels", len(chain)).
			Float64("total", total).
			Msg("Level income paid")
	}

	return total, nil
}

// RoyaltyShare is one user's slice of a royalty distribution.
type RoyaltyShare struct {
	UserID  string
	Rate    float64
	Desired float64
	Paid    float64
}

// RoyaltyResult summarizes one DistributeRoyalty call.
type RoyaltyResult struct {
	Pool         float64
	TotalDesired float64
	TotalPaid    float64
	Shares       []RoyaltyShare
}

// DistributeRoyalty splits the royalty pool of a CTO BV cycle across the
// eligible silver holders. Users below the 35 INR star cap earn the cap-phase
// 3%, everyone else their silver rank rate; when the pool cannot cover the
// desired total, all shares scale down proportionally. The paid total is
// consumed from CTO BV.
func (s *Service) DistributeRoyalty(ctoBV float64) (*RoyaltyResult, error) {
	if ctoBV <= 0 {
		return nil, fmt.Errorf("%w: CTO BV must be positive", domain.ErrValidation)
	}

	pool := ctoBV * s.royaltyPoolPercent / 100
	result := &RoyaltyResult{Pool: pool}
	if pool <= 0 {
		return result, nil
	}

	rows, err := s.db.Query(`
		SELECT u.id, u.total_royalty_received, COALESCE(r.rank_index, -1)
		FROM users u
		LEFT JOIN user_ranks r ON r.user_id = u.id AND r.package_code = ?
		WHERE u.active_package != ''
		ORDER BY u.total_royalty_received ASC, u.created_at ASC, u.id ASC
	`, plan.PackageSilver)
	if err != nil {
		return nil, fmt.Errorf("failed to list royalty candidates: %w", err)
	}

	for rows.Next() {
		var share RoyaltyShare
		var totalReceived float64
		var rankIndex int
		if err := rows.Scan(&share.UserID, &totalReceived, &rankIndex); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan royalty candidate: %w", err)
		}

		share.Rate = plan.RoyaltyRate(rankIndex, totalReceived)
		if share.Rate <= 0 {
			continue
		}
		share.Desired = ctoBV * share.Rate
		result.Shares = append(result.Shares, share)
		result.TotalDesired += share.Desired
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating royalty candidates: %w", err)
	}
	rows.Close()

	if len(result.Shares) == 0 {
		return result, nil
	}

	scale := 1.0
	if result.TotalDesired > pool {
		scale = pool / result.TotalDesired
	}

	err = database.WithTransaction(s.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		for i := range result.Shares {
			share := &result.Shares[i]
			share.Paid = share.Desired * scale

			refs := fmt.Sprintf("royalty:cto:%v", ctoBV)
			if _, err := s.wallets.CreditTx(tx, share.UserID, share.Paid, domain.CategoryRoyalty, refs, "royalty share"); err != nil {
				return err
			}

			_, err := tx.Exec(`
				INSERT INTO royalty_log (user_id, cto_bv, rate, desired, paid, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, share.UserID, ctoBV, share.Rate, share.Desired, share.Paid, now)
			if err != nil {
				return fmt.Errorf("failed to append royalty log: %w", err)
			}

			if err := s.users.AddRoyaltyTx(tx, share.UserID, share.Paid); err != nil {
				return err
			}

			result.TotalPaid += share.Paid
		}

		return s.bv.ConsumeBVTx(tx, companyBVAccount, result.TotalPaid, "royalty", fmt.Sprintf("cto:%v", ctoBV))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Float64("pool", pool).
		Float64("desired", result.TotalDesired).
		Float64("paid", result.TotalPaid).
		Int("users", len(result.Shares)).
		Msg("Royalty distributed")

	return result, nil
}

// LevelStarResult reports which level-star tiers fired for a user.
type LevelStarResult struct {
	Counts [3]int
	Paid   [3]float64
	Total  float64
}

// LevelStarBonus checks a user's direct-downline counts at depths 1..3
// against the tier thresholds and credits each qualifying percentage of the
// cycle CTO BV. The tiers are independent.
func (s *Service) LevelStarBonus(userID string, cycleCTOBV float64) (*LevelStarResult, error) {
	if cycleCTOBV <= 0 {
		return nil, fmt.Errorf("%w: cycle CTO BV must be positive", domain.ErrValidation)
	}

	result := &LevelStarResult{}
	for i, tier := range plan.LevelStarTiers {
		count, err := s.users.DownlineCount(userID, tier.Depth)
		if err != nil {
			return nil, err
		}
		result.Counts[i] = count
		if count < tier.Threshold {
			continue
		}

		amount := cycleCTOBV * tier.Rate
		refs := fmt.Sprintf("levelstar:%d", tier.Depth)
		note := fmt.Sprintf("level star tier %d", tier.Depth)
		if _, err := s.wallets.Credit(userID, amount, domain.CategoryLevel, refs, note); err != nil {
			return nil, err
		}
		result.Paid[i] = amount
		result.Total += amount
	}

	if result.Total > 0 {
		s.log.Info().Str("user_id", userID).Float64("total", result.Total).Msg("Level star bonus paid")
	}

	return result, nil
}

// PayFranchiseReferrer credits the 1% referrer income of a franchise-linked
// BV event.
func (s *Service) PayFranchiseReferrer(referrerID string, bvAmount float64, saleRef string) error {
	amount := bvAmount * plan.FranchiseReferrerRate
	if amount <= 0 {
		return nil
	}
	refs := fmt.Sprintf("franchise:%s", saleRef)
	_, err := s.wallets.Credit(referrerID, amount, domain.CategoryFranchiseReferrer, refs, "franchise referrer income")
	return err
}
