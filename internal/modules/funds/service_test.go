package funds

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compengine/internal/domain"
	"compengine/internal/modules/wallet"
	"compengine/internal/plan"
	testdb "compengine/internal/testing"
)

func newTestService(t *testing.T) (*Service, *sql.DB, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	return NewService(db, wallet.NewRepository(db, zerolog.Nop()), zerolog.Nop()), db, cleanup
}

func setPool(t *testing.T, db *sql.DB, column string, amount float64) {
	t.Helper()
	testdb.MustExec(t, db, `UPDATE fund_pool SET `+column+` = ? WHERE id = 1`, amount)
}

func TestDistributeCarFundSplitsEqually(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	setPool(t, db, "car_pool_monthly", 1000)
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("u%d", i)
		testdb.SeedUser(t, db, id, "", plan.PackageSilver)
		testdb.SeedRank(t, db, id, plan.PackageSilver, plan.RankRubyStar, 0, 0)
	}
	// Below the rank floor: not eligible.
	testdb.SeedUser(t, db, "low", "", plan.PackageSilver)
	testdb.SeedRank(t, db, "low", plan.PackageSilver, plan.RankGoldStar, 0, 0)

	result, err := svc.DistributeCarFund("2026-07")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, result.Pool)
	assert.Len(t, result.Eligible, 5)
	assert.Equal(t, 200.0, result.PerUser)
	assert.InDelta(t, 1000.0, result.TotalPaid, 1e-9)

	for i := 1; i <= 5; i++ {
		assert.Equal(t, 200.0, testdb.WalletBalance(t, db, fmt.Sprintf("u%d", i)))
	}
	assert.Equal(t, 0.0, testdb.WalletBalance(t, db, "low"))

	pool, err := svc.GetPool()
	require.NoError(t, err)
	assert.Equal(t, 0.0, pool.CarPoolMonthly)

	kinds, amounts, err := svc.History(5)
	require.NoError(t, err)
	require.Len(t, kinds, 1)
	assert.Equal(t, "POOL_RESET", kinds[0])
	assert.Equal(t, 1000.0, amounts[0])
}

func TestDistributeHouseFundUsesDiamondFloor(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	setPool(t, db, "house_pool_monthly", 600)
	testdb.SeedUser(t, db, "diamond", "", plan.PackageSilver)
	testdb.SeedRank(t, db, "diamond", plan.PackageSilver, plan.RankDiamondStar, 0, 0)
	// Ruby Star qualifies for the car fund but not the house fund.
	testdb.SeedUser(t, db, "ruby", "", plan.PackageSilver)
	testdb.SeedRank(t, db, "ruby", plan.PackageSilver, plan.RankRubyStar, 0, 0)

	result, err := svc.DistributeHouseFund("2026-07")
	require.NoError(t, err)
	assert.Equal(t, []string{"diamond"}, result.Eligible)
	assert.Equal(t, 600.0, testdb.WalletBalance(t, db, "diamond"))
	assert.Equal(t, 0.0, testdb.WalletBalance(t, db, "ruby"))
}

func TestDistributeWithNobodyEligibleKeepsPool(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	setPool(t, db, "car_pool_monthly", 500)

	result, err := svc.DistributeCarFund("2026-07")
	require.NoError(t, err)
	assert.Empty(t, result.Eligible)
	assert.Equal(t, 0.0, result.TotalPaid)

	pool, err := svc.GetPool()
	require.NoError(t, err)
	assert.Equal(t, 500.0, pool.CarPoolMonthly)
}

func TestEligibilityUsesBestRankAcrossPackages(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	setPool(t, db, "car_pool_monthly", 100)
	// Low silver rank but Ruby Star in gold: the best rank counts.
	testdb.SeedUser(t, db, "u1", "", plan.PackageGold)
	testdb.SeedRank(t, db, "u1", plan.PackageSilver, plan.RankStar, 0, 0)
	testdb.SeedRank(t, db, "u1", plan.PackageGold, plan.RankRubyStar, 0, 0)

	result, err := svc.DistributeCarFund("2026-07")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, result.Eligible)
	assert.Equal(t, 100.0, testdb.WalletBalance(t, db, "u1"))
}

func TestAllocateTravelFundSplitsSixtyForty(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	require.NoError(t, svc.AddTravelFund(1200))

	allocations, err := svc.AllocateTravelFund(2026, 1000)
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	assert.Equal(t, "national", allocations[0].Scope)
	assert.InDelta(t, 600.0, allocations[0].Amount, 1e-9)
	assert.Equal(t, plan.TravelNationalMinRank, allocations[0].MinRankIndex)

	assert.Equal(t, "international", allocations[1].Scope)
	assert.InDelta(t, 400.0, allocations[1].Amount, 1e-9)
	assert.Equal(t, plan.TravelInternationalMinRank, allocations[1].MinRankIndex)

	pool, err := svc.GetPool()
	require.NoError(t, err)
	assert.InDelta(t, 200.0, pool.TravelFund, 1e-9)

	assert.Equal(t, 2, testdb.CountRows(t, db, "travel_allocations", "year = 2026"))
	assert.Equal(t, 1, testdb.CountRows(t, db, "fund_pool_history", "kind = 'TRAVEL_ALLOCATION'"))
}

func TestAllocateTravelFundRejectsOverdraw(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	require.NoError(t, svc.AddTravelFund(100))

	_, err := svc.AllocateTravelFund(2026, 500)
	assert.ErrorIs(t, err, domain.ErrInsufficientPool)

	// Nothing is recorded and the fund is untouched.
	assert.Equal(t, 0, testdb.CountRows(t, db, "travel_allocations", "year = 2026"))
	pool, err := svc.GetPool()
	require.NoError(t, err)
	assert.Equal(t, 100.0, pool.TravelFund)
}

func TestAddTravelFundRejectsNonPositive(t *testing.T) {
	svc, _, cleanup := newTestService(t)
	defer cleanup()

	err := svc.AddTravelFund(0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
