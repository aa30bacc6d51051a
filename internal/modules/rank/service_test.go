package rank

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compengine/internal/database"
	"compengine/internal/modules/wallet"
	"compengine/internal/plan"
	testdb "compengine/internal/testing"
)

func newTestService(t *testing.T) (*Service, *sql.DB, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	wallets := wallet.NewRepository(db, zerolog.Nop())
	return NewService(db, wallets, zerolog.Nop()), db, cleanup
}

func payPairs(t *testing.T, svc *Service, db *sql.DB, userID, pkg string, n int) *StepResult {
	t.Helper()
	var last *StepResult
	for i := 0; i < n; i++ {
		err := database.WithTransaction(db, func(tx *sql.Tx) error {
			var err error
			last, err = svc.OnPairPaidTx(tx, userID, pkg)
			return err
		})
		require.NoError(t, err)
	}
	return last
}

func TestIncomePairsFillBeforeCutoff(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	payPairs(t, svc, db, "u1", plan.PackageSilver, 4)
	state, err := svc.GetState("u1", plan.PackageSilver)
	require.NoError(t, err)
	assert.Equal(t, 4, state.IncomePairs)
	assert.Equal(t, 0, state.CutoffPairs)

	payPairs(t, svc, db, "u1", plan.PackageSilver, 3)
	state, err = svc.GetState("u1", plan.PackageSilver)
	require.NoError(t, err)
	assert.Equal(t, 4, state.IncomePairs)
	assert.Equal(t, 3, state.CutoffPairs)
	assert.Equal(t, -1, state.RankIndex)
}

func TestEighthPairAdvancesRankAndPaysOnce(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	step := payPairs(t, svc, db, "u1", plan.PackageSilver, 8)
	assert.True(t, step.Advanced)
	assert.Equal(t, plan.RankStar, step.RankIndex)
	assert.Equal(t, 10.0, step.RankIncome)

	state, err := svc.GetState("u1", plan.PackageSilver)
	require.NoError(t, err)
	assert.Equal(t, plan.RankStar, state.RankIndex)
	assert.Equal(t, 0, state.IncomePairs)
	assert.Equal(t, 0, state.CutoffPairs)

	assert.Equal(t, 10.0, testdb.WalletBalance(t, db, "u1"))
	assert.Equal(t, 1, testdb.CountRows(t, db, "rank_history", "user_id = 'u1'"))

	// Second cycle reaches Silver Star and pays its income.
	step = payPairs(t, svc, db, "u1", plan.PackageSilver, 8)
	assert.True(t, step.Advanced)
	assert.Equal(t, plan.RankSilverStar, step.RankIndex)
	assert.Equal(t, 20.0, step.RankIncome)
	assert.Equal(t, 30.0, testdb.WalletBalance(t, db, "u1"))
}

func TestRankIncomeOneShotOnReplay(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	payPairs(t, svc, db, "u1", plan.PackageSilver, 8)
	balance := testdb.WalletBalance(t, db, "u1")

	// Force the counters back as if a replayed history re-ran the step.
	testdb.MustExec(t, db, `
		UPDATE user_ranks SET rank_index = -1, income_pairs = 4, cutoff_pairs = 3
		WHERE user_id = 'u1' AND package_code = 'silver'
	`)

	step := payPairs(t, svc, db, "u1", plan.PackageSilver, 1)
	assert.True(t, step.Advanced)
	assert.Equal(t, 0.0, step.RankIncome)
	assert.Equal(t, balance, testdb.WalletBalance(t, db, "u1"))
	assert.Equal(t, 1, testdb.CountRows(t, db, "rank_history", "user_id = 'u1'"))
}

func TestRankIsMonotonic(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	testdb.SeedRank(t, db, "u1", plan.PackageSilver, 3, 4, 3)

	step := payPairs(t, svc, db, "u1", plan.PackageSilver, 1)
	assert.Equal(t, 4, step.RankIndex)

	// A replay that would compute a lower rank never decreases the stored
	// index.
	testdb.MustExec(t, db, `
		UPDATE user_ranks SET income_pairs = 4, cutoff_pairs = 3
		WHERE user_id = 'u1' AND package_code = 'silver'
	`)
	testdb.MustExec(t, db, `DELETE FROM rank_history WHERE user_id = 'u1'`)
	payPairs(t, svc, db, "u1", plan.PackageSilver, 1)

	state, err := svc.GetState("u1", plan.PackageSilver)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, state.RankIndex, 4)
}

func TestRankClampsAtCompanyStar(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	testdb.SeedRank(t, db, "u1", plan.PackageSilver, plan.MaxRankIndex, 4, 3)

	step := payPairs(t, svc, db, "u1", plan.PackageSilver, 1)
	assert.Equal(t, plan.MaxRankIndex, step.RankIndex)
}

func TestMaxRankIndexAcrossPackages(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	max, err := svc.MaxRankIndex("u1")
	require.NoError(t, err)
	assert.Equal(t, -1, max)

	testdb.SeedRank(t, db, "u1", plan.PackageSilver, 2, 0, 0)
	testdb.SeedRank(t, db, "u1", plan.PackageGold, 5, 0, 0)

	max, err = svc.MaxRankIndex("u1")
	require.NoError(t, err)
	assert.Equal(t, 5, max)
}

func TestRecalculateRebuildsCounters(t *testing.T) {
	svc, db, cleanup := newTestService(t)
	defer cleanup()

	testdb.MustExec(t, db, `
		INSERT INTO session_runs (id, date_key, session_index, started_at) VALUES ('run1', '2026-01-05', 1, 0)
	`)
	for i := 0; i < 11; i++ {
		testdb.MustExec(t, db, `
			INSERT INTO session_pairs (session_run_id, user_id, package_code, left_entry_id, right_entry_id, amount, credited_at)
			VALUES ('run1', 'u1', 'silver', ?, ?, 10, ?)
		`, i*2+1, i*2+2, i)
	}

	require.NoError(t, svc.Recalculate("u1"))

	state, err := svc.GetState("u1", plan.PackageSilver)
	require.NoError(t, err)
	assert.Equal(t, 0, state.RankIndex) // 11 pairs = one full step
	assert.Equal(t, 3, state.IncomePairs)
	assert.Equal(t, 0, state.CutoffPairs)
}
