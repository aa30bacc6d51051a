package bv

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compengine/internal/domain"
	testdb "compengine/internal/testing"
)

func newTestRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	return NewRepository(db, 2, 2, zerolog.Nop()), cleanup
}

func TestCreditBVFeedsCTOAndPools(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	require.NoError(t, repo.CreditBV("u1", 155, "activation", "epin:1"))
	require.NoError(t, repo.CreditBV("u2", 35, "activation", "epin:2"))

	total, err := repo.CTOTotal()
	require.NoError(t, err)
	assert.Equal(t, 190.0, total)

	sum, err := repo.LedgerSum()
	require.NoError(t, err)
	assert.Equal(t, 190.0, sum)

	userTotal, err := repo.UserBVTotal("u1")
	require.NoError(t, err)
	assert.Equal(t, 155.0, userTotal)
}

func TestCreditBVAllocatesPoolPercents(t *testing.T) {
	db, cleanup := testdb.NewTestDB(t)
	defer cleanup()
	repo := NewRepository(db, 2, 2, zerolog.Nop())

	require.NoError(t, repo.CreditBV("u1", 1000, "franchise", "sale:1"))

	var car, house float64
	require.NoError(t, db.QueryRow(`
		SELECT car_pool_monthly, house_pool_monthly FROM fund_pool WHERE id = 1
	`).Scan(&car, &house))
	assert.Equal(t, 20.0, car)
	assert.Equal(t, 20.0, house)
}

func TestConsumeBVClampsCTOAtZero(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	require.NoError(t, repo.CreditBV("u1", 100, "activation", ""))
	require.NoError(t, repo.ConsumeBV("company", 150, "royalty", "cto:100"))

	total, err := repo.CTOTotal()
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)

	// The ledger keeps the full signed history even when the aggregate
	// clamps.
	sum, err := repo.LedgerSum()
	require.NoError(t, err)
	assert.Equal(t, -50.0, sum)
}

func TestRejectsNonPositiveAmounts(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	assert.ErrorIs(t, repo.CreditBV("u1", 0, "activation", ""), domain.ErrValidation)
	assert.ErrorIs(t, repo.ConsumeBV("u1", -5, "royalty", ""), domain.ErrValidation)
}
