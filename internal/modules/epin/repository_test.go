package epin

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compengine/internal/database"
	"compengine/internal/domain"
	"compengine/internal/plan"
	testdb "compengine/internal/testing"
)

func newTestRepo(t *testing.T) (*Repository, *sql.DB, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	return NewRepository(db, zerolog.Nop()), db, cleanup
}

func TestGenerateBatch(t *testing.T) {
	repo, db, cleanup := newTestRepo(t)
	defer cleanup()

	codes, err := repo.Generate(25, plan.PackageSilver, "admin")
	require.NoError(t, err)
	require.Len(t, codes, 25)

	seen := map[string]bool{}
	for _, code := range codes {
		assert.Len(t, code, codeLength)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}

	assert.Equal(t, 25, testdb.CountRows(t, db, "epins", "package_code = 'silver' AND is_used = 0"))
}

func TestGenerateRejectsNonPositiveQty(t *testing.T) {
	repo, _, cleanup := newTestRepo(t)
	defer cleanup()

	_, err := repo.Generate(0, plan.PackageSilver, "admin")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTransferChain(t *testing.T) {
	repo, _, cleanup := newTestRepo(t)
	defer cleanup()

	codes, err := repo.Generate(1, plan.PackageGold, "admin")
	require.NoError(t, err)
	code := codes[0]

	// Fresh pins are unassigned and transfer from the empty owner.
	require.NoError(t, repo.Transfer(code, "", "u1"))
	require.NoError(t, repo.Transfer(code, "u1", "u2"))
	require.NoError(t, repo.Transfer(code, "u2", "u3"))

	pin, err := repo.GetByCode(code)
	require.NoError(t, err)
	assert.Equal(t, "u3", pin.OwnerUserID)
	assert.Equal(t, 3, pin.TransferCount)
}

func TestTransferFromWrongOwner(t *testing.T) {
	repo, _, cleanup := newTestRepo(t)
	defer cleanup()

	codes, _ := repo.Generate(1, plan.PackageGold, "admin")
	require.NoError(t, repo.Transfer(codes[0], "", "u1"))

	err := repo.Transfer(codes[0], "u9", "u2")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestConsumeIsOneShot(t *testing.T) {
	repo, db, cleanup := newTestRepo(t)
	defer cleanup()

	codes, _ := repo.Generate(1, plan.PackageRuby, "admin")
	code := codes[0]
	require.NoError(t, repo.Transfer(code, "", "u1"))

	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		pin, err := repo.ConsumeTx(tx, code, "u1")
		if err != nil {
			return err
		}
		assert.True(t, pin.IsUsed)
		assert.Equal(t, "u1", pin.UsedBy)
		return nil
	})
	require.NoError(t, err)

	// Used is terminal: consumption, transfer and re-consumption all fail.
	err = database.WithTransaction(db, func(tx *sql.Tx) error {
		_, err := repo.ConsumeTx(tx, code, "u1")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	err = repo.Transfer(code, "u1", "u2")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
}

func TestConsumeRejectsForeignPin(t *testing.T) {
	repo, db, cleanup := newTestRepo(t)
	defer cleanup()

	codes, _ := repo.Generate(1, plan.PackageSilver, "admin")
	require.NoError(t, repo.Transfer(codes[0], "", "owner"))

	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		_, err := repo.ConsumeTx(tx, codes[0], "intruder")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestConsumeUnknownPin(t *testing.T) {
	repo, db, cleanup := newTestRepo(t)
	defer cleanup()

	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		_, err := repo.ConsumeTx(tx, "NOPE", "u1")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
