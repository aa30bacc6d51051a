package placement

import (
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compengine/internal/domain"
	testdb "compengine/internal/testing"
)

func newTestAllocator(t *testing.T) (*Allocator, *sql.DB, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	return NewAllocator(db, zerolog.Nop()), db, cleanup
}

func TestPlaceUserPreferredSideFirst(t *testing.T) {
	alloc, db, cleanup := newTestAllocator(t)
	defer cleanup()

	testdb.SeedUser(t, db, "root", "", "silver")
	testdb.SeedUser(t, db, "a", "root", "")

	result, err := alloc.PlaceUser("a", "root", "", domain.SideRight)
	require.NoError(t, err)
	assert.Equal(t, "root", result.PlacedUnderID)
	assert.Equal(t, domain.SideRight, result.Side)

	var rightChild string
	require.NoError(t, db.QueryRow(`SELECT right_child_id FROM users WHERE id = 'root'`).Scan(&rightChild))
	assert.Equal(t, "a", rightChild)
}

func TestPlaceUserFallsBackToOtherSide(t *testing.T) {
	alloc, db, cleanup := newTestAllocator(t)
	defer cleanup()

	testdb.SeedUser(t, db, "root", "", "silver")
	testdb.SeedPlacedUser(t, db, "a", "root", "root", "L", "silver")
	testdb.SeedUser(t, db, "b", "root", "")

	result, err := alloc.PlaceUser("b", "root", "", domain.SideLeft)
	require.NoError(t, err)
	assert.Equal(t, "root", result.PlacedUnderID)
	assert.Equal(t, domain.SideRight, result.Side)
}

func TestPlaceUserDescendsBFS(t *testing.T) {
	alloc, db, cleanup := newTestAllocator(t)
	defer cleanup()

	// Full first level: the new user must land under a child, left leg
	// first because "a" was inserted before "b".
	testdb.SeedUser(t, db, "root", "", "silver")
	testdb.SeedPlacedUser(t, db, "a", "root", "root", "L", "silver")
	testdb.SeedPlacedUser(t, db, "b", "root", "root", "R", "silver")
	testdb.SeedUser(t, db, "c", "root", "")

	result, err := alloc.PlaceUser("c", "root", "", domain.SideLeft)
	require.NoError(t, err)
	assert.Equal(t, "a", result.PlacedUnderID)
	assert.Equal(t, domain.SideLeft, result.Side)
}

func TestPlaceUserHonorsPlacementRoot(t *testing.T) {
	alloc, db, cleanup := newTestAllocator(t)
	defer cleanup()

	testdb.SeedUser(t, db, "root", "", "silver")
	testdb.SeedPlacedUser(t, db, "a", "root", "root", "L", "silver")
	testdb.SeedUser(t, db, "c", "root", "")

	// Sponsor is root but the placement root pins the search under "a".
	result, err := alloc.PlaceUser("c", "root", "a", domain.SideLeft)
	require.NoError(t, err)
	assert.Equal(t, "a", result.PlacedUnderID)
}

func TestPlaceUserRequiresRoot(t *testing.T) {
	alloc, db, cleanup := newTestAllocator(t)
	defer cleanup()

	testdb.SeedUser(t, db, "a", "", "")
	_, err := alloc.PlaceUser("a", "", "", domain.SideLeft)
	assert.ErrorIs(t, err, domain.ErrNoPlacementRoot)
}

func TestPlaceUserRejectsDoublePlacement(t *testing.T) {
	alloc, db, cleanup := newTestAllocator(t)
	defer cleanup()

	testdb.SeedUser(t, db, "root", "", "silver")
	testdb.SeedPlacedUser(t, db, "a", "root", "root", "L", "silver")

	_, err := alloc.PlaceUser("a", "root", "", domain.SideLeft)
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
}
