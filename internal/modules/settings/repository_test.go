package settings

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testdb "compengine/internal/testing"
)

func newTestRepo(t *testing.T) (*Repository, func()) {
	t.Helper()
	db, cleanup := testdb.NewTestDB(t)
	return NewRepository(db, zerolog.Nop()), cleanup
}

func TestGetFallsBackWhenUnset(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	value, err := repo.Get("missing", "default")
	require.NoError(t, err)
	assert.Equal(t, "default", value)
}

func TestSetUpsertsAndOverrides(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	require.NoError(t, repo.Set("royalty_pool_percent", "3"))
	require.NoError(t, repo.Set("royalty_pool_percent", "4"))

	value, err := repo.GetFloat("royalty_pool_percent", 3)
	require.NoError(t, err)
	assert.Equal(t, 4.0, value)

	require.NoError(t, repo.Delete("royalty_pool_percent"))
	value, err = repo.GetFloat("royalty_pool_percent", 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, value)
}

func TestGetFloatIgnoresGarbage(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	require.NoError(t, repo.Set("car_pool_percent", "not-a-number"))
	value, err := repo.GetFloat("car_pool_percent", 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, value)
}

func TestGetBool(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	require.NoError(t, repo.Set("epin_enabled", "true"))
	value, err := repo.GetBool("epin_enabled", false)
	require.NoError(t, err)
	assert.True(t, value)

	value, err = repo.GetBool("unset", true)
	require.NoError(t, err)
	assert.True(t, value)
}

func TestAll(t *testing.T) {
	repo, cleanup := newTestRepo(t)
	defer cleanup()

	require.NoError(t, repo.Set("a", "1"))
	require.NoError(t, repo.Set("b", "2"))

	all, err := repo.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, all)
}
