package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSettings struct {
	floats map[string]float64
	bools  map[string]bool
}

func (f *fakeSettings) GetFloat(key string, fallback float64) (float64, error) {
	if v, ok := f.floats[key]; ok {
		return v, nil
	}
	return fallback, nil
}

func (f *fakeSettings) GetBool(key string, fallback bool) (bool, error) {
	if v, ok := f.bools[key]; ok {
		return v, nil
	}
	return fallback, nil
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("COMP_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, 2.0, cfg.CarPoolPercent)
	assert.Equal(t, 2.0, cfg.HousePoolPercent)
	assert.Equal(t, 2.0, cfg.RoyaltyPoolPercent)
	assert.True(t, cfg.EPINToken)
	assert.NotNil(t, cfg.Location())
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("COMP_DATA_DIR", t.TempDir())
	t.Setenv("COMP_TIMEZONE", "Nowhere/Nope")

	_, err := Load()
	assert.Error(t, err)
}

func TestUpdateFromSettingsOverridesEnvValues(t *testing.T) {
	t.Setenv("COMP_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.UpdateFromSettings(&fakeSettings{
		floats: map[string]float64{"royalty_pool_percent": 3},
		bools:  map[string]bool{"epin_enabled": false},
	})
	require.NoError(t, err)

	assert.Equal(t, 3.0, cfg.RoyaltyPoolPercent)
	assert.Equal(t, 2.0, cfg.CarPoolPercent)
	assert.False(t, cfg.EPINToken)
}

func TestUpdateFromSettingsRevalidates(t *testing.T) {
	t.Setenv("COMP_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.UpdateFromSettings(&fakeSettings{
		floats: map[string]float64{"car_pool_percent": 250},
	})
	assert.Error(t, err)
}
