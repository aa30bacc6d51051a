// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for the core database (always absolute)
	Timezone string // Session window timezone (default Asia/Kolkata)
	LogLevel string
	DevMode  bool

	// Pool percents, applied at BV credit time
	CarPoolPercent     float64
	HousePoolPercent   float64
	RoyaltyPoolPercent float64

	// EPINToken gates EPIN consumption; when off, activation requires a
	// payment reference even if an EPIN code is supplied.
	EPINToken bool

	loc *time.Location
}

// Load reads configuration from environment variables.
// A .env file is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("COMP_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Timezone:           getEnv("COMP_TIMEZONE", "Asia/Kolkata"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		CarPoolPercent:     getEnvAsFloat("CAR_POOL_PERCENT", 2),
		HousePoolPercent:   getEnvAsFloat("HOUSE_POOL_PERCENT", 2),
		RoyaltyPoolPercent: getEnvAsFloat("ROYALTY_POOL_PERCENT", 2),
		EPINToken:          getEnvAsBool("EPIN_TOKEN", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration and resolves the timezone.
func (c *Config) Validate() error {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	c.loc = loc

	for name, v := range map[string]float64{
		"CAR_POOL_PERCENT":     c.CarPoolPercent,
		"HOUSE_POOL_PERCENT":   c.HousePoolPercent,
		"ROYALTY_POOL_PERCENT": c.RoyaltyPoolPercent,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %v", name, v)
		}
	}

	return nil
}

// SettingsSource reads runtime-tunable values. Implemented by the settings
// repository.
type SettingsSource interface {
	GetFloat(key string, fallback float64) (float64, error)
	GetBool(key string, fallback bool) (bool, error)
}

// UpdateFromSettings overlays the stored settings on top of the env-derived
// values. Env defaults act as fallbacks for keys that are unset. The merged
// result is re-validated.
func (c *Config) UpdateFromSettings(s SettingsSource) error {
	var err error
	if c.CarPoolPercent, err = s.GetFloat("car_pool_percent", c.CarPoolPercent); err != nil {
		return fmt.Errorf("failed to read car_pool_percent setting: %w", err)
	}
	if c.HousePoolPercent, err = s.GetFloat("house_pool_percent", c.HousePoolPercent); err != nil {
		return fmt.Errorf("failed to read house_pool_percent setting: %w", err)
	}
	if c.RoyaltyPoolPercent, err = s.GetFloat("royalty_pool_percent", c.RoyaltyPoolPercent); err != nil {
		return fmt.Errorf("failed to read royalty_pool_percent setting: %w", err)
	}
	if c.EPINToken, err = s.GetBool("epin_enabled", c.EPINToken); err != nil {
		return fmt.Errorf("failed to read epin_enabled setting: %w", err)
	}
	return c.Validate()
}

// Location returns the resolved session timezone.
// Validate (or Load) must have run first.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return time.UTC
		}
		c.loc = loc
	}
	return c.loc
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
