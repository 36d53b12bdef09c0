package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitforge/membership/pkg/config"
)

type testConfig struct {
	Host     string        `env:"LOADER_TEST_HOST" envDefault:"localhost"`
	Port     int           `env:"LOADER_TEST_PORT" envDefault:"8080"`
	Interval time.Duration `env:"LOADER_TEST_INTERVAL" envDefault:"1m"`
}

type requiredConfig struct {
	Secret string `env:"LOADER_TEST_SECRET,required"`
}

func TestLoad(t *testing.T) {
	t.Run("defaults apply", func(t *testing.T) {
		var cfg testConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, time.Minute, cfg.Interval)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("LOADER_TEST_HOST", "db.internal")
		t.Setenv("LOADER_TEST_PORT", "9000")
		t.Setenv("LOADER_TEST_INTERVAL", "30s")

		var cfg testConfig
		require.NoError(t, config.Load(&cfg))
		assert.Equal(t, "db.internal", cfg.Host)
		assert.Equal(t, 9000, cfg.Port)
		assert.Equal(t, 30*time.Second, cfg.Interval)
	})

	t.Run("missing required variable", func(t *testing.T) {
		var cfg requiredConfig
		err := config.Load(&cfg)
		assert.ErrorIs(t, err, config.ErrParsingConfig)
	})

	t.Run("nil pointer", func(t *testing.T) {
		var cfg *testConfig
		assert.ErrorIs(t, config.Load(cfg), config.ErrNilPointer)
	})
}

func TestMustLoad(t *testing.T) {
	t.Run("panics on missing required variable", func(t *testing.T) {
		assert.Panics(t, func() {
			var cfg requiredConfig
			config.MustLoad(&cfg)
		})
	})

	t.Run("returns on success", func(t *testing.T) {
		assert.NotPanics(t, func() {
			var cfg testConfig
			config.MustLoad(&cfg)
		})
	})
}
