package flowclip

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowclip/flowclip/runtime/store"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, cfg.Session.IdleTimeout)
	require.Equal(t, 20*time.Minute, cfg.Session.JoinWindow)
	require.InDelta(t, 0.6, cfg.Session.JoinMinConfidence, 1e-9)
	require.Equal(t, time.Second, cfg.Session.ResearchDebounce)
	require.Equal(t, 4, cfg.Model.MaxInflight)
	require.Equal(t, 3, cfg.Model.MaxRetries)
	require.Equal(t, time.Minute, cfg.Automation.RateLimit)
	require.Equal(t, 30*time.Second, cfg.Automation.RequestTimeout)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
session:
  idle_timeout: 5m
automation:
  types:
    hotel_research:
      enabled: true
      trigger_threshold: 2
      webhook_url: https://hooks.example.com/hotel
`), 0o600))
	t.Setenv("SESSION_IDLE_TIMEOUT", "15m")
	t.Setenv("MODEL_MAX_INFLIGHT", "8")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.Session.IdleTimeout)
	require.Equal(t, 8, cfg.Model.MaxInflight)
	hotel := cfg.Automation.Types["hotel_research"]
	require.True(t, hotel.Enabled)
	require.Equal(t, 2, hotel.TriggerThreshold)
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.JoinMinConfidence = 1.5
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Automation.Types = map[string]AutomationTypeConfig{
		"hotel_research": {Enabled: true, TriggerThreshold: 0},
	}
	require.Error(t, cfg.Validate())
}

func TestComplementaryTypesMapping(t *testing.T) {
	cfg := DefaultConfig()
	require.Nil(t, cfg.ComplementaryTypes())

	cfg.Session.Complementary = map[string][]string{
		"hotel_research": {"restaurant_research"},
	}
	m := cfg.ComplementaryTypes()
	require.Equal(t, []store.SessionType{store.TypeRestaurant}, m[store.TypeHotel])
}
