package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/domain"
)

func writeConfig(t *testing.T, raw string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wheelhouse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
score_bands:
  approve: 8.0
  review: 7.0
risk_limits:
  max_vega_notional_pct: 0.03
sizing:
  max_position_pct: 0.08
market_data:
  base_url: https://vendor.example.com
  timeout: 10s
pipeline:
  workers: 8
`)

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8.0, config.Bands.Approve)
	assert.Equal(t, 7.0, config.Bands.Review)
	assert.Equal(t, 0.03, config.Limits.MaxVegaNotionalPct)
	assert.Equal(t, 0.08, config.Sizing.MaxPositionPct)
	assert.Equal(t, "https://vendor.example.com", config.Market.BaseURL)
	assert.Equal(t, 10*time.Second, config.Market.Timeout)
	assert.Equal(t, 8, config.Pipeline.Workers)

	// Untouched sections keep their defaults.
	assert.Equal(t, 0.70, config.Weights.Quant)
	assert.Equal(t, 0.20, config.Limits.MaxNetDelta)
	assert.Equal(t, 15*time.Minute, config.Limits.FreshnessWindow)
}

func TestLoadRegimeOverrides(t *testing.T) {
	path := writeConfig(t, `
regime_multipliers:
  high_volatility:
    size_multiplier: 0.50
`)

	config, err := Load(path)
	require.NoError(t, err)

	hv := config.Regimes[catalyst.HighVolatility]
	assert.Equal(t, 0.50, hv.SizeMultiplier)

	// Only the named field moves; the rest of the row and every other
	// row keep their defaults.
	assert.Equal(t, 0.70, hv.RiskTightening)
	assert.Equal(t, 7, hv.MaxPositions)
	assert.Equal(t, catalyst.DefaultMultiplierTable()[catalyst.Normal], config.Regimes[catalyst.Normal])
}

func TestLoadRejectsUnknownRegime(t *testing.T) {
	path := writeConfig(t, "regime_multipliers:\n  meltdown:\n    size_multiplier: 0.5\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown regime")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"weights off unity", "score_weights:\n  quant: 0.9\n  interpretive: 0.9\n  risk: 0.1\n"},
		{"inverted bands", "score_bands:\n  approve: 6.0\n  review: 7.0\n"},
		{"zero workers", "pipeline:\n  workers: 0\n"},
		{"oversized position cap", "sizing:\n  max_position_pct: 1.5\n"},
		{"negative vega limit", "risk_limits:\n  max_vega_notional_pct: -0.01\n"},
		{"decay above one", "triggers:\n  stop_loss_decay: 1.4\n"},
		{"regime size out of range", "regime_multipliers:\n  normal:\n    size_multiplier: 0.1\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.raw)
			_, err := Load(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfigInvalid)
		})
	}
}
