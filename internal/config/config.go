package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wheelhouse/wheelhouse/internal/app"
	"github.com/wheelhouse/wheelhouse/internal/catalyst"
	"github.com/wheelhouse/wheelhouse/internal/decision"
	"github.com/wheelhouse/wheelhouse/internal/domain"
	"github.com/wheelhouse/wheelhouse/internal/gates"
	opshttp "github.com/wheelhouse/wheelhouse/internal/interfaces/http"
	"github.com/wheelhouse/wheelhouse/internal/interpret"
	"github.com/wheelhouse/wheelhouse/internal/marketdata"
	"github.com/wheelhouse/wheelhouse/internal/persistence/postgres"
	"github.com/wheelhouse/wheelhouse/internal/risk"
	"github.com/wheelhouse/wheelhouse/internal/scheduler"
	"github.com/wheelhouse/wheelhouse/internal/sizing"
)

// Config aggregates every tunable of the engine. Each section starts at
// its production default; a YAML file overrides only the keys it names.
type Config struct {
	Thresholds  gates.StrategyThresholds  `yaml:"thresholds"`
	SoftWeights gates.SoftWeights         `yaml:"soft_weights"`
	Classifier  catalyst.ClassifierConfig `yaml:"classifier"`
	Weights     decision.Weights          `yaml:"score_weights"`
	Bands       decision.Bands            `yaml:"score_bands"`
	Limits      risk.Limits               `yaml:"risk_limits"`
	Regimes     catalyst.MultiplierTable  `yaml:"regime_multipliers"`
	Triggers    risk.TriggerConfig        `yaml:"triggers"`
	Sizing      sizing.Config             `yaml:"sizing"`
	Interpret   interpret.Config          `yaml:"interpret"`
	Market      marketdata.ClientConfig   `yaml:"market_data"`
	Cache       marketdata.CacheConfig    `yaml:"cache"`
	Database    postgres.Config           `yaml:"database"`
	Pipeline    app.Config                `yaml:"pipeline"`
	Server      opshttp.ServerConfig      `yaml:"server"`
	Scheduler   scheduler.Config          `yaml:"scheduler"`
}

// Default returns the full production configuration
func Default() Config {
	return Config{
		Thresholds:  gates.DefaultStrategyThresholds(),
		SoftWeights: gates.DefaultSoftWeights(),
		Classifier:  catalyst.DefaultClassifierConfig(),
		Weights:     decision.DefaultWeights(),
		Bands:       decision.DefaultBands(),
		Limits:      risk.DefaultLimits(),
		Regimes:     catalyst.DefaultMultiplierTable(),
		Triggers:    risk.DefaultTriggerConfig(),
		Sizing:      sizing.DefaultConfig(),
		Interpret:   interpret.DefaultConfig(),
		Market:      marketdata.DefaultClientConfig(),
		Cache:       marketdata.DefaultCacheConfig(),
		Database:    postgres.DefaultConfig(),
		Pipeline:    app.DefaultConfig(),
		Server:      opshttp.DefaultServerConfig(),
		Scheduler:   scheduler.DefaultConfig(),
	}
}

// Load reads a YAML file over the defaults and validates the result
func Load(path string) (Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Validate rejects a malformed configuration at startup
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Bands.Validate(); err != nil {
		return err
	}
	if err := c.Sizing.Validate(); err != nil {
		return err
	}
	if c.Limits.MaxVegaNotionalPct <= 0 || c.Limits.MaxNetDelta <= 0 || c.Limits.MaxNetGamma <= 0 {
		return fmt.Errorf("%w: risk limits must be positive", domain.ErrConfigInvalid)
	}
	if c.Limits.FreshnessWindow <= 0 {
		return fmt.Errorf("%w: snapshot freshness window must be positive", domain.ErrConfigInvalid)
	}
	if err := c.Regimes.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("%w: pipeline needs at least one worker", domain.ErrConfigInvalid)
	}
	if c.Pipeline.CommitRetries < 0 {
		return fmt.Errorf("%w: commit retries cannot be negative", domain.ErrConfigInvalid)
	}
	if c.Triggers.StopLossDecay <= 0 || c.Triggers.StopLossDecay > 1 {
		return fmt.Errorf("%w: stop-loss decay must be in (0, 1]", domain.ErrConfigInvalid)
	}
	return nil
}
