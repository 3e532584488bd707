package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration for the venue.
type Config struct {
	Server struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"server"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`

	Spread SpreadConfig `mapstructure:"spread"`
}

// SpreadConfig tunes the spread controller. Values are documented in
// basis points or fractions; defaults match the production calibration.
type SpreadConfig struct {
	DefaultSpreadBps float64 `mapstructure:"default_spread_bps"`
	MinSpreadBps     float64 `mapstructure:"min_spread_bps"`
	MaxSpreadBps     float64 `mapstructure:"max_spread_bps"`

	HighVolatility    float64 `mapstructure:"high_volatility"`
	ExtremeVolatility float64 `mapstructure:"extreme_volatility"`

	ImbalanceThreshold float64 `mapstructure:"imbalance_threshold"`
	CriticalImbalance  float64 `mapstructure:"critical_imbalance"`

	LowDepthUSD    float64 `mapstructure:"low_depth_usd"`
	MediumDepthUSD float64 `mapstructure:"medium_depth_usd"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.path", "venue.db")
	v.SetDefault("auth.jwt_secret", "venue-dev-secret")

	v.SetDefault("spread.default_spread_bps", 30.0)
	v.SetDefault("spread.min_spread_bps", 10.0)
	v.SetDefault("spread.max_spread_bps", 500.0)
	v.SetDefault("spread.high_volatility", 0.05)
	v.SetDefault("spread.extreme_volatility", 0.10)
	v.SetDefault("spread.imbalance_threshold", 0.2)
	v.SetDefault("spread.critical_imbalance", 0.4)
	v.SetDefault("spread.low_depth_usd", 10000.0)
	v.SetDefault("spread.medium_depth_usd", 50000.0)
}

// Load reads configuration from venue.yaml (if present) and the
// VENUE_* environment, falling back to defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("venue")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/venue")

	v.SetEnvPrefix("VENUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultSpread returns the spread controller defaults without touching
// the environment. Used by tests and the simulation harness.
func DefaultSpread() SpreadConfig {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return cfg.Spread
}
