package config

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/banking-pipeline/internal/interest"
	"github.com/sells-group/banking-pipeline/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Landing  LandingConfig  `yaml:"landing" mapstructure:"landing"`
	Export   ExportConfig   `yaml:"export" mapstructure:"export"`
	Interest InterestConfig `yaml:"interest" mapstructure:"interest"`
	Merge    MergeConfig    `yaml:"merge" mapstructure:"merge"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LandingConfig points at the directory scanned for new source files.
type LandingConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ExportConfig configures the access-layer CSV export.
type ExportConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// InterestConfig holds the tiered interest policy. Values are strings so
// they parse into exact decimals.
type InterestConfig struct {
	LowerBound string `yaml:"lower_bound" mapstructure:"lower_bound"`
	UpperBound string `yaml:"upper_bound" mapstructure:"upper_bound"`
	Tier1Rate  string `yaml:"tier1_rate" mapstructure:"tier1_rate"`
	Tier2Rate  string `yaml:"tier2_rate" mapstructure:"tier2_rate"`
	Tier3Rate  string `yaml:"tier3_rate" mapstructure:"tier3_rate"`
	LoanBonus  string `yaml:"loan_bonus" mapstructure:"loan_bonus"`
}

// MergeConfig configures structured-layer merges.
type MergeConfig struct {
	History HistoryConfig `yaml:"history" mapstructure:"history"`
}

// HistoryConfig toggles per-table change history in metadata.
type HistoryConfig struct {
	Accounts  bool `yaml:"accounts" mapstructure:"accounts"`
	Customers bool `yaml:"customers" mapstructure:"customers"`
}

// RetryConfig configures backoff for storage writes.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter           float64 `yaml:"jitter" mapstructure:"jitter"`
}

// Resilience converts the configured values, falling back to defaults for
// anything unset.
func (c RetryConfig) Resilience() resilience.RetryConfig {
	return resilience.FromRetryConfig(c.MaxAttempts, c.InitialBackoffMs, c.MaxBackoffMs, c.Multiplier, c.Jitter)
}

// Tiers parses and validates the interest policy.
func (c InterestConfig) Tiers() (interest.Tiers, error) {
	var t interest.Tiers
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"lower_bound", c.LowerBound, &t.Lower},
		{"upper_bound", c.UpperBound, &t.Upper},
		{"tier1_rate", c.Tier1Rate, &t.Tier1},
		{"tier2_rate", c.Tier2Rate, &t.Tier2},
		{"tier3_rate", c.Tier3Rate, &t.Tier3},
		{"loan_bonus", c.LoanBonus, &t.LoanBonus},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return interest.Tiers{}, eris.Wrapf(err, "config: parse interest.%s %q", f.name, f.raw)
		}
		*f.dst = d
	}
	if err := t.Validate(); err != nil {
		return interest.Tiers{}, eris.Wrap(err, "config: interest")
	}
	return t, nil
}

// Validate checks cross-field constraints that defaults cannot cover. All
// problems are reported together.
func (c *Config) Validate() error {
	var problems []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		problems = append(problems, "unknown store.driver "+strconv.Quote(c.Store.Driver))
	}
	if c.Store.MinConns > c.Store.MaxConns && c.Store.MaxConns > 0 {
		problems = append(problems, "store.min_conns must not exceed store.max_conns")
	}
	if c.Landing.Dir == "" {
		problems = append(problems, "landing.dir is required")
	}
	if _, err := c.Interest.Tiers(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BANKING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.sqlite_path", "banking.db")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("store.min_conns", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("landing.dir", "landing")
	v.SetDefault("export.path", "customer_interest_summary.csv")
	v.SetDefault("interest.lower_bound", "10000")
	v.SetDefault("interest.upper_bound", "20000")
	v.SetDefault("interest.tier1_rate", "0.01")
	v.SetDefault("interest.tier2_rate", "0.015")
	v.SetDefault("interest.tier3_rate", "0.02")
	v.SetDefault("interest.loan_bonus", "0.005")
	v.SetDefault("merge.history.accounts", true)
	v.SetDefault("merge.history.customers", true)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 100)
	v.SetDefault("retry.max_backoff_ms", 5000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter", 0.25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
