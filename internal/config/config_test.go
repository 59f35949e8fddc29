package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chdirTemp moves into an empty temp dir so no config.yaml is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "banking.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "landing", cfg.Landing.Dir)
	assert.Equal(t, "customer_interest_summary.csv", cfg.Export.Path)
	assert.Equal(t, "10000", cfg.Interest.LowerBound)
	assert.Equal(t, "0.005", cfg.Interest.LoanBonus)
	assert.True(t, cfg.Merge.History.Accounts)
	assert.True(t, cfg.Merge.History.Customers)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.InDelta(t, 2.0, cfg.Retry.Multiplier, 0.001)
	assert.InDelta(t, 0.25, cfg.Retry.Jitter, 0.001)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/bank
  max_conns: 8
log:
  level: debug
  format: console
interest:
  tier3_rate: "0.025"
merge:
  history:
    customers: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/bank", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(8), cfg.Store.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "0.025", cfg.Interest.Tier3Rate)
	assert.False(t, cfg.Merge.History.Customers)
	// Defaults still apply for unset values
	assert.True(t, cfg.Merge.History.Accounts)
	assert.Equal(t, "0.01", cfg.Interest.Tier1Rate)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("BANKING_STORE_DRIVER", "postgres")
	t.Setenv("BANKING_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("BANKING_INTEREST_LOAN_BONUS", "0.0075")
	t.Setenv("BANKING_LANDING_DIR", "/data/in")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0075", cfg.Interest.LoanBonus)
	assert.Equal(t, "/data/in", cfg.Landing.Dir)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func defaultInterest() InterestConfig {
	return InterestConfig{
		LowerBound: "10000",
		UpperBound: "20000",
		Tier1Rate:  "0.01",
		Tier2Rate:  "0.015",
		Tier3Rate:  "0.02",
		LoanBonus:  "0.005",
	}
}

func TestInterestTiers(t *testing.T) {
	tiers, err := defaultInterest().Tiers()
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(10000).Equal(tiers.Lower))
	assert.True(t, decimal.NewFromInt(20000).Equal(tiers.Upper))
	assert.True(t, decimal.RequireFromString("0.015").Equal(tiers.Tier2))
	assert.True(t, decimal.RequireFromString("0.005").Equal(tiers.LoanBonus))
}

func TestInterestTiers_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*InterestConfig)
		want   string
	}{
		{"unparsable", func(c *InterestConfig) { c.Tier1Rate = "one percent" }, "interest.tier1_rate"},
		{"empty", func(c *InterestConfig) { c.UpperBound = "" }, "interest.upper_bound"},
		{"inverted bounds", func(c *InterestConfig) { c.LowerBound = "30000" }, "lower bound"},
		{"negative rate", func(c *InterestConfig) { c.LoanBonus = "-0.01" }, "loan_bonus"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaultInterest()
			tt.mutate(&c)
			_, err := c.Tiers()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRetryResilience(t *testing.T) {
	r := RetryConfig{MaxAttempts: 3, InitialBackoffMs: 50, MaxBackoffMs: 400, Multiplier: 1.5, Jitter: 0}.Resilience()
	assert.Equal(t, 3, r.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, r.InitialBackoff)
	assert.Equal(t, 400*time.Millisecond, r.MaxBackoff)
	assert.InDelta(t, 1.5, r.Multiplier, 0.001)
	assert.Zero(t, r.JitterFraction)

	// Zero values fall back to the defaults.
	d := RetryConfig{Jitter: -1}.Resilience()
	assert.Equal(t, 5, d.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, d.InitialBackoff)
	assert.InDelta(t, 0.25, d.JitterFraction, 0.001)
}

func validConfig() *Config {
	return &Config{
		Store:    StoreConfig{Driver: "sqlite", SQLitePath: "bank.db"},
		Landing:  LandingConfig{Dir: "landing"},
		Interest: defaultInterest(),
	}
}

func TestValidate_Postgres(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/bank"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Driver = "oracle"
	cfg.Landing.Dir = ""
	cfg.Interest.Tier2Rate = "x"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown store.driver "oracle"`)
	assert.Contains(t, err.Error(), "landing.dir is required")
	assert.Contains(t, err.Error(), "interest.tier2_rate")
}

func TestValidate_ConnBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Store.MaxConns = 2
	cfg.Store.MinConns = 4

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_conns must not exceed")

	cfg.Store.MaxConns = 0
	assert.NoError(t, cfg.Validate())
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
