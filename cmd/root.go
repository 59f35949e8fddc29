package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/banking-pipeline/internal/config"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "bankpipe",
	Short:         "Incremental banking merge-and-transform pipeline",
	Long:          "Lands account and customer files, merges them into structured tables, builds the curated interest fact and publishes the account summary.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := loadConfig(logLevel)
		if err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.L().Debug("config loaded",
			zap.String("command", cmd.Name()),
			zap.String("store", cfg.Store.Driver),
			zap.String("landing", cfg.Landing.Dir),
		)
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

// loadConfig reads and validates configuration. A non-empty level overrides
// log.level.
func loadConfig(level string) (*config.Config, error) {
	c, err := config.Load()
	if err != nil {
		return nil, eris.Wrap(err, "load config")
	}
	if level != "" {
		c.Log.Level = level
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		_, _ = os.Stderr.WriteString("error: " + err.Error() + "\n")
		os.Exit(1)
	}
}
