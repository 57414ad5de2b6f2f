// Package cmd holds the smartpos command line.
package cmd

import (
	"io"
	"log/slog"

	"github.com/gregLibert/smart-pos/internal/config"
	"github.com/spf13/cobra"
)

// skipConfig marks commands that run without loading the configuration.
const skipConfig = "skip-config"

var (
	cfgFile   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "smartpos",
	Short: "Contactless payment terminal core",
	Long: `smartpos reads contactless EMV cards, builds Field 55 and talks to the
terminal controller and the bank connector over line-delimited JSON.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations[skipConfig] == "true" {
			logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			return nil
		}
		c, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		if logFormat != "" {
			c.Log.Format = logFormat
		}
		if err := c.Validate(); err != nil {
			return err
		}
		level, _ := c.LogLevel()
		cfg = c
		logger = newLogger(level, c.Log.Format, cmd.ErrOrStderr())
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./smartpos.yaml or ~/.smartpos/smartpos.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log.format (text, json)")
}

// Execute runs the command line.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
