package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethpandaops/grasshopper/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time.
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	cfgFiles []string
	logLevel string
	log      = logrus.New()
)

// exitCodeError ends the process with a specific exit code and no
// additional diagnostic.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func main() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.code)
		}

		log.WithError(err).Error("Failed to execute command")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "grasshopper",
	Short: "CPU usage tracking for test runs",
	Long: `Grasshopper runs a workload while sampling CPU utilization, streams the
samples to a tracking service and reports how long usage stayed above a
threshold.`,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := effectiveLogLevel(true, logLevel, "")
		if err != nil {
			return err
		}

		log.SetLevel(level)

		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("grasshopper %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgFiles, "config", nil,
		"config file path (can be repeated, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level ("+strings.Join(logLevels(), ", ")+")")

	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the --config files and environment overrides and applies
// the configured log level unless --log-level was given.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level, err := effectiveLogLevel(
		cmd.Flags().Changed("log-level"), logLevel, cfg.Global.LogLevel,
	)
	if err != nil {
		return nil, err
	}

	log.SetLevel(level)

	return cfg, nil
}

// effectiveLogLevel prefers an explicit --log-level over global.log_level.
func effectiveLogLevel(flagSet bool, flagLevel, configLevel string) (logrus.Level, error) {
	name := flagLevel
	if !flagSet && configLevel != "" {
		name = configLevel
	}

	level, err := logrus.ParseLevel(name)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", name, err)
	}

	return level, nil
}

func logLevels() []string {
	levels := make([]string, 0, len(logrus.AllLevels))
	for _, level := range logrus.AllLevels {
		levels = append(levels, level.String())
	}

	return levels
}
