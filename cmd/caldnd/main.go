package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"caldnd/internal/config"
	appLog "caldnd/internal/log"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "caldnd",
	Short: "Mirror a calendar's working hours into Slack do-not-disturb",
	Long: `caldnd reads an iCalendar feed, folds this week's occurrences of one
event into a weekly do-not-disturb schedule, and publishes it to Slack
together with an "out of office" status between working blocks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}
		lvl, err := appLog.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		appLog.SetLevel(lvl)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file (created with defaults if missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

// loadConfig reads the config file, applies .env and environment overrides,
// and sets the log level from the file unless --log-level was given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if logLevel == "" {
		lvl, err := appLog.ParseLevel(cfg.LogLevel)
		if err != nil {
			appLog.Warn("ignoring log_level from config", "value", cfg.LogLevel)
		} else {
			appLog.SetLevel(lvl)
		}
	}
	return cfg, nil
}
