package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/idem/internal/cli"
	"github.com/aretw0/idem/internal/config"
	"github.com/aretw0/idem/internal/logging"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "idem",
	Short: "idem guards operations so they run once per caller and key",
	Long: `idem serves an HTTP API whose mutating routes are protected by a distributed
idempotency guard backed by Redis, and provides tools to inspect the guard's keys.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "idem.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("redis", "", "Redis address (overrides redis.addr)")
	rootCmd.PersistentFlags().String("store", "", "Store backend: redis or memory (overrides store)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("redis"); v != "" {
		cfg.Redis.Addr = v
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.Store = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(level, logging.Format(cfg.Log.Format)), nil
}

// loadRuntime is loadConfig followed by cli.Build.
func loadRuntime(cmd *cobra.Command) (*cli.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return cli.Build(cfg, logger)
}
