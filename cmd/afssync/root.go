package main

import (
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swedrowski79-dot/afs-mappingxt/config"
)

var (
	configPath string
	envFile    string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file, environment only when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before the environment is read")
	rootCmd.PersistentFlags().StringP("manifest", "m", "", "Mapping manifest, overrides MANIFEST_PATH")
}

var rootCmd = &cobra.Command{
	Use:           "afssync",
	Short:         "Sync AFS ERP articles and categories into the shop database",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// loadConfig reads the config and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}
	if m, _ := cmd.Flags().GetString("manifest"); m != "" {
		cfg.ManifestPath = m
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (ectologger.Logger, func(), error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level '%s': %w", cfg.LogLevel, err)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = level
	zapConfig.InitialFields = map[string]any{"app": cfg.AppName}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), func() { _ = zapLogger.Sync() }, nil
}
