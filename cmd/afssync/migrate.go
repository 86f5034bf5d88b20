package main

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the target store migrations for the configured dialect",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, flush, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer flush()

		a := newApp(cfg, logger).withDatabase().withMigrations()
		defer a.stop()
		return a.start(cmd.Context())
	},
}
