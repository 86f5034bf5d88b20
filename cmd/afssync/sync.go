package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/engine"
)

func init() {
	syncCmd.Flags().Bool("migrate", false, "Apply pending target migrations before syncing")
	syncCmd.Flags().Bool("json", false, "Print per-entity stats as JSON")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync [entity...]",
	Short: "Sync the given entities, or all of them in dependency order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, flush, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer flush()

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a := newApp(cfg, logger).
			withTracing().
			withMetrics().
			withDatabase().
			withManifest().
			withSources().
			withLock().
			withProgress()
		if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
			a.withMigrations()
		}
		if err := a.start(ctx); err != nil {
			a.stop()
			return err
		}
		defer a.stop()

		e, err := a.newEngine()
		if err != nil {
			return err
		}

		results, err := engine.NewRunner(e, a.guard, cfg.SyncLockKey, a.logger).SyncAll(ctx, args...)
		if printErr := printResults(cmd, results); printErr != nil {
			a.logger.WithError(printErr).Warn("Failed to print results")
		}
		return err
	},
}

func printResults(cmd *cobra.Command, results []engine.EntityResult) error {
	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		if r.Err != nil {
			if _, err := fmt.Fprintf(out, "%s: failed: %v\n", r.Entity, r.Err); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(out, "%s: %s\n", r.Entity, r.Stats.Summary()); err != nil {
			return err
		}
	}
	return nil
}
