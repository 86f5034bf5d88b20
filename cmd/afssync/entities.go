package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/swedrowski79-dot/afs-mappingxt/pkg/engine"
	"github.com/swedrowski79-dot/afs-mappingxt/pkg/manifest"
)

func init() {
	rootCmd.AddCommand(entitiesCmd)
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List the manifest entities in sync order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		m, err := manifest.Load(cfg.ManifestPath)
		if err != nil {
			return err
		}

		kindOf := func(name string) string {
			e, _ := m.Entity(name)
			return manifest.EntityKind(name, e)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENTITY\tKIND\tSOURCE")
		for _, name := range engine.OrderEntities(m.EntityNames(), kindOf) {
			e, _ := m.Entity(name)
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, kindOf(name), e.From)
		}
		return w.Flush()
	},
}
