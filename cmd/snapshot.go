package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemap-dev/cuemap/core/snapshot"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List snapshot files in the data directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tenants := snapshot.ListTenants(cfg.SnapshotsDir())
		if len(tenants) == 0 {
			fmt.Println("no snapshots found")
			return nil
		}
		for _, t := range tenants {
			fmt.Println(t)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
