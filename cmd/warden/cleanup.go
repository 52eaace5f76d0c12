package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge old terminal task records",
	Long: `Delete completed, failed, timed-out, and cancelled task records
older than the retention window from the database.

Live tasks are never touched.

Examples:
  warden cleanup                     # Use the configured retention (default 168h)
  warden cleanup --older-than 24h    # Purge records finished more than a day ago`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Override the configured retention window")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	db, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	retention := cleanupOlderThan
	if retention == 0 {
		retention = cfg.Store.Retention
	}

	count, err := db.PurgeTerminal(retention)
	if err != nil {
		return fmt.Errorf("purge terminal tasks: %w", err)
	}

	fmt.Printf("%s purged %d record(s) older than %s\n", color.GreenString("✓"), count, retention)
	return nil
}
