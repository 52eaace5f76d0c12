package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/internal/config"
	"github.com/ShayCichocki/warden/internal/store"
)

var (
	flagDBPath     string
	flagConfigPath string
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Agent spawn orchestrator",
	Long: `Warden governs how agent tasks spawn sub-agents: per-session rate
limits, resource quotas, wait-for deadlock detection, and orphan
reclamation, backed by a durable task store.

Core capabilities:
- Token-bucket rate limiting per session
- Concurrency, depth, and fan-out quotas
- Wait-for cycle rejection with full cycle reporting
- Circuit breaker around task persistence
- Orphan reclamation with cascading cancellation`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "Path to the task database (defaults to config, then XDG data dir)")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "Path to a config file (defaults to XDG config search)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	if flagConfigPath != "" {
		return config.LoadFromPath(flagConfigPath)
	}
	return config.Load()
}

// openStore opens the task database honoring --db and the config file.
func openStore() (*store.DB, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	path := flagDBPath
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		path = store.DefaultDBPath()
	}

	db, err := store.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return db, cfg, nil
}
