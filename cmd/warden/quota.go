package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/internal/config"
)

var (
	quotaMaxConcurrent int
	quotaMaxDepth      int
	quotaMaxSubAgents  int
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show or set resource quotas",
}

var quotaShowCmd = &cobra.Command{
	Use:   "show [requester-key]",
	Short: "Show the effective quota for a requester, or the defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runQuotaShow,
}

var quotaSetCmd = &cobra.Command{
	Use:   "set <requester-key>",
	Short: "Set a per-requester quota override in the user config",
	Long: `Write a quota override for a requester key to the user config file.

A running orchestrator watching the config picks the change up without
a restart; it applies to subsequent spawns only.

Example:
  warden quota set sess-batch --max-concurrent 20 --max-depth 5 --max-subagents 10`,
	Args: cobra.ExactArgs(1),
	RunE: runQuotaSet,
}

func init() {
	quotaSetCmd.Flags().IntVar(&quotaMaxConcurrent, "max-concurrent", 10, "Maximum concurrent agents")
	quotaSetCmd.Flags().IntVar(&quotaMaxDepth, "max-depth", 3, "Maximum spawn depth")
	quotaSetCmd.Flags().IntVar(&quotaMaxSubAgents, "max-subagents", 5, "Maximum live children per parent")

	quotaCmd.AddCommand(quotaShowCmd)
	quotaCmd.AddCommand(quotaSetCmd)
}

func runQuotaShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	quota := cfg.Quotas.Default
	label := "default"
	if len(args) == 1 {
		label = args[0]
		if override, ok := cfg.Quotas.Requesters[args[0]]; ok {
			quota = override
		} else {
			label += " (using defaults)"
		}
	}

	fmt.Printf("%s %s\n", color.CyanString("quota"), label)
	fmt.Printf("  max_concurrent_agents:    %d\n", quota.MaxConcurrentAgents)
	fmt.Printf("  max_spawn_depth:          %d\n", quota.MaxSpawnDepth)
	fmt.Printf("  max_subagents_per_parent: %d\n", quota.MaxSubAgentsPerParent)
	return nil
}

func runQuotaSet(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	quota := config.QuotaConfig{
		MaxConcurrentAgents:   quotaMaxConcurrent,
		MaxSpawnDepth:         quotaMaxDepth,
		MaxSubAgentsPerParent: quotaMaxSubAgents,
	}
	if err := quota.ToQuota().Validate(); err != nil {
		return err
	}

	if cfg.Quotas.Requesters == nil {
		cfg.Quotas.Requesters = make(map[string]config.QuotaConfig)
	}
	cfg.Quotas.Requesters[args[0]] = quota

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("%s quota for %s written to %s\n", color.GreenString("✓"), args[0], config.GetUserConfigPath())
	return nil
}
