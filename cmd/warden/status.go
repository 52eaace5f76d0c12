package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/pkg/models"
)

var statusRequester string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show active tasks",
	Long: `Display the live tasks in the store.

Shows, per requester session:
  - Pending, scheduled, and running tasks
  - Spawn depth and parent relationships
  - Task age`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusRequester, "requester", "", "Only show tasks for this requester key")
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var tasks []*models.TaskRecord
	if statusRequester != "" {
		tasks, err = db.GetActiveByRequester(statusRequester)
	} else {
		tasks, err = db.ListActive()
	}
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Println("No active tasks.")
		return nil
	}

	byRequester := make(map[string][]*models.TaskRecord)
	var keys []string
	for _, task := range tasks {
		if _, seen := byRequester[task.RequesterKey]; !seen {
			keys = append(keys, task.RequesterKey)
		}
		byRequester[task.RequesterKey] = append(byRequester[task.RequesterKey], task)
	}

	for _, key := range keys {
		fmt.Printf("%s %s\n", color.CyanString("session"), key)
		for _, task := range byRequester[key] {
			printTaskLine(task, "  ")
		}
		fmt.Println()
	}
	fmt.Printf("%d active task(s)\n", len(tasks))
	return nil
}

func printTaskLine(task *models.TaskRecord, indent string) {
	age := time.Since(task.CreatedAt).Round(time.Second)
	title := task.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Printf("%s%s  %s  depth=%d  age=%s  %s\n",
		indent, statusColor(task.Status), shortID(task.ID), task.SpawnDepth, age, title)
}

// statusColor renders a task status with a fixed-width colored label.
func statusColor(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusRunning:
		return color.GreenString("%-9s", status)
	case models.TaskStatusScheduled:
		return color.CyanString("%-9s", status)
	case models.TaskStatusPending:
		return color.YellowString("%-9s", status)
	case models.TaskStatusCompleted:
		return color.GreenString("%-9s", status)
	case models.TaskStatusCancelled, models.TaskStatusFailed, models.TaskStatusTimeout:
		return color.RedString("%-9s", status)
	default:
		return fmt.Sprintf("%-9s", status)
	}
}

// shortID truncates a task UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
