package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/warden/pkg/models"
)

var treeCmd = &cobra.Command{
	Use:   "tree <task-id>",
	Short: "Show the execution tree rooted at a task",
	Long: `Display a task and all its descendants as a tree.

Terminal tasks show their outcome; cancelled tasks show why
(orphaned, cascading parent cancellation, deadlock, timeout).`,
	Args: cobra.ExactArgs(1),
	RunE: runTree,
}

func runTree(cmd *cobra.Command, args []string) error {
	db, _, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.GetSubtree(args[0])
	if err != nil {
		return fmt.Errorf("get subtree: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("task %s not found", args[0])
	}

	children := make(map[string][]*models.TaskRecord)
	for _, rec := range records[1:] {
		children[rec.ParentID] = append(children[rec.ParentID], rec)
	}

	root := records[0]
	fmt.Println(taskLabel(root))
	kids := children[root.ID]
	for i, kid := range kids {
		printTreeNode(kid, children, "", i == len(kids)-1)
	}
	return nil
}

func printTreeNode(rec *models.TaskRecord, children map[string][]*models.TaskRecord, prefix string, isLast bool) {
	connector := "├── "
	childPrefix := prefix + "│   "
	if isLast {
		connector = "└── "
		childPrefix = prefix + "    "
	}
	fmt.Println(prefix + connector + taskLabel(rec))

	kids := children[rec.ID]
	for i, kid := range kids {
		printTreeNode(kid, children, childPrefix, i == len(kids)-1)
	}
}

func taskLabel(rec *models.TaskRecord) string {
	title := rec.Title
	if title == "" {
		title = "(untitled)"
	}
	label := fmt.Sprintf("%s  %s  %s", shortID(rec.ID), statusColor(rec.Status), title)
	if rec.ErrorKind != "" {
		label += "  " + color.RedString("[%s]", rec.ErrorKind)
	}
	return label
}
