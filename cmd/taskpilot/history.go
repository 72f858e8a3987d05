package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rwxlab/taskpilot/internal/config"
	"github.com/rwxlab/taskpilot/internal/history"
)

var (
	historyTask  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived phase runs",
	Long: `Show phase runs from the on-disk archive, newest first. With --task,
only failed runs for that task are shown.

Examples:
  taskpilot history
  taskpilot history --limit 50
  taskpilot history --task 3f2a... `,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyTask, "task", "", "show failed runs for this task only")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to show")
	historyCmd.AddCommand(historySearchCmd)
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search archived failures by error text",
	Long: `Search the failure text of archived runs. The index is rebuilt from the
archive on each invocation.

Examples:
  taskpilot history search "permission denied"
  taskpilot history search timeout`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHistorySearch,
}

func runHistorySearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	root := workspaceRoot(cfg)
	stateDir := resolveStateDir(cfg, root)

	ctx := cmd.Context()
	archive, err := history.OpenArchive(ctx, filepath.Join(stateDir, "history.db"))
	if err != nil {
		return err
	}
	defer archive.Close()

	idx, err := history.NewFailureIndex()
	if err != nil {
		return err
	}
	defer idx.Close()

	runs, err := archive.RecentRuns(ctx, 1000)
	if err != nil {
		return err
	}
	for _, r := range runs {
		if r.Failures == 0 {
			continue
		}
		if err := idx.IndexFailure(r); err != nil {
			return err
		}
	}

	matches, err := idx.Similar(strings.Join(args, " "), 10)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("no matching failures")
		return nil
	}
	for _, m := range matches {
		taskCol := m.TaskID
		if taskCol == "" {
			taskCol = "-"
		}
		fmt.Printf("%.2f  %-12s %-36s %s\n", m.Score, m.Phase, taskCol, m.ErrorText)
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	root := workspaceRoot(cfg)
	stateDir := resolveStateDir(cfg, root)

	ctx := cmd.Context()
	archive, err := history.OpenArchive(ctx, filepath.Join(stateDir, "history.db"))
	if err != nil {
		return err
	}
	defer archive.Close()

	var runs []history.RunRecord
	if historyTask != "" {
		runs, err = archive.FailedRunsForTask(ctx, historyTask, historyLimit)
	} else {
		runs, err = archive.RecentRuns(ctx, historyLimit)
	}
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no archived runs")
		return nil
	}

	for _, r := range runs {
		taskCol := r.TaskID
		if taskCol == "" {
			taskCol = "-"
		}
		fmt.Printf("%s  %-12s %-36s %-8s tools=%d failures=%d %s\n",
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Phase, taskCol, r.Outcome, r.ToolCalls, r.Failures, r.Duration.Round(time.Millisecond))
		if r.ErrorText != "" {
			fmt.Printf("    %s\n", r.ErrorText)
		}
	}
	return nil
}
