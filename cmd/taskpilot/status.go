package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/rwxlab/taskpilot/internal/config"
	"github.com/rwxlab/taskpilot/internal/store"
	"github.com/rwxlab/taskpilot/internal/task"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved task board",
	Long: `Show the task board from the last saved run: per-status counts, each
task's title and attempts, and blocked reasons.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	root := workspaceRoot(cfg)
	stateDir := resolveStateDir(cfg, root)

	st, snap, err := store.New(store.NewFilePersister(filepath.Join(stateDir, "state.json")))
	if err != nil {
		return err
	}
	if st.Empty() {
		fmt.Println("no saved board")
		return nil
	}

	if !snap.SavedAt.IsZero() {
		fmt.Printf("board saved %s ago, iteration %d\n\n", units.HumanDuration(time.Since(snap.SavedAt)), snap.Iteration)
	}

	counts := st.CountByStatus()
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("%-16s %d\n", s, counts[task.Status(s)])
	}
	fmt.Println()

	for _, t := range st.All() {
		line := fmt.Sprintf("%s  %-16s p%d  %s", t.ID, t.Status, t.Priority, t.Title())
		if t.Attempts > 0 {
			line += fmt.Sprintf("  (attempt %d/%d)", t.Attempts, t.MaxAttempts)
		}
		fmt.Println(line)
		if t.Status == task.StatusBlocked && t.BlockedReason != "" {
			fmt.Printf("    blocked: %s\n", t.BlockedReason)
		}
	}

	unmet := st.UnmetDependencies()
	if len(unmet) > 0 {
		fmt.Println()
		ids := make([]string, 0, len(unmet))
		for id := range unmet {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("%s waits on %v\n", id, unmet[id])
		}
	}
	return nil
}
