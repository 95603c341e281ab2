package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cwbudde/clglinterop/internal/store"
)

var (
	runsDataDir   string
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recorded runs and their perf traces",
	Long: `Every "run" with a data directory records its device, configuration and
outcome, plus one perf report per window of frames in trace.jsonl.`,
}

var listRunsCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := store.NewFSStore(runsDataDir)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		return listRuns(cmd.OutOrStdout(), runs)
	},
}

var showRunCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run and its perf reports",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := store.NewFSStore(runsDataDir)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		return showRun(cmd.OutOrStdout(), runs, args[0])
	},
}

var deleteRunsCmd = &cobra.Command{
	Use:   "delete <run-id>...",
	Short: "Delete runs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs, err := store.NewFSStore(runsDataDir)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		for _, id := range args {
			if err := runs.DeleteRun(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
		}
		return nil
	},
}

var cleanRunsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old runs",
	Long:  `Delete runs beyond the newest N (--keep-last) or older than N days (--older-than).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keepLast == 0 && olderThanDays == 0 {
			return fmt.Errorf("must specify either --keep-last or --older-than")
		}
		runs, err := store.NewFSStore(runsDataDir)
		if err != nil {
			return fmt.Errorf("failed to open run store: %w", err)
		}
		return cleanRuns(cmd.InOrStdin(), cmd.OutOrStdout(), runs, time.Now())
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(listRunsCmd, showRunCmd, deleteRunsCmd, cleanRunsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDataDir, "data-dir", "./data", "Base directory of run records")

	cleanRunsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N runs (0 = keep all)")
	cleanRunsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanRunsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func listRuns(out io.Writer, runs store.Store) error {
	infos, err := runs.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSTARTED\tDEVICE\tMODE\tSTATE\tFRAMES\tREPORTS\tTRACE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			shortID(info.ID),
			humanize.Time(info.StartedAt),
			info.Device,
			info.InitialMode,
			info.State,
			humanize.Comma(int64(info.Frames)),
			info.Reports,
			humanize.Bytes(uint64(info.TraceBytes)),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
	return nil
}

// resolveRunID expands a unique ID prefix, as printed by list.
func resolveRunID(runs store.Store, prefix string) (string, error) {
	if _, err := runs.LoadRun(prefix); err == nil {
		return prefix, nil
	}
	infos, err := runs.ListRuns()
	if err != nil {
		return "", err
	}
	var matches []string
	for _, info := range infos {
		if strings.HasPrefix(info.ID, prefix) {
			matches = append(matches, info.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", &store.NotFoundError{RunID: prefix}
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("run ID prefix %q is ambiguous (%d matches)", prefix, len(matches))
	}
}

func showRun(out io.Writer, runs *store.FSStore, prefix string) error {
	id, err := resolveRunID(runs, prefix)
	if err != nil {
		return err
	}
	run, err := runs.LoadRun(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run: %s\n", run.ID)
	fmt.Fprintf(out, "State: %s\n", run.State)
	fmt.Fprintf(out, "Platform: %s\n", run.Platform)
	fmt.Fprintf(out, "Device: %s (implicit sync: %s)\n", run.Device, yesNo(run.ImplicitSync))
	fmt.Fprintf(out, "Frame: %dx%d, initial mode %s (%s)\n", run.Width, run.Height, run.InitialMode, run.InitialMode.Description())
	fmt.Fprintf(out, "Started: %s (%s)\n", run.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
	fmt.Fprintf(out, "Duration: %s\n", run.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "Frames: %s\n", humanize.Comma(int64(run.Frames)))
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}

	tr, err := store.NewTraceReader(runs.BaseDir(), id)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintln(out, "\nNo perf trace.")
		return nil
	} else if err != nil {
		return err
	}
	defer tr.Close()

	entries, err := tr.ReadAll()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nPerf reports: %d\n", len(entries))
	for _, e := range entries {
		fmt.Fprintf(out, "\n#%d %s FPS: %.2f\n", e.Seq, e.Mode.Description(), e.FPS)
		e.WriteText(out)
	}
	return nil
}

func cleanRuns(in io.Reader, out io.Writer, runs store.Store, now time.Time) error {
	infos, err := runs.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	toDelete := selectRunsForDeletion(infos, keepLast, olderThanDays, now)
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %s)\n", shortID(info.ID), info.Device, info.StartedAt.Format("2006-01-02 15:04:05"))
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted, failed := 0, 0
	for _, info := range toDelete {
		if err := runs.DeleteRun(info.ID); err != nil {
			slog.Error("Failed to delete run", "runID", info.ID, "error", err)
			failed++
			continue
		}
		slog.Info("Deleted run", "runID", info.ID)
		deleted++
	}
	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectRunsForDeletion returns the runs older than olderThanDays plus
// every run beyond the newest keepLast, without duplicates, oldest first.
func selectRunsForDeletion(infos []store.RunInfo, keepLast, olderThanDays int, now time.Time) []store.RunInfo {
	sorted := make([]store.RunInfo, len(infos))
	copy(sorted, infos)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartedAt.Before(sorted[j].StartedAt) })

	selected := make(map[string]bool)
	if olderThanDays > 0 {
		cutoff := now.AddDate(0, 0, -olderThanDays)
		for _, info := range sorted {
			if info.StartedAt.Before(cutoff) {
				selected[info.ID] = true
			}
		}
	}
	if keepLast > 0 && len(sorted) > keepLast {
		for _, info := range sorted[:len(sorted)-keepLast] {
			selected[info.ID] = true
		}
	}

	var toDelete []store.RunInfo
	for _, info := range sorted {
		if selected[info.ID] {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}
