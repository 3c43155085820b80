package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avasker/keel/history"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
}

// SnapshotInfo is the display form of one persisted snapshot. State and
// intent are decoded generically, so any store's database can be
// inspected.
type SnapshotInfo struct {
	Index     int    `json:"index" yaml:"index"`
	ID        string `json:"id" yaml:"id"`
	Root      bool   `json:"root" yaml:"root"`
	Intent    any    `json:"intent,omitempty" yaml:"intent,omitempty"`
	State     any    `json:"state" yaml:"state"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
}

// InspectResult holds the full inspection output.
type InspectResult struct {
	Database  string         `json:"database" yaml:"database"`
	Snapshots []SnapshotInfo `json:"snapshots" yaml:"snapshots"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <db>",
		Short: "Print the history stored in a database",
		Long: `Open a persisted history database and print its snapshot timeline.

Examples:
  keel inspect ./keel.db
  keel inspect ./keel.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Database = args[0]
			return runInspect(opts, cmd)
		},
	}

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	snaps, err := loadSnapshots(cmd.Context(), opts.Database)
	if err != nil {
		return err
	}

	result := InspectResult{Database: opts.Database, Snapshots: snaps}
	if opts.Format != "text" {
		return writeStructured(cmd.OutOrStdout(), opts.Format, result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "History: %s (%d snapshots)\n", opts.Database, len(snaps))
	for _, snap := range snaps {
		label := "(root)"
		if !snap.Root {
			label = fmt.Sprintf("%v", snap.Intent)
		}
		fmt.Fprintf(w, "  [%d] %s  %s\n", snap.Index, snap.Timestamp, label)
		if opts.Verbose {
			fmt.Fprintf(w, "       ID:    %s\n", truncateID(snap.ID))
			fmt.Fprintf(w, "       State: %v\n", snap.State)
		}
	}
	return nil
}

// loadSnapshots opens the database and reads the stored timeline with a
// generic codec, so databases written by any state type decode.
func loadSnapshots(ctx context.Context, path string) ([]SnapshotInfo, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	storage, err := history.OpenSQLite[any](path, nil)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer storage.Close()

	snaps, err := storage.Load(ctx)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to load history", err)
	}

	infos := make([]SnapshotInfo, 0, len(snaps))
	for _, snap := range snaps {
		infos = append(infos, SnapshotInfo{
			Index:     snap.Index,
			ID:        snap.ID,
			Root:      snap.IsRoot(),
			Intent:    snap.Intent,
			State:     snap.State,
			Timestamp: snap.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return infos, nil
}
