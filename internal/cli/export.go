package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Database string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <db>",
		Short: "Dump stored history to stdout",
		Long: `Dump the snapshot timeline of a persisted history database to stdout
in a structured format, for diffing or archiving.

Unlike inspect, export always emits a structured document; --format text
is rejected.

Examples:
  keel export ./keel.db --format yaml
  keel export ./keel.db --format json > history.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Database = args[0]
			return runExport(opts, cmd)
		},
	}

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command) error {
	if opts.Format == "text" {
		return WrapExitError(ExitCommandError,
			fmt.Sprintf("export requires a structured format (%v)", []string{"json", "yaml"}), nil)
	}

	snaps, err := loadSnapshots(cmd.Context(), opts.Database)
	if err != nil {
		return err
	}

	result := InspectResult{Database: opts.Database, Snapshots: snaps}
	return writeStructured(cmd.OutOrStdout(), opts.Format, result)
}
