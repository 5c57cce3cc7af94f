package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/notegraph/internal/graph"
)

// NewBackupCommand creates the backup command group.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore backups",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Snapshot the committed database and print the backup id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				id, err := db.CreateBackup(ctx)
				if err != nil {
					return err
				}
				return out.Result(map[string]string{"id": id}, id+"\n")
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backup ids, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				ids, err := db.ListBackups(ctx)
				if err != nil {
					return err
				}
				text := strings.Join(ids, "\n")
				if text != "" {
					text += "\n"
				} else {
					text = "no backups\n"
				}
				return out.Result(ids, text)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "restore <id>",
		Short: "Replace the database with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				if err := db.RestoreFromBackup(ctx, args[0]); err != nil {
					return err
				}
				return out.Result(map[string]string{"id": args[0]}, "restored "+args[0]+"\n")
			})
		},
	})

	return cmd
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the database image to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				image, err := db.ExportData(ctx)
				if err != nil {
					return err
				}
				if err := os.WriteFile(output, image, 0o600); err != nil {
					return WrapExitError(ExitCommandError, "failed to write export", err)
				}
				return out.Result(map[string]any{"path": output, "bytes": len(image)}, "exported to "+output+"\n")
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the database with an exported image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read import", err)
			}
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				if err := db.ImportData(ctx, image); err != nil {
					return err
				}
				return out.Result(map[string]any{"path": args[0], "bytes": len(image)}, "imported "+args[0]+"\n")
			})
		},
	}
}
