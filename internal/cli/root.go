package cli

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// ConfigPath is a YAML config file. Flags below override its values.
	ConfigPath string
	Platform   string
	WasmPath   string
	SocketPath string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the notegraph CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notegraph",
		Short: "notegraph - a typed property graph on SQLite",
		Long: `A typed property graph stored in SQLite.

The sandboxed platform keeps the database in memory and snapshots it into a
local blob store after every commit. The resident platform talks to a
"notegraph serve" host process over a Unix socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.Platform, "platform", "", "backend platform (sandboxed|resident)")
	flags.StringVar(&opts.WasmPath, "wasm-path", "", "blob store directory for the sandboxed platform")
	flags.StringVar(&opts.SocketPath, "socket", "", "host socket for the resident platform")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewNodeCommand(opts))
	cmd.AddCommand(NewEdgeCommand(opts))
	cmd.AddCommand(NewPathCommand(opts))
	cmd.AddCommand(NewNeighborsCommand(opts))
	cmd.AddCommand(NewMatchCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Main runs the CLI with args and returns the process exit code. Errors are
// reported in the selected output format: JSON on out, text on errOut.
func Main(args []string, out, errOut io.Writer) int {
	opts := &RootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	err := cmd.Execute()
	if err == nil {
		return ExitSuccess
	}

	f := &OutputFormatter{Format: opts.Format, Writer: errOut, Verbose: opts.Verbose}
	if opts.Format == "json" {
		f.Writer = out
	}
	f.Report(err)
	return GetExitCode(err)
}

// Execute runs the CLI against the process's standard streams.
func Execute() int {
	return Main(os.Args[1:], os.Stdout, os.Stderr)
}
