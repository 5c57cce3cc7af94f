package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/notegraph/internal/store"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the relational schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(cmd, rootOpts)
			return out.Result(map[string]any{
				"tables":  store.Tables(),
				"indexes": store.Indexes(),
				"sql":     store.SchemaSQL(),
			}, store.SchemaSQL())
		},
	}
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after the config file, flag overrides and
defaults are applied. The result is validated first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return WrapExitError(ExitFailure, "failed to marshal config", err)
			}
			return formatter(cmd, rootOpts).Result(cfg, string(data))
		},
	}
}
