package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/notegraph/internal/graph"
)

// NodeOptions holds flags for the node subcommands.
type NodeOptions struct {
	*RootOptions
	ID      string
	Type    string
	Label   string
	X, Y    float64
	Props   string
	Cascade bool
}

// NewNodeCommand creates the node command group.
func NewNodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Create, inspect and delete nodes",
	}
	cmd.AddCommand(newNodeAddCommand(rootOpts))
	cmd.AddCommand(newNodeGetCommand(rootOpts))
	cmd.AddCommand(newNodeListCommand(rootOpts))
	cmd.AddCommand(newNodeUpdateCommand(rootOpts))
	cmd.AddCommand(newNodeDeleteCommand(rootOpts))
	return cmd
}

func newNodeAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a node",
		Long: `Add a node and print its id.

Example:
  notegraph node add --type person --label Ada --props '{"born":1815}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProperties(opts.Props)
			if err != nil {
				return err
			}
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				id, err := db.AddNode(ctx, graph.NodeInput{
					ID:         opts.ID,
					Type:       opts.Type,
					Label:      opts.Label,
					X:          opts.X,
					Y:          opts.Y,
					Properties: props,
				})
				if err != nil {
					return err
				}
				return out.Result(map[string]string{"id": id}, id+"\n")
			})
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "node id (generated when empty)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "node type (required)")
	cmd.Flags().StringVar(&opts.Label, "label", "", "display label")
	cmd.Flags().Float64Var(&opts.X, "x", 0, "x position")
	cmd.Flags().Float64Var(&opts.Y, "y", 0, "y position")
	cmd.Flags().StringVar(&opts.Props, "props", "", "properties as a JSON object")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newNodeGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				node, err := db.GetNode(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Result(node, nodeText([]graph.Node{node}))
			})
		},
	}
}

func newNodeListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every node, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				nodes, err := db.GetNodes(ctx)
				if err != nil {
					return err
				}
				return out.Result(nodes, nodeText(nodes))
			})
		},
	}
}

func newNodeUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a node",
		Long: `Update the given fields of a node. --props replaces every property.

Example:
  notegraph node update 0190... --label "Ada Lovelace" --props '{"born":1815}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := graph.NodePatch{}
			flags := cmd.Flags()
			if flags.Changed("type") {
				patch.Type = &opts.Type
			}
			if flags.Changed("label") {
				patch.Label = &opts.Label
			}
			if flags.Changed("x") {
				patch.X = &opts.X
			}
			if flags.Changed("y") {
				patch.Y = &opts.Y
			}
			if flags.Changed("props") {
				props, err := parseProperties(opts.Props)
				if err != nil {
					return err
				}
				if props == nil {
					props = graph.Properties{}
				}
				patch.Properties = props
			}
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				if err := db.UpdateNode(ctx, args[0], patch); err != nil {
					return err
				}
				return out.Result(map[string]string{"id": args[0]}, "updated "+args[0]+"\n")
			})
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "new node type")
	cmd.Flags().StringVar(&opts.Label, "label", "", "new label")
	cmd.Flags().Float64Var(&opts.X, "x", 0, "new x position")
	cmd.Flags().Float64Var(&opts.Y, "y", 0, "new y position")
	cmd.Flags().StringVar(&opts.Props, "props", "", "replacement properties as a JSON object")

	return cmd
}

func newNodeDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NodeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a node",
		Long: `Delete a node. By default incident relationships are kept with the
deleted endpoint cleared; --cascade deletes them too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := graph.KeepConnected
			if opts.Cascade {
				mode = graph.DeleteCascade
			}
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				if err := db.DeleteNode(ctx, args[0], mode); err != nil {
					return err
				}
				return out.Result(map[string]string{"id": args[0], "mode": mode.String()},
					fmt.Sprintf("deleted %s (%s)\n", args[0], mode))
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Cascade, "cascade", false, "also delete incident relationships")

	return cmd
}

// nodeText renders one line per node: id, type, label and properties.
func nodeText(nodes []graph.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", n.ID, n.Type, n.Label, propsText(n.Properties))
	}
	return b.String()
}
