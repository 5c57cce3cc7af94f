package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/notegraph/internal/graph"
)

// EdgeOptions holds flags for the edge subcommands.
type EdgeOptions struct {
	*RootOptions
	ID    string
	Type  string
	Props string
}

// NewEdgeCommand creates the edge command group.
func NewEdgeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Create, inspect and delete relationships",
	}
	cmd.AddCommand(newEdgeAddCommand(rootOpts))
	cmd.AddCommand(newEdgeGetCommand(rootOpts))
	cmd.AddCommand(newEdgeListCommand(rootOpts))
	cmd.AddCommand(newEdgeUpdateCommand(rootOpts))
	cmd.AddCommand(newEdgeDeleteCommand(rootOpts))
	return cmd
}

func newEdgeAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EdgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <source-id> <target-id>",
		Short: "Add a relationship",
		Long: `Add a directed relationship and print its id.

Example:
  notegraph edge add 0190...a 0190...b --type KNOWS`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			props, err := parseProperties(opts.Props)
			if err != nil {
				return err
			}
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				id, err := db.AddEdge(ctx, graph.EdgeInput{
					ID:         opts.ID,
					SourceID:   args[0],
					TargetID:   args[1],
					Type:       opts.Type,
					Properties: props,
				})
				if err != nil {
					return err
				}
				return out.Result(map[string]string{"id": id}, id+"\n")
			})
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "relationship id (generated when empty)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "relationship type (required)")
	cmd.Flags().StringVar(&opts.Props, "props", "", "properties as a JSON object")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func newEdgeGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				edge, err := db.GetEdge(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Result(edge, edgeText([]graph.Relationship{edge}))
			})
		},
	}
}

func newEdgeListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every relationship, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				edges, err := db.GetEdges(ctx)
				if err != nil {
					return err
				}
				return out.Result(edges, edgeText(edges))
			})
		},
	}
}

func newEdgeUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EdgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change a relationship's type or replace its properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := graph.EdgePatch{}
			if cmd.Flags().Changed("type") {
				patch.Type = &opts.Type
			}
			if cmd.Flags().Changed("props") {
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
				if err := db.UpdateEdge(ctx, args[0], patch); err != nil {
					return err
				}
				return out.Result(map[string]string{"id": args[0]}, "updated "+args[0]+"\n")
			})
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "new relationship type")
	cmd.Flags().StringVar(&opts.Props, "props", "", "replacement properties as a JSON object")

	return cmd
}

func newEdgeDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				if err := db.DeleteEdge(ctx, args[0]); err != nil {
					return err
				}
				return out.Result(map[string]string{"id": args[0]}, "deleted "+args[0]+"\n")
			})
		},
	}
}

// edgeText renders one line per relationship as "id source -[type]-> target".
// A cleared endpoint prints as "-".
func edgeText(edges []graph.Relationship) string {
	var b strings.Builder
	for _, e := range edges {
		fmt.Fprintf(&b, "%s\t%s -[%s]-> %s\t%s\n", e.ID, endpoint(e.SourceID), e.Type, endpoint(e.TargetID), propsText(e.Properties))
	}
	return b.String()
}

func endpoint(id *string) string {
	if id == nil {
		return "-"
	}
	return *id
}

func propsText(p graph.Properties) string {
	if len(p) == 0 {
		return "{}"
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Sprint(map[string]any(p))
	}
	return string(data)
}
