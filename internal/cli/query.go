package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/notegraph/internal/graph"
)

// NewPathCommand creates the path command.
func NewPathCommand(rootOpts *RootOptions) *cobra.Command {
	var maxDepth int

	cmd := &cobra.Command{
		Use:   "path <start-id> <end-id>",
		Short: "Find the shortest directed path between two nodes",
		Long: `Find the shortest path from start to end following relationships from
source to target. Prints nothing when no path exists within --max-depth.

Example:
  notegraph path 0190...a 0190...c --max-depth 5`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				steps, err := db.FindPath(ctx, args[0], args[1], maxDepth)
				if err != nil {
					return err
				}
				var b strings.Builder
				for _, s := range steps {
					fmt.Fprintf(&b, "%s -[%s %s]-> %s\n", s.SourceID, s.Type, s.RelationshipID, s.TargetID)
				}
				if len(steps) == 0 {
					b.WriteString("no path\n")
				}
				return out.Result(steps, b.String())
			})
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", 5, "maximum number of relationships in the path")

	return cmd
}

// NewNeighborsCommand creates the neighbors command.
func NewNeighborsCommand(rootOpts *RootOptions) *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "neighbors <id>",
		Short: "List nodes within a number of hops, in either direction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				nodes, err := db.FindConnectedNodes(ctx, args[0], depth)
				if err != nil {
					return err
				}
				return out.Result(nodes, nodeText(nodes))
			})
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 1, "number of hops")

	return cmd
}

// NewMatchCommand creates the match command.
func NewMatchCommand(rootOpts *RootOptions) *cobra.Command {
	var pattern graph.Pattern

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match (source)-[relationship]->(target) triples by type",
		Long: `Match one-hop triples. Omitted filters match anything.

Example:
  notegraph match --source-type person --rel-type KNOWS --rel-type LIKES`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd, rootOpts, func(ctx context.Context, db *graph.DB, out *OutputFormatter) error {
				matches, err := db.MatchPattern(ctx, pattern)
				if err != nil {
					return err
				}
				var b strings.Builder
				for _, m := range matches {
					fmt.Fprintf(&b, "(%s:%s) -[%s %s]-> (%s:%s)\n",
						m.Source.ID, m.Source.Type, m.Relationship.Type, m.Relationship.ID, m.Target.ID, m.Target.Type)
				}
				return out.Result(matches, b.String())
			})
		},
	}

	cmd.Flags().StringVar(&pattern.SourceType, "source-type", "", "source node type")
	cmd.Flags().StringSliceVar(&pattern.RelationshipTypes, "rel-type", nil, "relationship type (repeatable)")
	cmd.Flags().StringVar(&pattern.TargetType, "target-type", "", "target node type")

	return cmd
}
