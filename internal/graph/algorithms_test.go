package graph

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var traversals = []struct {
	name string
	mode Traversal
}{
	{"recursive", TraversalRecursive},
	{"inmemory", TraversalInMemory},
}

// forEachTraversal runs fn on every backend with every traversal mode.
func forEachTraversal(t *testing.T, fn func(t *testing.T, db *DB), opts ...Option) {
	t.Helper()
	for _, tr := range traversals {
		t.Run(tr.name, func(t *testing.T) {
			forEachBackend(t, fn, append(opts, WithTraversal(tr.mode))...)
		})
	}
}

func TestScenario_KnowsChain(t *testing.T) {
	forEachTraversal(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		a := mustAddNode(t, db, NodeInput{Type: "person", Label: "A"})
		b := mustAddNode(t, db, NodeInput{Type: "person", Label: "B"})
		c := mustAddNode(t, db, NodeInput{Type: "person", Label: "C"})
		ab := mustAddEdge(t, db, a, b, "KNOWS")
		bc := mustAddEdge(t, db, b, c, "KNOWS")

		path, err := db.FindPath(ctx, a, c, 5)
		require.NoError(t, err)
		assert.Equal(t, []PathStep{
			{RelationshipID: ab, Type: "KNOWS", SourceID: a, TargetID: b},
			{RelationshipID: bc, Type: "KNOWS", SourceID: b, TargetID: c},
		}, path)

		connected, err := db.FindConnectedNodes(ctx, b, 1)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b, c}, nodeIDs(connected))

		require.NoError(t, db.DeleteNode(ctx, b, DeleteCascade))

		edges, err := db.GetEdges(ctx)
		require.NoError(t, err)
		assert.Empty(t, edges)

		nodes, err := db.GetNodes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{a, c}, nodeIDs(nodes))
	})
}

func TestFindPath_DepthBound(t *testing.T) {
	forEachTraversal(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		ids := make([]string, 5)
		for i := range ids {
			ids[i] = mustAddNode(t, db, NodeInput{Type: "step"})
		}
		for i := 0; i < 4; i++ {
			mustAddEdge(t, db, ids[i], ids[i+1], "NEXT")
		}

		path, err := db.FindPath(ctx, ids[0], ids[4], 3)
		require.NoError(t, err)
		assert.NotNil(t, path)
		assert.Empty(t, path, "goal is four hops away")

		path, err = db.FindPath(ctx, ids[0], ids[4], 4)
		require.NoError(t, err)
		assert.Len(t, path, 4)

		path, err = db.FindPath(ctx, ids[0], ids[1], 0)
		require.NoError(t, err)
		assert.Empty(t, path)

		path, err = db.FindPath(ctx, ids[4], ids[0], 10)
		require.NoError(t, err)
		assert.Empty(t, path, "relationships are followed source to target only")

		path, err = db.FindPath(ctx, "ghost", ids[0], 10)
		require.NoError(t, err)
		assert.Empty(t, path)
	})
}

func TestFindPath_ShortestAndTieBreak(t *testing.T) {
	forEachTraversal(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		a := mustAddNode(t, db, NodeInput{Type: "t"})
		b := mustAddNode(t, db, NodeInput{Type: "t"})
		c := mustAddNode(t, db, NodeInput{Type: "t"})
		d := mustAddNode(t, db, NodeInput{Type: "t"})

		// Two routes of length two, then a direct hop.
		ab := mustAddEdge(t, db, a, b, "R")
		bd := mustAddEdge(t, db, b, d, "R")
		mustAddEdge(t, db, a, c, "R")
		mustAddEdge(t, db, c, d, "R")

		path, err := db.FindPath(ctx, a, d, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{ab, bd}, stepIDs(path), "lowest step sequence wins a tie")

		direct := mustAddEdge(t, db, a, d, "R")
		path, err = db.FindPath(ctx, a, d, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{direct}, stepIDs(path))
	})
}

func TestFindPath_CyclePolicy(t *testing.T) {
	build := func(t *testing.T, db *DB) (string, []string) {
		a := mustAddNode(t, db, NodeInput{Type: "t"})
		b := mustAddNode(t, db, NodeInput{Type: "t"})
		ab := mustAddEdge(t, db, a, b, "R")
		ba := mustAddEdge(t, db, b, a, "R")
		return a, []string{ab, ba}
	}

	t.Run("simple", func(t *testing.T) {
		forEachTraversal(t, func(t *testing.T, db *DB) {
			a, _ := build(t, db)
			path, err := db.FindPath(context.Background(), a, a, 5)
			require.NoError(t, err)
			assert.Empty(t, path, "a simple path never returns to its start")
		}, WithPathPolicy(PathSimple))
	})

	t.Run("revisit", func(t *testing.T) {
		forEachTraversal(t, func(t *testing.T, db *DB) {
			a, cycle := build(t, db)
			path, err := db.FindPath(context.Background(), a, a, 5)
			require.NoError(t, err)
			assert.Equal(t, cycle, stepIDs(path))

			path, err = db.FindPath(context.Background(), a, a, 1)
			require.NoError(t, err)
			assert.Empty(t, path)
		}, WithPathPolicy(PathRevisit))
	})
}

func TestFindPath_IgnoresDanglingEdges(t *testing.T) {
	forEachTraversal(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		a := mustAddNode(t, db, NodeInput{Type: "t"})
		b := mustAddNode(t, db, NodeInput{Type: "t"})
		c := mustAddNode(t, db, NodeInput{Type: "t"})
		mustAddEdge(t, db, a, b, "R")
		mustAddEdge(t, db, b, c, "R")
		require.NoError(t, db.DeleteNode(ctx, b, KeepConnected))

		path, err := db.FindPath(ctx, a, c, 5)
		require.NoError(t, err)
		assert.Empty(t, path)
	})
}

func TestFindConnectedNodes(t *testing.T) {
	forEachTraversal(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		// a -> b <- c -> d, e isolated
		a := mustAddNode(t, db, NodeInput{Type: "t"})
		b := mustAddNode(t, db, NodeInput{Type: "t"})
		c := mustAddNode(t, db, NodeInput{Type: "t"})
		d := mustAddNode(t, db, NodeInput{Type: "t"})
		mustAddNode(t, db, NodeInput{Type: "t"})
		mustAddEdge(t, db, a, b, "R")
		mustAddEdge(t, db, c, b, "R")
		mustAddEdge(t, db, c, d, "R")

		tests := []struct {
			depth int
			want  []string
		}{
			{-1, []string{a}},
			{0, []string{a}},
			{1, []string{a, b}},
			{2, []string{a, b, c}},
			{3, []string{a, b, c, d}},
			{10, []string{a, b, c, d}},
		}
		for _, tt := range tests {
			nodes, err := db.FindConnectedNodes(ctx, a, tt.depth)
			require.NoError(t, err)
			assert.Equal(t, tt.want, nodeIDs(nodes), "depth %d", tt.depth)
		}

		nodes, err := db.FindConnectedNodes(ctx, "ghost", 3)
		require.NoError(t, err)
		assert.NotNil(t, nodes)
		assert.Empty(t, nodes)
	})
}

func TestMatchPattern(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		ada := mustAddNode(t, db, NodeInput{Type: "person"})
		bob := mustAddNode(t, db, NodeInput{Type: "person"})
		proj := mustAddNode(t, db, NodeInput{Type: "project"})
		knows := mustAddEdge(t, db, ada, bob, "KNOWS")
		works := mustAddEdge(t, db, ada, proj, "WORKS_ON")
		likes := mustAddEdge(t, db, bob, proj, "LIKES")

		relIDs := func(ms []Match) []string {
			ids := []string{}
			for _, m := range ms {
				ids = append(ids, m.Relationship.ID)
			}
			return ids
		}

		all, err := db.MatchPattern(ctx, Pattern{})
		require.NoError(t, err)
		assert.Equal(t, []string{knows, works, likes}, relIDs(all))

		people, err := db.MatchPattern(ctx, Pattern{SourceType: "person", TargetType: "person"})
		require.NoError(t, err)
		require.Len(t, people, 1)
		assert.Equal(t, ada, people[0].Source.ID)
		assert.Equal(t, bob, people[0].Target.ID)
		assert.Equal(t, "KNOWS", people[0].Relationship.Type)

		set := []string{"WORKS_ON", "LIKES"}
		projects, err := db.MatchPattern(ctx, Pattern{RelationshipTypes: set, TargetType: "project"})
		require.NoError(t, err)
		assert.Equal(t, []string{works, likes}, relIDs(projects))
		for _, m := range projects {
			assert.Contains(t, set, m.Relationship.Type)
		}

		none, err := db.MatchPattern(ctx, Pattern{RelationshipTypes: []string{"HATES"}})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)

		// Dangling relationships never match.
		require.NoError(t, db.DeleteNode(ctx, proj, KeepConnected))
		rest, err := db.MatchPattern(ctx, Pattern{})
		require.NoError(t, err)
		assert.Equal(t, []string{knows}, relIDs(rest))
	})
}

func TestTraversalParity(t *testing.T) {
	db := newSandboxDB(t, WithPathPolicy(PathRevisit))
	ctx := context.Background()

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = mustAddNode(t, db, NodeInput{Type: "t"})
	}
	for _, e := range [][2]int{{0, 1}, {1, 2}, {2, 0}, {2, 3}, {3, 4}, {1, 4}, {4, 5}, {5, 3}} {
		mustAddEdge(t, db, ids[e[0]], ids[e[1]], "R")
	}

	for _, policy := range []PathPolicy{PathSimple, PathRevisit} {
		db.policy = policy
		for _, start := range ids {
			for _, end := range ids {
				for depth := 1; depth <= 4; depth++ {
					db.traversal = TraversalRecursive
					want, err := db.FindPath(ctx, start, end, depth)
					require.NoError(t, err)

					db.traversal = TraversalInMemory
					got, err := db.FindPath(ctx, start, end, depth)
					require.NoError(t, err)

					assert.Equal(t, want, got, "policy %d path %s->%s depth %d", policy, start, end, depth)
				}
			}
		}
	}

	for _, start := range ids {
		for depth := 0; depth <= 3; depth++ {
			db.traversal = TraversalRecursive
			want, err := db.FindConnectedNodes(ctx, start, depth)
			require.NoError(t, err)

			db.traversal = TraversalInMemory
			got, err := db.FindConnectedNodes(ctx, start, depth)
			require.NoError(t, err)

			assert.Equal(t, nodeIDs(want), nodeIDs(got), "connected %s depth %d", start, depth)
		}
	}
}

func TestFindConnectedNodes_HugeDepth(t *testing.T) {
	forEachTraversal(t, func(t *testing.T, db *DB) {
		a := mustAddNode(t, db, NodeInput{ID: "a", Type: "t"})
		b := mustAddNode(t, db, NodeInput{ID: "b", Type: "t"})
		mustAddEdge(t, db, a, b, "R")
		mustAddNode(t, db, NodeInput{ID: "c", Type: "t"})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		nodes, err := db.FindConnectedNodes(ctx, a, math.MaxInt32)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{a, b}, nodeIDs(nodes))
	})
}
