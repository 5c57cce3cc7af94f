package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func assertGolden(t *testing.T, name string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, append(data, '\n'))
}

func TestGolden_GraphListing(t *testing.T) {
	db := newSandboxDB(t)
	ctx := context.Background()

	ada, err := db.AddNode(ctx, NodeInput{
		Type:       "person",
		Label:      "Ada",
		X:          1.5,
		Y:          -2,
		Properties: Properties{"age": 36, "tags": []string{"x", "y"}},
	})
	require.NoError(t, err)
	engines, err := db.AddNode(ctx, NodeInput{Type: "project"})
	require.NoError(t, err)
	_, err = db.AddEdge(ctx, EdgeInput{SourceID: ada, TargetID: engines, Type: "WORKS_ON", Properties: Properties{"since": 2020}})
	require.NoError(t, err)

	nodes, err := db.GetNodes(ctx)
	require.NoError(t, err)
	edges, err := db.GetEdges(ctx)
	require.NoError(t, err)

	assertGolden(t, "graph_listing", map[string]any{
		"nodes":         nodes,
		"relationships": edges,
	})
}

func TestGolden_FindPath(t *testing.T) {
	db := newSandboxDB(t)
	ctx := context.Background()

	a := mustAddNode(t, db, NodeInput{Type: "person", Label: "A"})
	b := mustAddNode(t, db, NodeInput{Type: "person", Label: "B"})
	c := mustAddNode(t, db, NodeInput{Type: "person", Label: "C"})
	mustAddEdge(t, db, a, b, "KNOWS")
	mustAddEdge(t, db, b, c, "KNOWS")

	path, err := db.FindPath(ctx, a, c, 5)
	require.NoError(t, err)
	assertGolden(t, "find_path", path)
}
