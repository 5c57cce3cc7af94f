package graph

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/notegraph/internal/engine"
)

func TestExplicitTransaction_Commit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		ctx := context.Background()

		require.NoError(t, db.BeginTransaction(ctx))
		assert.True(t, db.InTransaction())
		a := mustAddNode(t, db, NodeInput{Type: "t"})
		b := mustAddNode(t, db, NodeInput{Type: "t"})
		mustAddEdge(t, db, a, b, "R")
		require.NoError(t, db.CommitTransaction(ctx))
		assert.False(t, db.InTransaction())

		nodes, err := db.GetNodes(ctx)
		require.NoError(t, err)
		assert.Len(t, nodes, 2)
	})
}

func TestExplicitTransaction_Rollback(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		keep := mustAddNode(t, db, NodeInput{Type: "t"})
		before, err := db.ExportData(ctx)
		require.NoError(t, err)

		require.NoError(t, db.BeginTransaction(ctx))
		mustAddNode(t, db, NodeInput{Type: "t", Properties: Properties{"k": "v"}})
		require.NoError(t, db.DeleteNode(ctx, keep, DeleteCascade))
		require.NoError(t, db.RollbackTransaction(ctx))

		after, err := db.ExportData(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after, "rollback must leave the image byte-identical")

		nodes, err := db.GetNodes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{keep}, nodeIDs(nodes))
	})
}

func TestExplicitTransaction_Misuse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		ctx := context.Background()

		assert.True(t, engine.IsTxMisuse(db.CommitTransaction(ctx)))
		assert.True(t, engine.IsTxMisuse(db.RollbackTransaction(ctx)))

		require.NoError(t, db.BeginTransaction(ctx))
		assert.True(t, engine.IsTxMisuse(db.BeginTransaction(ctx)), "nested begin")

		_, err := db.ExportData(ctx)
		assert.True(t, engine.IsTxMisuse(err), "export: got %v", err)
		_, err = db.CreateBackup(ctx)
		assert.True(t, engine.IsTxMisuse(err), "backup: got %v", err)
		assert.True(t, engine.IsTxMisuse(db.ImportData(ctx, nil)))
		assert.True(t, engine.IsTxMisuse(db.RestoreFromBackup(ctx, "x")))

		require.NoError(t, db.RollbackTransaction(ctx))
		_, err = db.ExportData(ctx)
		assert.NoError(t, err)
	})
}

func TestFailedOperation_LeavesImageIdentical(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		mustAddNode(t, db, NodeInput{Type: "t"})
		before, err := db.ExportData(ctx)
		require.NoError(t, err)

		// The node row is written before the property fails to encode.
		cyclic := map[string]any{}
		cyclic["self"] = cyclic
		_, err = db.AddNode(ctx, NodeInput{Type: "t", Properties: Properties{"a": "ok", "z": cyclic}})
		require.Error(t, err)
		assert.True(t, engine.IsSerialization(err), "got %v", err)

		after, err := db.ExportData(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestSerializationFailure(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		a := mustAddNode(t, db, NodeInput{Type: "t", Properties: Properties{"keep": "me"}})
		b := mustAddNode(t, db, NodeInput{Type: "t"})

		list := []any{1.0}
		list = append(list, nil)
		list[1] = list

		tests := []struct {
			name string
			run  func() error
		}{
			{"nan", func() error {
				_, err := db.AddNode(ctx, NodeInput{Type: "t", Properties: Properties{"v": math.NaN()}})
				return err
			}},
			{"inf edge", func() error {
				_, err := db.AddEdge(ctx, EdgeInput{SourceID: a, TargetID: b, Type: "R", Properties: Properties{"v": math.Inf(1)}})
				return err
			}},
			{"cyclic slice update", func() error {
				return db.UpdateNode(ctx, a, NodePatch{Properties: Properties{"v": list}})
			}},
			{"channel", func() error {
				_, err := db.AddNode(ctx, NodeInput{Type: "t", Properties: Properties{"v": make(chan int)}})
				return err
			}},
		}
		for _, tt := range tests {
			err := tt.run()
			assert.True(t, engine.IsSerialization(err), "%s: got %v", tt.name, err)
		}

		nodes, err := db.GetNodes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{a, b}, nodeIDs(nodes))
		assert.Equal(t, Properties{"keep": "me"}, nodes[0].Properties, "failed update rolled back")

		edges, err := db.GetEdges(ctx)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})
}

func TestFailureInsideExplicitTransaction(t *testing.T) {
	db := newSandboxDB(t)
	ctx := context.Background()

	require.NoError(t, db.BeginTransaction(ctx))
	mustAddNode(t, db, NodeInput{Type: "t"})
	_, err := db.AddNode(ctx, NodeInput{Type: "t", Properties: Properties{"v": math.NaN()}})
	require.Error(t, err)

	// The caller decides: the open transaction survives the failed call.
	assert.True(t, db.InTransaction())
	require.NoError(t, db.RollbackTransaction(ctx))

	nodes, err := db.GetNodes(ctx)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		ctx := context.Background()
		require.NoError(t, db.BeginTransaction(ctx))
		mustAddNode(t, db, NodeInput{Type: "t"})

		require.NoError(t, db.Close())
		require.NoError(t, db.Close())

		_, err := db.GetNodes(ctx)
		assert.True(t, engine.IsClosed(err), "got %v", err)
		_, err = db.AddNode(ctx, NodeInput{Type: "t"})
		assert.True(t, engine.IsClosed(err), "got %v", err)
		assert.False(t, db.InTransaction())
	})
}

// cancelCodec cancels the running operation's context while encoding and
// then fails, so the rollback has to run on an already-cancelled context.
type cancelCodec struct {
	cancel context.CancelFunc
}

func (c *cancelCodec) Encode(v any) (string, error) {
	if c.cancel != nil {
		c.cancel()
	}
	return "", errors.New("encode aborted")
}

func (c *cancelCodec) Decode(s string) (any, error) {
	return JSONCodec{}.Decode(s)
}

func TestCancelledOperation_RollsBack(t *testing.T) {
	codec := &cancelCodec{}
	forEachBackend(t, func(t *testing.T, db *DB) {
		bg := context.Background()
		keep := mustAddNode(t, db, NodeInput{ID: "keep", Type: "t"})
		before, err := db.ExportData(bg)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(bg)
		defer cancel()
		codec.cancel = cancel
		_, err = db.AddNode(ctx, NodeInput{ID: "a", Type: "t", Properties: Properties{"k": 1}})
		codec.cancel = nil
		require.Error(t, err)

		nodes, err := db.GetNodes(bg)
		require.NoError(t, err)
		assert.Equal(t, []string{keep}, nodeIDs(nodes), "the partial insert must be rolled back")

		after, err := db.ExportData(bg)
		require.NoError(t, err, "no transaction may be left open")
		assert.Equal(t, before, after)

		mustAddNode(t, db, NodeInput{ID: "b", Type: "t"})
	}, WithCodec(codec))
}

func TestRollbackTransaction_CancelledContext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db *DB) {
		bg := context.Background()
		mustAddNode(t, db, NodeInput{Type: "t"})
		before, err := db.ExportData(bg)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(bg)
		require.NoError(t, db.BeginTransaction(ctx))
		mustAddNode(t, db, NodeInput{Type: "t"})
		cancel()

		require.NoError(t, db.RollbackTransaction(ctx))
		after, err := db.ExportData(bg)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		require.NoError(t, db.BeginTransaction(bg))
		require.NoError(t, db.RollbackTransaction(bg))
	})
}
