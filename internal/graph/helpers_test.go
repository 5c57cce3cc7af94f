package graph

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/notegraph/internal/engine"
	"github.com/roach88/notegraph/internal/host"
	"github.com/roach88/notegraph/internal/kvstore"
	"github.com/roach88/notegraph/internal/resident"
	"github.com/roach88/notegraph/internal/sandbox"
	"github.com/roach88/notegraph/internal/store"
	"github.com/roach88/notegraph/internal/testutil"
)

// testOptions are the deterministic defaults for every test DB.
func testOptions(opts ...Option) []Option {
	base := []Option{
		WithClock(testutil.NewDeterministicClock()),
		WithIDGenerator(testutil.NewSequentialIDs("n")),
	}
	return append(base, opts...)
}

func newSandboxDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	blobs, err := kvstore.Open(kvstore.Options{InMemory: true})
	require.NoError(t, err)
	backend, err := sandbox.Open(context.Background(), sandbox.Options{Blobs: blobs})
	require.NoError(t, err)

	db := New(backend, testOptions(opts...)...)
	t.Cleanup(func() { db.Close() })
	return db
}

// startHost runs a host server on a short socket path under /tmp; Unix
// socket paths are limited to ~100 bytes and t.TempDir() can exceed that.
func startHost(t *testing.T) string {
	t.Helper()

	dir, err := os.MkdirTemp("/tmp", "ng-graph-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)

	srv := host.NewServer(st, host.ServerOptions{
		SocketPath: filepath.Join(dir, "s.sock"),
		BackupsDir: filepath.Join(t.TempDir(), "backups"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("Serve() exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("host never became ready")
	}

	t.Cleanup(func() {
		cancel()
		<-done
		st.Close()
	})
	return srv.SocketPath()
}

func newResidentDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	backend, err := resident.Open(context.Background(), resident.Options{SocketPath: startHost(t)})
	require.NoError(t, err)

	db := New(backend, testOptions(opts...)...)
	t.Cleanup(func() { db.Close() })
	return db
}

type backendCase struct {
	name string
	open func(t *testing.T, opts ...Option) *DB
}

var backendCases = []backendCase{
	{name: string(engine.PlatformSandboxed), open: newSandboxDB},
	{name: string(engine.PlatformResident), open: newResidentDB},
}

// forEachBackend runs fn as a subtest against a fresh DB on every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, db *DB), opts ...Option) {
	t.Helper()
	for _, bc := range backendCases {
		t.Run(bc.name, func(t *testing.T) {
			fn(t, bc.open(t, opts...))
		})
	}
}

func mustAddNode(t *testing.T, db *DB, in NodeInput) string {
	t.Helper()
	id, err := db.AddNode(context.Background(), in)
	require.NoError(t, err)
	return id
}

func mustAddEdge(t *testing.T, db *DB, source, target, typ string) string {
	t.Helper()
	id, err := db.AddEdge(context.Background(), EdgeInput{SourceID: source, TargetID: target, Type: typ})
	require.NoError(t, err)
	return id
}

func nodeIDs(nodes []Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func stepIDs(steps []PathStep) []string {
	ids := make([]string, 0, len(steps))
	for _, s := range steps {
		ids = append(ids, s.RelationshipID)
	}
	return ids
}

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}
