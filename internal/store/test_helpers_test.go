package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createMemoryStore creates a new in-memory store for testing.
func createMemoryStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// insertNode inserts a minimal node row.
func insertNode(ctx context.Context, s *Store, id string) error {
	return s.Run(ctx, `
		INSERT INTO nodes (id, type, label, x, y, created_at, updated_at)
		VALUES (?, 'note', ?, 0, 0, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')
	`, id, id)
}

func mustRun(t *testing.T, s *Store, query string, args ...any) {
	t.Helper()
	if err := s.Run(context.Background(), query, args...); err != nil {
		t.Fatalf("Run(%q) failed: %v", query, err)
	}
}
