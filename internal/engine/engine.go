package engine

import (
	"context"
	"fmt"
)

// Row is a single result row keyed by column name.
//
// Values are normalized by every backend to one of: nil, string, int64,
// float64 or bool. BLOB columns surface as string.
type Row map[string]any

// String returns the column as a string, or "" when absent or NULL.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// NullString returns the column as a *string, nil when the column is NULL.
func (r Row) NullString(col string) *string {
	v, ok := r[col]
	if !ok || v == nil {
		return nil
	}
	s := r.String(col)
	return &s
}

// Float returns the column as a float64. Integers are widened; anything else is 0.
func (r Row) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

// Int returns the column as an int64. JSON transports deliver numbers as
// float64, which are truncated.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Engine is the minimal contract any relational backend must satisfy.
type Engine interface {
	// Execute runs a statement and returns its result rows.
	Execute(ctx context.Context, query string, args ...any) ([]Row, error)

	// Run executes a statement that produces no result rows.
	Run(ctx context.Context, query string, args ...any) error

	// Transaction wraps fn in BEGIN/COMMIT. If fn returns an error the
	// transaction is rolled back and the error is returned unchanged.
	// Beginning a transaction while one is open is a TX_MISUSE error.
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error

	// Export returns the full serialized database image (committed state only).
	Export(ctx context.Context) ([]byte, error)

	// Close releases the engine. Calling Close twice is a no-op.
	Close() error

	// IsOpen reports whether the engine can serve requests.
	IsOpen() bool
}

// Backend is an Engine bound to a platform-specific persistence strategy.
type Backend interface {
	Engine

	// Platform identifies the backend strategy.
	Platform() Platform

	// Persist runs after every top-level commit. The sandboxed backend writes
	// its image to the blob store; the resident backend is a no-op because the
	// host process is already authoritative.
	Persist(ctx context.Context) error

	// Import replaces the live database with the given image.
	Import(ctx context.Context, image []byte) error

	// CreateBackup snapshots the current committed state and returns its identifier.
	CreateBackup(ctx context.Context) (string, error)

	// ListBackups returns backup identifiers sorted newest first.
	ListBackups(ctx context.Context) ([]string, error)

	// RestoreFromBackup fully replaces the live state with the named backup.
	// An unknown identifier is a BACKUP_NOT_FOUND error and leaves the live
	// state untouched.
	RestoreFromBackup(ctx context.Context, id string) error
}

// Platform selects a backend strategy.
type Platform string

const (
	// PlatformSandboxed keeps the database in process and persists it as a blob.
	PlatformSandboxed Platform = "sandboxed"

	// PlatformResident forwards every operation to a host process.
	PlatformResident Platform = "resident"
)

// Valid reports whether p names a known platform.
func (p Platform) Valid() bool {
	return p == PlatformSandboxed || p == PlatformResident
}
