// Package sandbox implements the sandboxed backend: an in-process, in-memory
// SQLite engine whose full image is written to a key/value blob store after
// every commit.
//
// The live image is stored under LiveKey. Backups are stored under
// BackupPrefix followed by a 20-digit Unix nanosecond timestamp, so the key
// order is also the chronological order.
//
// Persisting is O(database size) per commit. This backend is meant for small
// graphs.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/roach88/notegraph/internal/engine"
	"github.com/roach88/notegraph/internal/kvstore"
	"github.com/roach88/notegraph/internal/snapshot"
	"github.com/roach88/notegraph/internal/store"
)

const (
	// LiveKey is the blob key of the current database image.
	LiveKey = "graph.db"

	// BackupPrefix prefixes every backup key.
	BackupPrefix = "graph.db.backup."

	// DefaultKeepBackups is how many backups survive quota pruning.
	DefaultKeepBackups = 3
)

// Options configures a Backend.
type Options struct {
	// Blobs is the blob store. Required. The Backend takes ownership and
	// closes it on Close.
	Blobs kvstore.Store

	// Codec compresses snapshot blobs. Defaults to zstd.
	Codec snapshot.Codec

	// KeepBackups is how many of the newest backups survive pruning.
	// Defaults to DefaultKeepBackups.
	KeepBackups int

	// Now stamps backup keys. Defaults to time.Now.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Backend implements engine.Backend on an in-memory store.Store.
type Backend struct {
	db     *store.Store
	blobs  kvstore.Store
	codec  snapshot.Codec
	keep   int
	now    func() time.Time
	logger *slog.Logger

	mu        sync.Mutex // guards lastStamp
	lastStamp int64
}

var _ engine.Backend = (*Backend)(nil)

// Open creates the backend, restoring the live image from the blob store if
// one exists. A missing or unreadable image is logged and the backend starts
// with an empty database.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Blobs == nil {
		return nil, engine.Errorf(engine.ErrCodeInitFailed, "open sandbox", "blob store is required")
	}
	if opts.Codec == "" {
		opts.Codec = snapshot.CodecZstd
	}
	if opts.KeepBackups <= 0 {
		opts.KeepBackups = DefaultKeepBackups
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	db, err := store.OpenMemory()
	if err != nil {
		return nil, err
	}

	b := &Backend{
		db:     db,
		blobs:  opts.Blobs,
		codec:  opts.Codec,
		keep:   opts.KeepBackups,
		now:    opts.Now,
		logger: opts.Logger,
	}

	if err := b.restoreLive(ctx); err != nil {
		b.logger.Warn("starting with empty database", "key", LiveKey, "error", err)
	}

	if err := db.ValidateSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// restoreLive loads LiveKey into the in-memory store.
func (b *Backend) restoreLive(ctx context.Context) error {
	blob, err := b.blobs.Get(ctx, LiveKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		b.logger.Debug("no stored image", "key", LiveKey)
		return nil
	}
	if err != nil {
		return err
	}

	image, err := snapshot.Decode(blob)
	if err != nil {
		return err
	}
	if err := b.db.Replace(ctx, image); err != nil {
		return err
	}
	b.logger.Debug("restored image", "key", LiveKey, "bytes", len(image))
	return nil
}

// Platform returns engine.PlatformSandboxed.
func (b *Backend) Platform() engine.Platform {
	return engine.PlatformSandboxed
}

// Execute runs a statement and returns its rows.
func (b *Backend) Execute(ctx context.Context, query string, args ...any) ([]engine.Row, error) {
	return b.db.Execute(ctx, query, args...)
}

// Run executes a statement without result rows.
func (b *Backend) Run(ctx context.Context, query string, args ...any) error {
	return b.db.Run(ctx, query, args...)
}

// Transaction wraps fn in BEGIN/COMMIT. It does not persist; the caller
// invokes Persist after a top-level commit.
func (b *Backend) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return b.db.Transaction(ctx, fn)
}

// Export returns the committed database image.
func (b *Backend) Export(ctx context.Context) ([]byte, error) {
	return b.db.Export(ctx)
}

// IsOpen reports whether the backend is usable.
func (b *Backend) IsOpen() bool {
	return b.db.IsOpen()
}

// Close closes the database and the blob store. The in-memory state is
// discarded; only what was persisted survives.
func (b *Backend) Close() error {
	if !b.db.IsOpen() {
		return nil
	}
	return errors.Join(b.db.Close(), b.blobs.Close())
}

// Persist writes the current image under LiveKey.
//
// If the blob store is full, backups are pruned down to the newest
// KeepBackups and the write is retried once. A second failure is a
// STORAGE_EXHAUSTED error.
func (b *Backend) Persist(ctx context.Context) error {
	blob, err := b.encode(ctx, "persist")
	if err != nil {
		return err
	}
	return b.put(ctx, "persist", LiveKey, blob)
}

// encode exports the database and wraps it in a snapshot blob.
func (b *Backend) encode(ctx context.Context, op string) ([]byte, error) {
	image, err := b.db.Export(ctx)
	if err != nil {
		return nil, err
	}
	blob, err := snapshot.Encode(image, b.codec)
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, op, err)
	}
	return blob, nil
}

// put writes a blob, pruning backups and retrying once on quota exhaustion.
func (b *Backend) put(ctx context.Context, op, key string, blob []byte) error {
	err := b.blobs.Put(ctx, key, blob)
	if err == nil {
		return nil
	}
	if !errors.Is(err, kvstore.ErrQuotaExceeded) {
		return engine.Wrap(engine.ErrCodeQueryFailed, op, err)
	}

	pruned, pruneErr := b.prune(ctx)
	b.logger.Warn("blob store full, pruned backups",
		"key", key,
		"pruned", pruned,
		"usage", b.blobs.Usage(),
		"error", pruneErr,
	)

	if err := b.blobs.Put(ctx, key, blob); err != nil {
		return &engine.Error{
			Code:    engine.ErrCodeStorageExhausted,
			Op:      op,
			Message: fmt.Sprintf("write %s after pruning %d backups", key, pruned),
			Err:     errors.Join(err, pruneErr),
		}
	}
	return nil
}

// prune deletes all but the newest KeepBackups backups.
func (b *Backend) prune(ctx context.Context) (int, error) {
	keys, err := b.blobs.Keys(ctx, BackupPrefix)
	if err != nil {
		return 0, err
	}
	if len(keys) <= b.keep {
		return 0, nil
	}

	// keys are ascending, so the oldest come first
	stale := keys[:len(keys)-b.keep]
	for i, key := range stale {
		if err := b.blobs.Delete(ctx, key); err != nil {
			return i, err
		}
	}
	return len(stale), nil
}

// Import replaces the live database with image and persists it.
func (b *Backend) Import(ctx context.Context, image []byte) error {
	if err := b.db.Replace(ctx, image); err != nil {
		return err
	}
	return b.Persist(ctx)
}

// CreateBackup stores the committed image under a new timestamped key and
// returns the key.
func (b *Backend) CreateBackup(ctx context.Context) (string, error) {
	blob, err := b.encode(ctx, "create backup")
	if err != nil {
		return "", err
	}
	key := BackupPrefix + b.stamp()
	if err := b.put(ctx, "create backup", key, blob); err != nil {
		return "", err
	}
	b.logger.Debug("created backup", "key", key, "bytes", len(blob))
	return key, nil
}

// stamp returns a 20-digit timestamp strictly greater than the previous one.
func (b *Backend) stamp() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ns := b.now().UnixNano()
	if ns <= b.lastStamp {
		ns = b.lastStamp + 1
	}
	b.lastStamp = ns
	return fmt.Sprintf("%020d", ns)
}

// ListBackups returns backup keys, newest first.
func (b *Backend) ListBackups(ctx context.Context) ([]string, error) {
	keys, err := b.blobs.Keys(ctx, BackupPrefix)
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, "list backups", err)
	}
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}

// RestoreFromBackup replaces the live database with the named backup and
// persists it as the live image. An unknown id is a BACKUP_NOT_FOUND error;
// an unreadable backup leaves the live database untouched.
func (b *Backend) RestoreFromBackup(ctx context.Context, id string) error {
	if !strings.HasPrefix(id, BackupPrefix) {
		return engine.Errorf(engine.ErrCodeBackupNotFound, "restore", "unknown backup %q", id)
	}

	blob, err := b.blobs.Get(ctx, id)
	if errors.Is(err, kvstore.ErrNotFound) {
		return &engine.Error{Code: engine.ErrCodeBackupNotFound, Op: "restore", Message: fmt.Sprintf("unknown backup %q", id), Err: err}
	}
	if err != nil {
		return engine.Wrap(engine.ErrCodeQueryFailed, "restore", err)
	}

	image, err := snapshot.Decode(blob)
	if err != nil {
		return engine.Wrap(engine.ErrCodeInitFailed, "restore "+id, err)
	}
	if err := b.db.Replace(ctx, image); err != nil {
		return err
	}

	b.logger.Info("restored backup", "id", id)
	return b.Persist(ctx)
}
