package graph

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/notegraph/internal/config"
	"github.com/roach88/notegraph/internal/engine"
	"github.com/roach88/notegraph/internal/host"
	"github.com/roach88/notegraph/internal/kvstore"
	"github.com/roach88/notegraph/internal/resident"
	"github.com/roach88/notegraph/internal/sandbox"
	"github.com/roach88/notegraph/internal/snapshot"
)

// DB is the graph database. It owns its backend.
//
// All public methods are serialized by a mutex, so calls made in sequence
// observe a consistent serial history.
type DB struct {
	mu      sync.Mutex
	backend engine.Backend

	logger    *slog.Logger
	ids       IDGenerator
	clock     Clock
	codec     PropertyCodec
	policy    PathPolicy
	traversal Traversal
	observer  Observer

	inTx   bool // a BeginTransaction is open
	closed bool
}

// New wraps an already opened backend.
func New(backend engine.Backend, opts ...Option) *DB {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &DB{
		backend:   backend,
		logger:    o.logger,
		ids:       o.ids,
		clock:     o.clock,
		codec:     o.codec,
		policy:    o.policy,
		traversal: o.traversal,
		observer:  o.observer,
	}
}

// Open opens the backend selected by cfg.Platform and returns a DB over it.
//
// Path policy and traversal mode come from cfg; explicit options override
// them.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*DB, error) {
	cfg.ApplyDefaults()

	policy, ok := ParsePathPolicy(cfg.PathPolicy)
	if !ok {
		return nil, engine.Errorf(engine.ErrCodeInitFailed, "open", "unknown path policy %q", cfg.PathPolicy)
	}
	traversal, ok := ParseTraversal(cfg.Traversal)
	if !ok {
		return nil, engine.Errorf(engine.ErrCodeInitFailed, "open", "unknown traversal %q", cfg.Traversal)
	}

	o := defaultOptions()
	o.policy = policy
	o.traversal = traversal
	for _, opt := range opts {
		opt(&o)
	}

	backend, err := openBackend(ctx, cfg, o)
	if err != nil {
		return nil, err
	}

	all := append([]Option{WithPathPolicy(policy), WithTraversal(traversal)}, opts...)
	db := New(backend, all...)
	db.logger.Debug("opened graph database", "platform", backend.Platform())
	return db, nil
}

// openBackend builds the backend for cfg.Platform. Selection is explicit;
// nothing about the runtime environment is probed.
func openBackend(ctx context.Context, cfg config.Config, o options) (engine.Backend, error) {
	switch cfg.Platform {
	case engine.PlatformSandboxed:
		codec, err := snapshot.ParseCodec(cfg.SnapshotCodec)
		if err != nil {
			return nil, engine.Wrap(engine.ErrCodeInitFailed, "open sandbox", err)
		}
		blobs, err := kvstore.Open(kvstore.Options{
			Dir:        cfg.WasmPath,
			InMemory:   cfg.WasmPath == "",
			QuotaBytes: cfg.QuotaBytes,
			Logger:     o.logger,
		})
		if err != nil {
			return nil, engine.Wrap(engine.ErrCodeInitFailed, "open blob store", err)
		}
		backend, err := sandbox.Open(ctx, sandbox.Options{
			Blobs:       blobs,
			Codec:       codec,
			KeepBackups: cfg.KeepBackups,
			Now:         o.clock.Now,
			Logger:      o.logger,
		})
		if err != nil {
			blobs.Close()
			return nil, err
		}
		return backend, nil

	case engine.PlatformResident:
		socket := cfg.SocketPath
		if socket == "" {
			socket = host.DefaultSocketPath()
		}
		return resident.Open(ctx, resident.Options{SocketPath: socket, Logger: o.logger})

	default:
		return nil, engine.Errorf(engine.ErrCodeInitFailed, "open", "unknown platform %q", cfg.Platform)
	}
}

// Platform returns the backend strategy in use.
func (db *DB) Platform() engine.Platform {
	return db.backend.Platform()
}

// checkOpen must be called with db.mu held.
func (db *DB) checkOpen(op string) error {
	if db.closed {
		return engine.Errorf(engine.ErrCodeClosed, op, "database is closed")
	}
	return nil
}

// checkNoTx must be called with db.mu held.
func (db *DB) checkNoTx(op string) error {
	if err := db.checkOpen(op); err != nil {
		return err
	}
	if db.inTx {
		return engine.Errorf(engine.ErrCodeTxMisuse, op, "not allowed inside a transaction")
	}
	return nil
}

// withTransaction runs fn atomically. Inside a BeginTransaction it runs
// inline and the outer transaction is the unit of atomicity. Otherwise it
// runs in its own backend transaction followed by Persist.
func (db *DB) withTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.inTx {
		return fn(ctx)
	}
	if err := db.backend.Transaction(ctx, fn); err != nil {
		return err
	}
	return db.backend.Persist(ctx)
}

// BeginTransaction opens an explicit transaction. Until it is committed or
// rolled back every mutating call joins it. Returns TX_MISUSE if one is
// already open.
func (db *DB) BeginTransaction(ctx context.Context) (err error) {
	defer db.observe("begin_transaction", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("begin"); err != nil {
		return err
	}
	if db.inTx {
		return engine.Errorf(engine.ErrCodeTxMisuse, "begin", "transaction already active")
	}
	if err := db.backend.Run(ctx, "BEGIN"); err != nil {
		return err
	}
	db.inTx = true
	return nil
}

// CommitTransaction commits the explicit transaction and persists.
// Returns TX_MISUSE if none is open.
func (db *DB) CommitTransaction(ctx context.Context) (err error) {
	defer db.observe("commit_transaction", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("commit"); err != nil {
		return err
	}
	if !db.inTx {
		return engine.Errorf(engine.ErrCodeTxMisuse, "commit", "no active transaction")
	}

	db.inTx = false
	if err := db.backend.Run(ctx, "COMMIT"); err != nil {
		if rbErr := db.backend.Run(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
			db.logger.Debug("rollback after failed commit", "error", rbErr)
		}
		return err
	}
	return db.backend.Persist(ctx)
}

// RollbackTransaction discards the explicit transaction.
// Returns TX_MISUSE if none is open.
func (db *DB) RollbackTransaction(ctx context.Context) (err error) {
	defer db.observe("rollback_transaction", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("rollback"); err != nil {
		return err
	}
	if !db.inTx {
		return engine.Errorf(engine.ErrCodeTxMisuse, "rollback", "no active transaction")
	}
	db.inTx = false
	// Rollback is cleanup; it runs even when the caller's ctx is done.
	return db.backend.Run(context.WithoutCancel(ctx), "ROLLBACK")
}

// InTransaction reports whether a BeginTransaction is open.
func (db *DB) InTransaction() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.inTx
}

// ExportData returns the committed database image.
func (db *DB) ExportData(ctx context.Context) (image []byte, err error) {
	defer db.observe("export_data", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkNoTx("export"); err != nil {
		return nil, err
	}
	return db.backend.Export(ctx)
}

// ImportData replaces the whole database with image. The image is validated
// before anything is replaced.
func (db *DB) ImportData(ctx context.Context, image []byte) (err error) {
	defer db.observe("import_data", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkNoTx("import"); err != nil {
		return err
	}
	return db.backend.Import(ctx, image)
}

// CreateBackup snapshots the committed state and returns the backup id.
func (db *DB) CreateBackup(ctx context.Context) (id string, err error) {
	defer db.observe("create_backup", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkNoTx("create backup"); err != nil {
		return "", err
	}
	return db.backend.CreateBackup(ctx)
}

// ListBackups returns backup ids, newest first.
func (db *DB) ListBackups(ctx context.Context) (ids []string, err error) {
	defer db.observe("list_backups", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen("list backups"); err != nil {
		return nil, err
	}
	return db.backend.ListBackups(ctx)
}

// RestoreFromBackup replaces the live state with a backup. An unknown id is
// a BACKUP_NOT_FOUND error and nothing changes.
func (db *DB) RestoreFromBackup(ctx context.Context, id string) (err error) {
	defer db.observe("restore_backup", time.Now(), &err)
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkNoTx("restore"); err != nil {
		return err
	}
	return db.backend.RestoreFromBackup(ctx, id)
}

// Close rolls back an open explicit transaction and closes the backend.
// Calling Close twice is a no-op.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if db.inTx {
		db.inTx = false
		if err := db.backend.Run(context.Background(), "ROLLBACK"); err != nil {
			db.logger.Warn("rollback on close failed", "error", err)
		}
	}
	return db.backend.Close()
}
