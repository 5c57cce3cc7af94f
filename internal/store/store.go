package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/roach88/notegraph/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

var (
	tableNames = []string{"nodes", "node_properties", "relationships", "relationship_properties"}
	indexNames = []string{
		"idx_nodes_type",
		"idx_relationships_type",
		"idx_relationships_source",
		"idx_relationships_target",
	}
)

// sqliteHeader is the magic string at offset 0 of every database image.
var sqliteHeader = []byte("SQLite format 3\x00")

// Store is a single-connection SQLite engine.
// It implements engine.Engine.
type Store struct {
	mu     sync.Mutex // guards db swaps during Replace
	db     *sql.DB
	path   string // empty for in-memory stores
	closed atomic.Bool
}

var _ engine.Engine = (*Store)(nil)

// Open creates or opens a file-backed SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeInitFailed, "open "+path, err)
	}
	return &Store{db: db, path: path}, nil
}

// OpenMemory creates an empty in-memory database with the schema applied.
// The single connection is kept alive for the lifetime of the Store; closing
// it discards the data.
func OpenMemory() (*Store, error) {
	db, err := openDB("")
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeInitFailed, "open memory", err)
	}
	return &Store{db: db}, nil
}

func dsn(path string) string {
	if path == "" {
		return "file::memory:?_foreign_keys=on"
	}
	return path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL"
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, and BEGIN/COMMIT sent
	// through Run must land on the same connection as the statements between
	// them. An in-memory database also lives exactly as long as its connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := applyPragmas(db, path == ""); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB, memory bool) error {
	pragmas := []string{"PRAGMA foreign_keys = ON"}
	if !memory {
		pragmas = append(pragmas,
			"PRAGMA journal_mode = WAL",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA busy_timeout = 5000",
		)
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables and indexes if they don't exist.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// SchemaSQL returns the schema statements applied on every open.
func SchemaSQL() string {
	return schemaSQL
}

// Tables returns the names of the schema tables.
func Tables() []string {
	return append([]string(nil), tableNames...)
}

// Indexes returns the names of the schema indexes.
func Indexes() []string {
	return append([]string(nil), indexNames...)
}

// Path returns the database file path, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

// IsOpen reports whether the store has not been closed.
func (s *Store) IsOpen() bool {
	return !s.closed.Load()
}

// Close closes the database connection. Calling Close more than once is a no-op.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// handle returns the current database handle or a CLOSED error.
func (s *Store) handle(op string) (*sql.DB, error) {
	if s.closed.Load() {
		return nil, engine.Errorf(engine.ErrCodeClosed, op, "store is closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, engine.Errorf(engine.ErrCodeClosed, op, "store is closed")
	}
	return s.db, nil
}

// Execute runs a statement and returns all result rows.
// Returns an empty slice (not nil) when the statement yields no rows.
func (s *Store) Execute(ctx context.Context, query string, args ...any) ([]engine.Row, error) {
	db, err := s.handle("execute")
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, "execute", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, "execute: columns", err)
	}

	result := []engine.Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, engine.Wrap(engine.ErrCodeQueryFailed, "execute: scan", err)
		}
		row := make(engine.Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, "execute: iterate", err)
	}

	return result, nil
}

// normalizeValue maps driver values onto the engine.Row value set.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}

// Run executes a statement that produces no result rows.
func (s *Store) Run(ctx context.Context, query string, args ...any) error {
	db, err := s.handle("run")
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return engine.Wrap(engine.ErrCodeQueryFailed, "run", err)
	}
	return nil
}

// Transaction wraps fn in BEGIN/COMMIT, rolling back if fn returns an error.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.Begin(ctx); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		if rbErr := s.abort(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := s.Commit(ctx); err != nil {
		if rbErr := s.abort(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	return nil
}

// abort rolls back the open transaction, if any. It ignores cancellation of
// ctx: a transaction left open would block every later write.
func (s *Store) abort(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	// Some SQLite errors (e.g. SQLITE_FULL) roll back on their own.
	inTx, err := s.InTransaction(ctx)
	if err != nil || !inTx {
		return err
	}
	return s.Run(ctx, "ROLLBACK")
}

// Begin opens a transaction. Returns TX_MISUSE if one is already open.
func (s *Store) Begin(ctx context.Context) error {
	inTx, err := s.InTransaction(ctx)
	if err != nil {
		return err
	}
	if inTx {
		return engine.Errorf(engine.ErrCodeTxMisuse, "begin", "transaction already active")
	}
	return s.Run(ctx, "BEGIN")
}

// Commit commits the open transaction. Returns TX_MISUSE if none is open.
func (s *Store) Commit(ctx context.Context) error {
	return s.finish(ctx, "COMMIT")
}

// Rollback aborts the open transaction. Returns TX_MISUSE if none is open.
func (s *Store) Rollback(ctx context.Context) error {
	return s.finish(ctx, "ROLLBACK")
}

func (s *Store) finish(ctx context.Context, stmt string) error {
	inTx, err := s.InTransaction(ctx)
	if err != nil {
		return err
	}
	if !inTx {
		return engine.Errorf(engine.ErrCodeTxMisuse, stmt, "no active transaction")
	}
	return s.Run(ctx, stmt)
}

// InTransaction reports whether the connection is outside autocommit mode.
func (s *Store) InTransaction(ctx context.Context) (bool, error) {
	var inTx bool
	err := s.raw(ctx, "transaction state", func(c *sqlite3.SQLiteConn) error {
		inTx = !c.AutoCommit()
		return nil
	})
	return inTx, err
}

// raw runs fn against the underlying driver connection.
func (s *Store) raw(ctx context.Context, op string, fn func(c *sqlite3.SQLiteConn) error) error {
	db, err := s.handle(op)
	if err != nil {
		return err
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		return engine.Wrap(engine.ErrCodeQueryFailed, op, err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*sqlite3.SQLiteConn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		return fn(sc)
	})
	return engine.Wrap(engine.ErrCodeQueryFailed, op, err)
}

// Export serializes the committed database image.
// Returns TX_MISUSE while a transaction is open.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	var image []byte
	err := s.raw(ctx, "export", func(c *sqlite3.SQLiteConn) error {
		if !c.AutoCommit() {
			return engine.Errorf(engine.ErrCodeTxMisuse, "export", "transaction in progress")
		}
		b, err := c.Serialize("main")
		if err != nil {
			return err
		}
		image = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	toRollbackJournal(image)
	return image, nil
}

// toRollbackJournal rewrites the file format version bytes (offsets 18 and 19)
// from WAL (2) to legacy (1). A memory database cannot open a WAL image.
func toRollbackJournal(image []byte) {
	if len(image) < 100 {
		return
	}
	if image[18] == 2 {
		image[18] = 1
	}
	if image[19] == 2 {
		image[19] = 1
	}
}

// ValidateImage checks that image is a loadable SQLite database without
// touching the live store.
func ValidateImage(ctx context.Context, image []byte) error {
	if len(image) < 100 || !bytes.HasPrefix(image, sqliteHeader) {
		return engine.Errorf(engine.ErrCodeQueryFailed, "validate image", "not a SQLite database image (%d bytes)", len(image))
	}

	scratch, err := OpenMemory()
	if err != nil {
		return err
	}
	defer scratch.Close()

	if err := scratch.deserialize(ctx, image); err != nil {
		return err
	}

	rows, err := scratch.Execute(ctx, "PRAGMA quick_check")
	if err != nil {
		return err
	}
	if len(rows) == 0 || rows[0].String("quick_check") != "ok" {
		return engine.Errorf(engine.ErrCodeQueryFailed, "validate image", "integrity check failed")
	}
	return nil
}

func (s *Store) deserialize(ctx context.Context, image []byte) error {
	buf := append([]byte(nil), image...)
	toRollbackJournal(buf)
	return s.raw(ctx, "deserialize", func(c *sqlite3.SQLiteConn) error {
		if !c.AutoCommit() {
			return engine.Errorf(engine.ErrCodeTxMisuse, "deserialize", "transaction in progress")
		}
		return c.Deserialize(buf, "main")
	})
}

// Replace swaps the live database for image. The image is validated first;
// on any validation error the live database is left untouched. The schema is
// re-applied and re-validated before Replace returns.
func (s *Store) Replace(ctx context.Context, image []byte) error {
	if err := ValidateImage(ctx, image); err != nil {
		return err
	}

	inTx, err := s.InTransaction(ctx)
	if err != nil {
		return err
	}
	if inTx {
		return engine.Errorf(engine.ErrCodeTxMisuse, "replace", "transaction in progress")
	}

	if s.path == "" {
		if err := s.deserialize(ctx, image); err != nil {
			return err
		}
	} else if err := s.replaceFile(image); err != nil {
		return engine.Wrap(engine.ErrCodeInitFailed, "replace "+s.path, err)
	}

	if err := s.Run(ctx, schemaSQL); err != nil {
		return err
	}
	return s.ValidateSchema(ctx)
}

// reopenFile opens the database file during Replace. Tests swap it to
// simulate a failed reopen.
var reopenFile = openDB

// replaceFile closes the database, swaps image in for the file and reopens
// it. If anything fails after the close, the previous file is put back and
// reopened: the store always ends up on either the old or the new image.
func (s *Store) replaceFile(image []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".restore"
	prev := s.path + ".previous"
	if err := os.WriteFile(tmp, image, 0o600); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	defer os.Remove(tmp)

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	s.db = nil

	// Closing the last connection checkpoints the WAL into the main file.
	if err := removeSidecars(s.path); err != nil {
		return s.reopenLocked(err)
	}
	if err := os.Rename(s.path, prev); err != nil {
		return s.reopenLocked(fmt.Errorf("move previous image aside: %w", err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return s.putBackLocked(prev, fmt.Errorf("install image: %w", err))
	}

	db, err := reopenFile(s.path)
	if err != nil {
		return s.putBackLocked(prev, err)
	}
	s.db = db
	os.Remove(prev)
	return nil
}

// putBackLocked reinstates prev as the database file and reopens it.
// It returns cause, annotated if the old file could not be brought back.
func (s *Store) putBackLocked(prev string, cause error) error {
	if err := removeSidecars(s.path); err != nil {
		return fmt.Errorf("%w (restore previous image: %v)", cause, err)
	}
	if err := os.Rename(prev, s.path); err != nil {
		return fmt.Errorf("%w (restore previous image: %v)", cause, err)
	}
	return s.reopenLocked(cause)
}

// reopenLocked opens s.path again after a failed swap and returns cause.
func (s *Store) reopenLocked(cause error) error {
	db, err := openDB(s.path)
	if err != nil {
		return fmt.Errorf("%w (reopen previous image: %v)", cause, err)
	}
	s.db = db
	return cause
}

func removeSidecars(path string) error {
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", suffix, err)
		}
	}
	return nil
}

// BackupTo writes a consistent copy of the database to dest using VACUUM INTO.
// dest must not exist.
func (s *Store) BackupTo(ctx context.Context, dest string) error {
	if err := s.Run(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("backup to %s: %w", dest, err)
	}
	return nil
}

// ValidateSchema verifies every schema table and index exists.
func (s *Store) ValidateSchema(ctx context.Context) error {
	rows, err := s.Execute(ctx, `
		SELECT name FROM sqlite_master
		WHERE type IN ('table', 'index')
	`)
	if err != nil {
		return err
	}

	present := make(map[string]bool, len(rows))
	for _, row := range rows {
		present[row.String("name")] = true
	}

	for _, name := range append(Tables(), Indexes()...) {
		if !present[name] {
			return engine.Errorf(engine.ErrCodeInitFailed, "validate schema", "missing %q", name)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	rows, err := s.Execute(context.Background(), fmt.Sprintf("PRAGMA %s", name))
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s returned no rows", name)
	}
	value := fmt.Sprint(rows[0][name])
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
