// Package kvstore provides the key/value blob store behind the sandboxed backend.
//
// It plays the role a browser's key/value storage plays for an in-process
// database: opaque blobs under string keys, with a byte quota. Writes that
// would exceed the quota fail with ErrQuotaExceeded so that callers can prune
// and retry.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrQuotaExceeded is returned when a write would exceed the byte quota.
	ErrQuotaExceeded = errors.New("kvstore: quota exceeded")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("kvstore: closed")
)

// Store is a string-keyed blob store.
type Store interface {
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, replacing any previous blob.
	// Returns ErrQuotaExceeded if the write would exceed the quota.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Usage returns the number of bytes currently accounted against the quota.
	Usage() int64

	// Close releases the store.
	Close() error
}

// Options configures a BadgerStore.
type Options struct {
	// Dir is the directory for badger's files. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in memory. Useful for tests.
	InMemory bool

	// QuotaBytes caps the total size of keys plus values. Zero means unlimited.
	QuotaBytes int64

	// Logger receives badger's internal logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	quota  int64
	mu     sync.Mutex // serializes quota accounting with writes
	used   int64
	closed bool
}

var _ Store = (*BadgerStore)(nil)

// Open opens (or creates) a badger-backed blob store.
func Open(opts Options) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, fmt.Errorf("kvstore: Dir is required unless InMemory is set")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	badgerOpts := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLogger{logger.With("component", "badger")}).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open badger: %w", err)
	}

	s := &BadgerStore{db: db, quota: opts.QuotaBytes}
	if err := s.recount(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// recount computes the bytes in use by walking every key.
func (s *BadgerStore) recount() error {
	var used int64
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		it := txn.NewIterator(itOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			used += int64(len(item.Key())) + item.ValueSize()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("kvstore: recount usage: %w", err)
	}
	s.used = used
	return nil
}

// Get returns the blob stored under key.
func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("get %q: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key.
func (s *BadgerStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var next int64
	err := s.db.Update(func(txn *badger.Txn) error {
		var previous int64
		item, err := txn.Get([]byte(key))
		switch {
		case err == nil:
			previous = int64(len(key)) + item.ValueSize()
		case err != badger.ErrKeyNotFound:
			return err
		}

		next = s.used - previous + int64(len(key)) + int64(len(value))
		if s.quota > 0 && next > s.quota {
			return fmt.Errorf("put %q (%d bytes, %d of %d in use): %w",
				key, len(value), s.used, s.quota, ErrQuotaExceeded)
		}

		return txn.Set([]byte(key), value)
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		if errors.Is(err, badger.ErrTxnTooBig) {
			return fmt.Errorf("put %q: %w: %v", key, ErrQuotaExceeded, err)
		}
		return fmt.Errorf("kvstore: put %q: %w", key, err)
	}
	s.used = next
	return nil
}

// Delete removes key.
func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	var size int64
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		size = int64(len(key)) + item.ValueSize()
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("kvstore: delete %q: %w", key, err)
	}
	s.used -= size
	return nil
}

// Keys returns all keys with prefix in ascending order.
func (s *BadgerStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	keys := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		itOpts := badger.DefaultIteratorOptions
		itOpts.PrefetchValues = false
		itOpts.Prefix = []byte(prefix)
		it := txn.NewIterator(itOpts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: keys %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Usage returns the accounted bytes.
func (s *BadgerStore) Usage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Close closes the underlying badger database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *BadgerStore) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// badgerLogger adapts slog to badger.Logger. Badger is chatty at info level,
// so info is demoted to debug.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(fmt.Sprintf(format, args...))
}
