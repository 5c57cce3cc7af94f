package graph

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/notegraph/internal/config"
	"github.com/roach88/notegraph/internal/engine"
)

// Pool shares one DB per storage location between callers. Concurrent
// Acquire calls for the same location open it once.
type Pool struct {
	opts  []Option
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	db   *DB
	refs int
}

// Lease is a counted reference to a pooled DB.
type Lease struct {
	pool     *Pool
	key      string
	entry    *poolEntry
	mu       sync.Mutex
	released bool
}

// NewPool returns an empty pool. opts are applied to every DB it opens.
func NewPool(opts ...Option) *Pool {
	return &Pool{opts: opts, entries: make(map[string]*poolEntry)}
}

func poolKey(cfg config.Config) string {
	cfg.ApplyDefaults()
	location := cfg.WasmPath
	if cfg.Platform == engine.PlatformResident {
		location = cfg.SocketPath
	}
	return string(cfg.Platform) + "|" + location
}

// Acquire returns a lease on the DB for cfg, opening it if needed.
// An in-memory sandboxed config (empty wasm_path) is shared like any other.
func (p *Pool) Acquire(ctx context.Context, cfg config.Config) (*Lease, error) {
	key := poolKey(cfg)
	for {
		p.mu.Lock()
		if e, ok := p.entries[key]; ok {
			e.refs++
			p.mu.Unlock()
			return &Lease{pool: p, key: key, entry: e}, nil
		}
		p.mu.Unlock()

		v, err, _ := p.group.Do(key, func() (any, error) {
			p.mu.Lock()
			if e, ok := p.entries[key]; ok {
				p.mu.Unlock()
				return e, nil
			}
			p.mu.Unlock()

			db, err := Open(ctx, cfg, p.opts...)
			if err != nil {
				return nil, err
			}
			e := &poolEntry{db: db}
			p.mu.Lock()
			p.entries[key] = e
			p.mu.Unlock()
			return e, nil
		})
		if err != nil {
			return nil, err
		}

		// The entry may have been released and closed between Do returning
		// and this lock; take a reference only if it is still current.
		e := v.(*poolEntry)
		p.mu.Lock()
		if p.entries[key] == e {
			e.refs++
			p.mu.Unlock()
			return &Lease{pool: p, key: key, entry: e}, nil
		}
		p.mu.Unlock()
	}
}

// Len returns the number of open DBs.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// DB returns the leased database.
func (l *Lease) DB() *DB {
	return l.entry.db
}

// Release drops the reference. The last release closes the DB.
// Releasing twice is an error.
func (l *Lease) Release() error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return errors.New("lease already released")
	}
	l.released = true
	l.mu.Unlock()

	p := l.pool
	p.mu.Lock()
	l.entry.refs--
	if l.entry.refs > 0 {
		p.mu.Unlock()
		return nil
	}
	if p.entries[l.key] == l.entry {
		delete(p.entries, l.key)
	}
	p.mu.Unlock()
	return l.entry.db.Close()
}
