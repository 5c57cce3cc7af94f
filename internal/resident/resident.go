// Package resident implements the host-resident backend. It owns no data:
// every Engine method is forwarded to a host process through a host.Channel.
package resident

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/notegraph/internal/engine"
	"github.com/roach88/notegraph/internal/host"
)

// Options configures a Backend.
type Options struct {
	// Channel reaches the host process. If nil, SocketPath is dialed.
	// The Backend takes ownership and closes it on Close.
	Channel host.Channel

	// SocketPath is the host socket used when Channel is nil.
	SocketPath string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Backend implements engine.Backend by proxying to a host process.
type Backend struct {
	ch     host.Channel
	logger *slog.Logger

	mu     sync.Mutex // guards inTx and closed
	inTx   bool
	closed bool
}

var _ engine.Backend = (*Backend)(nil)

// Open connects to the host and checks that it answers.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ch := opts.Channel
	if ch == nil {
		if opts.SocketPath == "" {
			return nil, engine.Errorf(engine.ErrCodeInitFailed, "open resident", "socket path is required")
		}
		client, err := host.Dial(ctx, opts.SocketPath)
		if err != nil {
			return nil, err
		}
		ch = client
	}

	if _, err := ch.Call(ctx, host.Request{Method: host.MethodPing}); err != nil {
		ch.Close()
		return nil, &engine.Error{Code: engine.ErrCodeInitFailed, Op: "open resident", Message: "host did not answer", Err: err}
	}

	return &Backend{ch: ch, logger: opts.Logger}, nil
}

// Platform returns engine.PlatformResident.
func (b *Backend) Platform() engine.Platform {
	return engine.PlatformResident
}

func (b *Backend) call(ctx context.Context, req host.Request) (host.Response, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return host.Response{}, engine.Errorf(engine.ErrCodeClosed, req.Method, "backend is closed")
	}
	return b.ch.Call(ctx, req)
}

// Execute runs a statement on the host and returns its rows.
func (b *Backend) Execute(ctx context.Context, query string, args ...any) ([]engine.Row, error) {
	resp, err := b.call(ctx, host.Request{Method: host.MethodQuery, SQL: query, Params: args})
	if err != nil {
		return nil, err
	}
	if resp.Rows == nil {
		return []engine.Row{}, nil
	}
	return resp.Rows, nil
}

// Run executes a statement on the host without returning rows.
func (b *Backend) Run(ctx context.Context, query string, args ...any) error {
	_, err := b.call(ctx, host.Request{Method: host.MethodQuery, SQL: query, Params: args, NoRows: true})
	return err
}

// Transaction sends BEGIN, runs fn, then sends COMMIT, or ROLLBACK if fn fails.
func (b *Backend) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.inTx {
		b.mu.Unlock()
		return engine.Errorf(engine.ErrCodeTxMisuse, "begin", "transaction already active")
	}
	b.inTx = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inTx = false
		b.mu.Unlock()
	}()

	if err := b.Run(ctx, "BEGIN"); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		if rbErr := b.rollback(ctx); rbErr != nil {
			b.logger.Error("rollback failed", "error", rbErr)
			return errors.Join(err, rbErr)
		}
		return err
	}

	if err := b.Run(ctx, "COMMIT"); err != nil {
		// A failed COMMIT can leave the host transaction open.
		if rbErr := b.rollback(ctx); rbErr != nil {
			b.logger.Debug("rollback after failed commit", "error", rbErr)
		}
		return err
	}
	return nil
}

// rollback sends ROLLBACK even when ctx has been cancelled.
func (b *Backend) rollback(ctx context.Context) error {
	return b.Run(context.WithoutCancel(ctx), "ROLLBACK")
}

// Export returns the host's committed database image.
func (b *Backend) Export(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	inTx := b.inTx
	b.mu.Unlock()
	if inTx {
		return nil, engine.Errorf(engine.ErrCodeTxMisuse, "export", "transaction in progress")
	}

	resp, err := b.call(ctx, host.Request{Method: host.MethodExport})
	if err != nil {
		return nil, err
	}
	return resp.Image, nil
}

// Persist is a no-op: the host process is authoritative.
func (b *Backend) Persist(ctx context.Context) error {
	return nil
}

// Import replaces the host's database with image.
func (b *Backend) Import(ctx context.Context, image []byte) error {
	_, err := b.call(ctx, host.Request{Method: host.MethodImport, Image: image})
	return err
}

// CreateBackup asks the host to snapshot the database and returns the
// snapshot path.
func (b *Backend) CreateBackup(ctx context.Context) (string, error) {
	resp, err := b.call(ctx, host.Request{Method: host.MethodBackup})
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// ListBackups returns the host's snapshot paths, newest first.
func (b *Backend) ListBackups(ctx context.Context) ([]string, error) {
	resp, err := b.call(ctx, host.Request{Method: host.MethodListBackups})
	if err != nil {
		return nil, err
	}
	if resp.Values == nil {
		return []string{}, nil
	}
	return resp.Values, nil
}

// RestoreFromBackup asks the host to replace its database with the snapshot
// at path.
func (b *Backend) RestoreFromBackup(ctx context.Context, path string) error {
	_, err := b.call(ctx, host.Request{Method: host.MethodRestore, Path: path})
	return err
}

// IsOpen reports whether Close has not been called.
func (b *Backend) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Close tells the host this client is done and releases the channel.
// The host keeps running. Calling Close twice is a no-op.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if _, err := b.ch.Call(context.Background(), host.Request{Method: host.MethodClose}); err != nil {
		b.logger.Debug("close request failed", "error", err)
	}
	return b.ch.Close()
}
