package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/notegraph/internal/engine"
	"github.com/roach88/notegraph/internal/store"
)

// shutdownTimeout bounds how long Serve waits for handlers after cancellation.
const shutdownTimeout = 5 * time.Second

// ServerOptions configures a Server.
type ServerOptions struct {
	// SocketPath is where Serve listens. Defaults to DefaultSocketPath().
	SocketPath string

	// BackupsDir holds graph-<nanos>.db snapshots. Defaults to a "backups"
	// directory next to the database file.
	BackupsDir string

	// Now stamps backup file names. Defaults to time.Now.
	Now func() time.Time

	// Observe, if set, is called once per handled request with the
	// request method, its duration and its error (nil on success).
	Observe func(method string, d time.Duration, err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server serves a file-backed store over a Unix domain socket.
//
// Requests from all connections are executed one at a time against the
// store's single connection, so a BEGIN sent by one client spans the
// statements that follow it.
type Server struct {
	db         *store.Store
	socketPath string
	backupsDir string
	now        func() time.Time
	observe    func(method string, d time.Duration, err error)
	logger     *slog.Logger

	mu        sync.Mutex // serializes Handle
	lastStamp int64
	txOpen    bool
	txOwner   net.Conn // connection that sent the open BEGIN; nil for Handle

	wg     sync.WaitGroup
	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	ready  chan struct{}
}

// NewServer creates a server for db. The caller keeps ownership of db.
func NewServer(db *store.Store, opts ServerOptions) *Server {
	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath()
	}
	if opts.BackupsDir == "" {
		opts.BackupsDir = filepath.Join(filepath.Dir(db.Path()), "backups")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		db:         db,
		socketPath: opts.SocketPath,
		backupsDir: opts.BackupsDir,
		now:        opts.Now,
		observe:    opts.Observe,
		logger:     opts.Logger,
		ready:      make(chan struct{}),
	}
}

// SocketPath returns the path Serve listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Ready is closed once Serve is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Serve accepts connections until ctx is cancelled.
// The socket file is removed on exit. On shutdown all client connections are
// closed so handlers unblock promptly.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	// Remove stale socket file
	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.socketPath, err)
	}

	// Owner-only: the socket grants full read/write access to the database.
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.conns = make(map[net.Conn]struct{})
	defer func() {
		ln.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
		s.connMu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
	}()

	s.logger.Info("host listening", "path", s.socketPath, "db", s.db.Path())
	close(s.ready)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.waitHandlers()
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
			s.connMu.Lock()
			delete(s.conns, conn)
			s.connMu.Unlock()
		}()
	}
}

func (s *Server) waitHandlers() {
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		s.logger.Warn("shutdown timeout, abandoning connections")
	}
}

// handleConn reads requests from a client connection and writes responses.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer s.release(conn)
	reader := bufio.NewReader(conn)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, failure("", engine.Errorf(engine.ErrCodeQueryFailed, "decode", "invalid request: %v", err)))
			continue
		}

		resp := s.dispatch(ctx, conn, req)
		s.writeResponse(conn, resp)

		if req.Method == MethodClose {
			return
		}
	}
}

// writeResponse marshals and writes a response to the connection.
func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "id", resp.ID, "error", err)
		data, _ = json.Marshal(failure(resp.ID, engine.Wrap(engine.ErrCodeQueryFailed, "encode response", err)))
	}
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		s.logger.Debug("write response failed", "id", resp.ID, "error", err)
	}
}

func failure(id string, err error) Response {
	code := engine.CodeOf(err)
	if code == "" {
		code = engine.ErrCodeQueryFailed
	}
	return Response{OK: false, ID: id, Error: &ErrorInfo{Code: code, Message: err.Error()}}
}

// Handle executes a single request and returns its response.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	return s.dispatch(ctx, nil, req)
}

func (s *Server) dispatch(ctx context.Context, conn net.Conn, req Request) Response {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	resp := s.handle(ctx, req)
	if s.observe != nil {
		s.observe(req.Method, time.Since(start), resp.Err())
	}
	if req.Method == MethodQuery {
		s.trackTx(ctx, conn)
	}
	return resp
}

// trackTx records which connection opened the store's transaction.
func (s *Server) trackTx(ctx context.Context, conn net.Conn) {
	inTx, err := s.db.InTransaction(context.WithoutCancel(ctx))
	switch {
	case err != nil || !inTx:
		s.txOpen, s.txOwner = false, nil
	case !s.txOpen:
		s.txOpen, s.txOwner = true, conn
	}
}

// release rolls back a transaction left open by conn, which has gone away.
// Otherwise every other client would be stuck behind it.
func (s *Server) release(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.txOpen || s.txOwner != conn {
		return
	}
	s.txOpen, s.txOwner = false, nil

	ctx := context.Background()
	if inTx, err := s.db.InTransaction(ctx); err != nil || !inTx {
		return
	}
	if err := s.db.Rollback(ctx); err != nil {
		s.logger.Error("rollback abandoned transaction", "error", err)
		return
	}
	s.logger.Warn("rolled back transaction abandoned by client")
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	switch req.Method {
	case MethodPing, MethodClose:
		return Response{OK: true, ID: req.ID}

	case MethodQuery:
		if req.NoRows {
			if err := s.db.Run(ctx, req.SQL, req.Params...); err != nil {
				return failure(req.ID, err)
			}
			return Response{OK: true, ID: req.ID}
		}
		rows, err := s.db.Execute(ctx, req.SQL, req.Params...)
		if err != nil {
			return failure(req.ID, err)
		}
		return Response{OK: true, ID: req.ID, Rows: rows}

	case MethodBackup:
		path, err := s.backup(ctx)
		if err != nil {
			return failure(req.ID, err)
		}
		return Response{OK: true, ID: req.ID, Value: path}

	case MethodRestore:
		if err := s.restore(ctx, req.Path); err != nil {
			return failure(req.ID, err)
		}
		return Response{OK: true, ID: req.ID}

	case MethodListBackups:
		paths, err := s.listBackups()
		if err != nil {
			return failure(req.ID, err)
		}
		return Response{OK: true, ID: req.ID, Values: paths}

	case MethodExport:
		image, err := s.db.Export(ctx)
		if err != nil {
			return failure(req.ID, err)
		}
		return Response{OK: true, ID: req.ID, Image: image}

	case MethodImport:
		if err := s.db.Replace(ctx, req.Image); err != nil {
			return failure(req.ID, err)
		}
		return Response{OK: true, ID: req.ID}

	default:
		return failure(req.ID, engine.Errorf(engine.ErrCodeQueryFailed, "dispatch", "unknown method: %s", req.Method))
	}
}

// backup writes graph-<nanos>.db into the backups directory and returns its path.
func (s *Server) backup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.backupsDir, 0o700); err != nil {
		return "", engine.Wrap(engine.ErrCodeQueryFailed, "backup", err)
	}

	ns := s.now().UnixNano()
	if ns <= s.lastStamp {
		ns = s.lastStamp + 1
	}
	s.lastStamp = ns

	path := filepath.Join(s.backupsDir, fmt.Sprintf("graph-%020d.db", ns))
	if err := s.db.BackupTo(ctx, path); err != nil {
		return "", err
	}
	s.logger.Info("created backup", "path", path)
	return path, nil
}

// listBackups returns backup paths, newest first.
func (s *Server) listBackups() ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(s.backupsDir, "graph-*.db"))
	if err != nil {
		return nil, engine.Wrap(engine.ErrCodeQueryFailed, "list backups", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	if paths == nil {
		paths = []string{}
	}
	return paths, nil
}

// restore replaces the live database with the backup at path. Only files in
// the backups directory are accepted.
func (s *Server) restore(ctx context.Context, path string) error {
	clean := filepath.Clean(path)
	if path == "" || filepath.Dir(clean) != filepath.Clean(s.backupsDir) {
		return engine.Errorf(engine.ErrCodeBackupNotFound, "restore", "unknown backup %q", path)
	}

	image, err := os.ReadFile(clean)
	if errors.Is(err, os.ErrNotExist) {
		return &engine.Error{Code: engine.ErrCodeBackupNotFound, Op: "restore", Message: fmt.Sprintf("unknown backup %q", path), Err: err}
	}
	if err != nil {
		return engine.Wrap(engine.ErrCodeQueryFailed, "restore", err)
	}

	if err := s.db.Replace(ctx, image); err != nil {
		return err
	}
	s.logger.Info("restored backup", "path", clean)
	return nil
}
