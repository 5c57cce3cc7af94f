package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/notegraph/internal/host"
	"github.com/roach88/notegraph/internal/metrics"
	"github.com/roach88/notegraph/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database    string
	BackupsDir  string
	MetricsAddr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the host process for the resident platform",
		Long: `Serve a file-backed SQLite database over a Unix socket.

Resident clients (--platform resident) send their queries, backups and
restores to this process. The database path comes from --db, then
storage_path in the config, then ~/.notegraph/graph.db.

Example:
  notegraph serve --db ./graph.db --socket /tmp/notegraph.sock --metrics-addr :9464`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite database")
	cmd.Flags().StringVar(&opts.BackupsDir, "backups", "", "backup directory (default: next to the database)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.StoragePath
	}
	if dbPath == "" {
		dbPath = filepath.Join(defaultDataDir(), "graph.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return WrapExitError(ExitCommandError, "failed to create database directory", err)
	}
	backupsDir := opts.BackupsDir
	if backupsDir == "" {
		backupsDir = cfg.BackupsDir
	}

	logger.Info("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srv := host.NewServer(st, host.ServerOptions{
		SocketPath: cfg.SocketPath,
		BackupsDir: backupsDir,
		Observe:    m.ObserveRequest,
		Logger:     logger,
	})

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx)
	})

	if opts.MetricsAddr != "" {
		ln, err := net.Listen("tcp", opts.MetricsAddr)
		if err != nil {
			stop()
			g.Wait()
			return WrapExitError(ExitCommandError, "failed to listen for metrics", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		httpSrv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		logger.Info("serving metrics", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		select {
		case <-srv.Ready():
			fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", srv.SocketPath())
		case <-ctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "host error", err)
	}
	logger.Info("host stopped")
	return nil
}
