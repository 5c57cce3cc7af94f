package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/notegraph/internal/config"
	"github.com/roach88/notegraph/internal/engine"
	"github.com/roach88/notegraph/internal/graph"
)

// defaultDataDir is where the CLI keeps its data when no path is configured.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".notegraph"
	}
	return filepath.Join(home, ".notegraph")
}

// loadConfig reads --config if given, applies flag overrides and defaults,
// and validates the result.
//
// Unlike the library default, the CLI never runs the sandboxed platform in
// memory: each invocation is a separate process, so an empty wasm_path
// becomes a blob store under ~/.notegraph.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg := config.Config{}
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
		}
		cfg = loaded
	}

	if opts.Platform != "" {
		cfg.Platform = engine.Platform(opts.Platform)
	}
	if opts.WasmPath != "" {
		cfg.WasmPath = opts.WasmPath
	}
	if opts.SocketPath != "" {
		cfg.SocketPath = opts.SocketPath
	}
	cfg.ApplyDefaults()
	if cfg.Platform == engine.PlatformSandboxed && cfg.WasmPath == "" {
		cfg.WasmPath = filepath.Join(defaultDataDir(), "blobs")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// newLogger writes text logs to w at the configured level, or debug with
// --verbose.
func newLogger(cfg config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// withDB opens the configured database, runs fn and closes it.
func withDB(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, db *graph.DB, out *OutputFormatter) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	out := formatter(cmd, opts)
	ctx := commandContext(cmd)

	out.Verbosef("opening %s database", cfg.Platform)
	db, err := graph.Open(ctx, cfg, graph.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	runErr := fn(ctx, db, out)
	closeErr := db.Close()
	if runErr != nil {
		var exitErr *ExitError
		if errors.As(runErr, &exitErr) {
			return runErr
		}
		return WrapExitError(exitCodeFor(runErr), cmd.CommandPath()+" failed", runErr)
	}
	if closeErr != nil {
		return WrapExitError(ExitFailure, "failed to close database", closeErr)
	}
	return nil
}

// parseProperties decodes a --props JSON object. Empty means none.
func parseProperties(raw string) (graph.Properties, error) {
	if raw == "" {
		return nil, nil
	}
	var props graph.Properties
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --props JSON: %v", err))
	}
	if props == nil {
		props = graph.Properties{}
	}
	return props, nil
}
