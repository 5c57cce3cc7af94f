// Package config loads the database configuration.
//
// Configuration is YAML. After defaults are applied the result is validated
// against an embedded CUE schema, so an invalid enum value or a negative
// quota is rejected before any backend is opened.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/notegraph/internal/engine"
)

//go:embed schema.cue
var schemaCUE string

// Config selects and tunes a backend.
//
// Exactly one of StoragePath (resident) or WasmPath (sandboxed) is
// meaningful for a given Platform.
type Config struct {
	Platform    engine.Platform `yaml:"platform" json:"platform"`
	StoragePath string          `yaml:"storage_path,omitempty" json:"storage_path,omitempty"`
	WasmPath    string          `yaml:"wasm_path,omitempty" json:"wasm_path,omitempty"`
	SocketPath  string          `yaml:"socket_path,omitempty" json:"socket_path,omitempty"`
	BackupsDir  string          `yaml:"backups_dir,omitempty" json:"backups_dir,omitempty"`

	QuotaBytes    int64  `yaml:"quota_bytes" json:"quota_bytes"`
	KeepBackups   int    `yaml:"keep_backups" json:"keep_backups"`
	SnapshotCodec string `yaml:"snapshot_codec" json:"snapshot_codec"`
	PathPolicy    string `yaml:"path_policy" json:"path_policy"`
	Traversal     string `yaml:"traversal" json:"traversal"`
	LogLevel      string `yaml:"log_level" json:"log_level"`
}

// Default returns a sandboxed in-memory configuration.
func Default() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Platform == "" {
		c.Platform = engine.PlatformSandboxed
	}
	if c.KeepBackups == 0 {
		c.KeepBackups = 3
	}
	if c.SnapshotCodec == "" {
		c.SnapshotCodec = "zstd"
	}
	if c.PathPolicy == "" {
		c.PathPolicy = "simple"
	}
	if c.Traversal == "" {
		c.Traversal = "recursive"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads, defaults and validates a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the config against the CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := schema.Unify(ctx.Encode(c))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// Level maps LogLevel to a slog level. Unknown values map to info.
func (c Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Marshal renders the config as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
