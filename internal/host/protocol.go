// Package host is the process boundary of the resident backend.
//
// A Server owns the real file-backed database and answers newline-delimited
// JSON requests on a Unix socket. A Client forwards requests from another
// process. Errors cross the boundary as {code, message} and are rebuilt as
// *engine.Error on the client side.
package host

import (
	"os"
	"path/filepath"

	"github.com/roach88/notegraph/internal/engine"
)

// Request is sent from a Client to the Server.
type Request struct {
	Method string `json:"method"`
	ID     string `json:"id"`
	SQL    string `json:"sql,omitempty"`
	Params []any  `json:"params,omitempty"`
	NoRows bool   `json:"no_rows,omitempty"`
	Path   string `json:"path,omitempty"`
	Image  []byte `json:"image,omitempty"`
}

// Response is sent from the Server to a Client.
type Response struct {
	OK     bool         `json:"ok"`
	ID     string       `json:"id"`
	Rows   []engine.Row `json:"rows,omitempty"`
	Value  string       `json:"value,omitempty"`
	Values []string     `json:"values,omitempty"`
	Image  []byte       `json:"image,omitempty"`
	Error  *ErrorInfo   `json:"error,omitempty"`
}

// ErrorInfo is the structured error carried by a failed Response.
type ErrorInfo struct {
	Code    engine.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// Err returns the response's error as an *engine.Error, or nil on success.
func (r Response) Err() error {
	if r.OK {
		return nil
	}
	if r.Error == nil {
		return engine.Errorf(engine.ErrCodeQueryFailed, "host", "request failed without error details")
	}
	code := r.Error.Code
	if code == "" {
		code = engine.ErrCodeQueryFailed
	}
	return &engine.Error{Code: code, Op: "host", Message: r.Error.Message}
}

// Host protocol method constants.
const (
	MethodQuery       = "query"
	MethodBackup      = "backup"
	MethodRestore     = "restore"
	MethodListBackups = "list_backups"
	MethodExport      = "export"
	MethodImport      = "import"
	MethodPing        = "ping"
	MethodClose       = "close"
)

// DefaultSocketPath returns the default Unix socket path for the host process.
func DefaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/notegraph.sock"
	}
	return filepath.Join(home, ".notegraph", "notegraph.sock")
}
