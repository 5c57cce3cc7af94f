// Command notegraph manages a typed property graph stored in SQLite.
package main

import (
	"os"

	"github.com/roach88/notegraph/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
