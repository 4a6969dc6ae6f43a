// Command weavequery compiles grid filters, runs call queries against a
// trace server and resolves the refs embedded in the results.
//
// Logging:
//   - The root logger is built once, from config, before any command runs
//   - It is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"os"

	"weavequery/cmd/weavequery/cli"
)

var version = "dev"

func main() {
	root := cli.NewRootCommand(version, os.Stdin, os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
