// Command repeatfs mounts a passthrough filesystem with provenance
// tracking and lazily-materialized derived files, and provides the
// supporting replicate/shutdown/generate/plugins/version subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/repeatfs/repeatfs/internal/errs"
)

// configFileName is the configuration file repeatfs looks for inside a
// mount's config directory, matching original_source/repeatfs's
// CONFIG_FILE.
const configFileName = "repeatfs.conf"

func main() {
	parser := flags.NewNamedParser("repeatfs", flags.Default)
	parser.ShortDescription = "passthrough filesystem with provenance tracking"

	if _, err := parser.AddCommand("mount", "mount a repeatfs filesystem", "", &mountCmd{}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("replicate", "replay a captured provenance document", "", &replicateCmd{}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("shutdown", "unmount an active repeatfs mount", "", &shutdownCmd{}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("generate", "write a default configuration file", "", &generateCmd{}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("plugins", "list registered plugins", "", &pluginsCmd{}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("version", "print the repeatfs version", "", &versionCmd{}); err != nil {
		panic(err)
	}

	_, err := parser.Parse()
	os.Exit(exitCode(err))
}

// exitCode maps a parse/Execute error to the CLI's exit codes: 0 success,
// 1 usage, 2 runtime failure, 3 verification warnings present.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	if ferr, ok := err.(*flags.Error); ok {
		if ferr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, ferr.Message)
			return 0
		}
		fmt.Fprintln(os.Stderr, ferr.Message)
		return 1
	}

	fmt.Fprintln(os.Stderr, err)
	return errs.ExitCode(err)
}
