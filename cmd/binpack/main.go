package main

import (
	"fmt"
	"io"
	"os"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printHelp(stdout)
		return exitOK
	}

	var handler func(*cli, []string) error
	switch args[0] {
	case "--version", "version":
		fmt.Fprintf(stdout, "binpack %s\n", Version)
		fmt.Fprintln(stdout, "Verified third-party binaries for desktop bundles")
		return exitOK
	case "help", "--help", "-h":
		printHelp(stdout)
		return exitOK
	case "fetch":
		handler = (*cli).runFetch
	case "url":
		handler = (*cli).runURL
	case "platform":
		handler = (*cli).runPlatform
	case "verify-hash":
		handler = (*cli).runVerifyHash
	case "verify-sig":
		handler = (*cli).runVerifySig
	case "list":
		handler = (*cli).runList
	case "status":
		handler = (*cli).runStatus
	case "init":
		handler = (*cli).runInit
	default:
		fmt.Fprintf(stderr, "Error: unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, "Run 'binpack help' for usage.")
		return exitUsage
	}

	c := &cli{stdout: stdout, stderr: stderr}
	if err := handler(c, args[1:]); err != nil {
		return c.fail(err)
	}
	return exitOK
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "binpack - fetch, verify and package third-party binaries")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  binpack --version                          Show version information")
	fmt.Fprintln(w, "  binpack fetch [options] [dep[@version]...]   Download, verify and package dependencies")
	fmt.Fprintln(w, "  binpack status [options]                   Show what is packaged for the target platform")
	fmt.Fprintln(w, "  binpack url <dep> [version] [options]      Print the artifact URL for a platform")
	fmt.Fprintln(w, "  binpack platform                           Print the detected platform tag")
	fmt.Fprintln(w, "  binpack list [options]                     List known dependencies")
	fmt.Fprintln(w, "  binpack verify-hash <file> <manifest>      Check a file against a SHA256SUMS manifest")
	fmt.Fprintln(w, "  binpack verify-sig <file> <sig> <fpr=key>...  Check a detached OpenPGP signature")
	fmt.Fprintln(w, "  binpack init [--force] [path]              Write a starter binpack.lua")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fmt.Fprintln(w, "  -c, --config FILE      Configuration file (default: ./binpack.lua when present)")
	fmt.Fprintln(w, "  -p, --platform TAG     Target platform, e.g. macos_arm64 (default: this host)")
	fmt.Fprintln(w, "      --work DIR         Work directory for downloads and extracted trees")
	fmt.Fprintln(w, "      --resources DIR    Directory receiving packaged binaries")
	fmt.Fprintln(w, "      --log-level LEVEL  trace, debug, info, warn, error or off")
	fmt.Fprintln(w, "  -v, --verbose          Show full error details")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  BINPACK_WORK_DIR, BINPACK_RESOURCE_DIR, BINPACK_LOG_LEVEL, BINPACK_LOG_FORMAT")
}
