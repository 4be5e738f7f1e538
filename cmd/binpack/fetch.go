package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/bisqtools/binpack/internal/binary"
)

// runFetch handles the `binpack fetch` subcommand
func (c *cli) runFetch(args []string) error {
	positional, err := c.parse(args)
	if err != nil {
		return err
	}
	if c.opts.help {
		printFetchHelp(c.stdout)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, plat, err := c.prepare(ctx)
	if err != nil {
		return err
	}
	pl, cat, err := c.pipeline(cfg, plat)
	if err != nil {
		return err
	}
	reqs, err := requests(cfg, cat, positional)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "Packaging %d dependencies for %s\n\n", len(reqs), plat)

	start := time.Now()
	report, _ := pl.RunAll(ctx, reqs)
	for _, res := range report.Results {
		fmt.Fprintln(c.stdout, formatResult(res))
	}

	failed := len(report.Failed())
	fmt.Fprintln(c.stdout)
	fmt.Fprintf(c.stdout, "%d packaged, %d failed, %d requests in %s\n",
		len(report.Results)-failed, failed, pl.Downloader().Requests(), time.Since(start).Round(time.Millisecond))

	if failed > 0 {
		return errReported
	}
	return nil
}

// formatResult renders one line of the fetch summary
func formatResult(res *binary.Result) string {
	if res.State != binary.StateDone {
		return fmt.Sprintf("  ✗ %s %s: %v", res.Name, res.Version, res.Err)
	}

	line := fmt.Sprintf("  ✓ %s %s -> %s", res.Name, res.Version, res.OutputDir)
	var notes []string
	if n := len(res.Signers); n > 0 {
		notes = append(notes, fmt.Sprintf("%d signer(s)", n))
	}
	if res.FallbackUsed {
		notes = append(notes, "x86_64 fallback")
	}
	if res.Skipped(binary.StateDownloaded) && res.Skipped(binary.StatePackaged) {
		notes = append(notes, "up to date")
	}
	for i, n := range notes {
		if i == 0 {
			line += " (" + n
		} else {
			line += ", " + n
		}
	}
	if len(notes) > 0 {
		line += ")"
	}
	return line
}

func printFetchHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: binpack fetch [options] [dep[@version]...]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Download, verify, extract and package dependencies. With no arguments")
	fmt.Fprintln(w, "every dependency listed in the configuration is fetched (or the whole")
	fmt.Fprintln(w, "catalog when the configuration lists none).")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every run re-verifies hashes and signatures. Downloads, extracted trees")
	fmt.Fprintln(w, "and packaged output already on disk are reused.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  binpack fetch                            Fetch all configured dependencies")
	fmt.Fprintln(w, "  binpack fetch bitcoin-core@27.1 tor      Fetch two dependencies")
	fmt.Fprintln(w, "  binpack fetch --platform macos_arm64     Package for another platform")
}
