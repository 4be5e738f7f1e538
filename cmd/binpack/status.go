package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bisqtools/binpack/internal/binary"
)

// runStatus handles the `binpack status` subcommand.
// Exits non-zero when anything is not synced.
func (c *cli) runStatus(args []string) error {
	positional, err := c.parse(args)
	if err != nil {
		return err
	}
	if c.opts.help {
		printStatusHelp(c.stdout)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

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

	statuses, err := pl.StatusAll(reqs)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "Packaged dependencies for %s:\n\n", plat)
	unsynced := 0
	for _, ds := range statuses {
		line := fmt.Sprintf("  %s %s %s", ds.Status.Symbol(), ds.Name, ds.Version)
		if ds.Status == binary.StatusStale {
			direction := "downgrade"
			if ds.Upgrade {
				direction = "upgrade"
			}
			line += fmt.Sprintf(" (packaged: %s for %s, %s)", ds.Receipt.Version, ds.Receipt.Platform, direction)
		}
		fmt.Fprintln(c.stdout, line)
		if ds.Status != binary.StatusSynced {
			unsynced++
		}
	}
	fmt.Fprintln(c.stdout)
	fmt.Fprintln(c.stdout, "Legend: ✓ synced, ✗ missing, ~ stale, ! drifted")

	if unsynced > 0 {
		fmt.Fprintln(c.stdout)
		fmt.Fprintln(c.stdout, "To fix:")
		fmt.Fprintln(c.stdout, "  binpack fetch")
		return errReported
	}
	return nil
}

func printStatusHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: binpack status [options] [dep[@version]...]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Compare packaged output with its receipt without touching the network.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Status indicators:")
	fmt.Fprintln(w, "  ✓  synced   Output matches the receipt for this version and platform")
	fmt.Fprintln(w, "  ✗  missing  Nothing packaged yet")
	fmt.Fprintln(w, "  ~  stale    Packaged for another version or platform")
	fmt.Fprintln(w, "  !  drifted  Output was modified after packaging")
}
