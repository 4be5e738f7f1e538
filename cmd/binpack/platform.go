package main

import (
	"context"
	"fmt"
	"time"
)

// runPlatform handles the `binpack platform` subcommand
func (c *cli) runPlatform(args []string) error {
	positional, err := c.parse(args)
	if err != nil {
		return err
	}
	if c.opts.help {
		fmt.Fprintln(c.stdout, "Usage: binpack platform [--verbose]")
		fmt.Fprintln(c.stdout)
		fmt.Fprintln(c.stdout, "Print the platform tag binaries are selected for.")
		return nil
	}
	if len(positional) > 0 {
		return usageErrorf("platform takes no arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	det, err := c.detector()
	if err != nil {
		return err
	}
	info, err := det.Detect(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.stdout, info.Platform)
	if c.opts.verbose {
		fmt.Fprintf(c.stdout, "os:   %s\n", info.OSRaw)
		fmt.Fprintf(c.stdout, "arch: %s\n", info.ArchRaw)
	}
	return nil
}
