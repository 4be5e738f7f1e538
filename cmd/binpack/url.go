package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bisqtools/binpack/internal/binary"
)

// runURL handles the `binpack url` subcommand
func (c *cli) runURL(args []string) error {
	positional, err := c.parse(args)
	if err != nil {
		return err
	}
	if c.opts.help {
		printURLHelp(c.stdout)
		return nil
	}
	if len(positional) < 1 || len(positional) > 2 {
		return usageErrorf("url takes a dependency and an optional version")
	}

	req, err := binary.ParseRequest(positional[0])
	if err != nil {
		return usageErrorf("%v", err)
	}
	if len(positional) == 2 {
		req.Version = positional[1]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, plat, err := c.prepare(ctx)
	if err != nil {
		return err
	}
	cat, err := c.catalog(cfg)
	if err != nil {
		return err
	}

	spec, err := cat.Spec(req.Name, req.Version)
	if err != nil {
		return err
	}
	url, err := spec.ArtifactURL(plat)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.stdout, url)
	if spec.FallbackUsed(plat) {
		fmt.Fprintf(c.stderr, "note: %s publishes no %s build; using the x86_64 build\n", req.Name, plat)
	}
	if c.opts.verbose {
		if spec.ManifestURL != "" {
			fmt.Fprintf(c.stderr, "manifest:  %s\n", spec.ManifestURL)
		}
		fmt.Fprintf(c.stderr, "signature: %s\n", spec.SignatureURLFor(url))
	}
	return nil
}

func printURLHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: binpack url <dep> [version] [--platform TAG]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Print the artifact URL of a dependency. No network access is made.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  binpack url bitcoin-core 27.1 --platform linux_x86_64")
	fmt.Fprintln(w, "  binpack url tor@14.0.4 --platform macos_arm64")
}
