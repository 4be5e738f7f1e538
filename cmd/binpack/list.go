package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bisqtools/binpack/internal/platform"
)

// runList handles the `binpack list` subcommand
func (c *cli) runList(args []string) error {
	positional, err := c.parse(args)
	if err != nil {
		return err
	}
	if c.opts.help {
		fmt.Fprintln(c.stdout, "Usage: binpack list [--config FILE]")
		fmt.Fprintln(c.stdout)
		fmt.Fprintln(c.stdout, "List built-in and configured dependencies with their default")
		fmt.Fprintln(c.stdout, "versions and the platforms upstream publishes builds for.")
		return nil
	}
	if len(positional) > 0 {
		return usageErrorf("list takes no arguments")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, _, err := c.prepare(ctx)
	if err != nil {
		return err
	}
	cat, err := c.catalog(cfg)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tPLATFORMS\tSIGNERS")
	for _, name := range cat.Names() {
		spec, err := cat.Spec(name, "")
		if err != nil {
			fmt.Fprintf(tw, "%s\t-\t%v\t\n", name, err)
			continue
		}
		var tags []string
		for _, p := range platform.All {
			if _, ok := spec.Suffixes[p]; ok {
				tags = append(tags, p.String())
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", name, spec.Version, strings.Join(tags, ","), len(spec.TrustedKeys))
	}
	return tw.Flush()
}
