package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bisqtools/binpack/internal/binary"
	"github.com/bisqtools/binpack/internal/config"
)

// runInit handles the `binpack init` subcommand
func (c *cli) runInit(args []string) error {
	positional, err := c.parse(args)
	if err != nil {
		return err
	}
	if c.opts.help {
		fmt.Fprintln(c.stdout, "Usage: binpack init [--force] [path]")
		fmt.Fprintln(c.stdout)
		fmt.Fprintln(c.stdout, "Write a starter configuration listing every built-in dependency at")
		fmt.Fprintln(c.stdout, "its default version (default path: ./binpack.lua).")
		return nil
	}
	if len(positional) > 1 {
		return usageErrorf("init takes at most one path")
	}

	path := config.DefaultConfigName
	if len(positional) == 1 {
		path = positional[0]
	}

	if _, err := os.Stat(path); err == nil && !c.opts.force {
		return fmt.Errorf("%s already exists\nUse --force to overwrite it", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("check %s: %w", path, err)
	}

	cfg := config.Default()
	cfg.WorkDir = ".binpack"
	if c.opts.workDir != "" {
		cfg.WorkDir = c.opts.workDir
	}
	if c.opts.resourceDir != "" {
		cfg.ResourceDir = c.opts.resourceDir
	}
	cat := binary.DefaultCatalog()
	for _, name := range cat.Names() {
		cfg.Dependencies = append(cfg.Dependencies, config.Dependency{Name: name, Version: cat.DefaultVersion(name)})
	}

	code, err := config.NewGenerator().Generate(cfg)
	if err != nil {
		return fmt.Errorf("generate config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(code), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	fmt.Fprintf(c.stdout, "Wrote %s\n", path)
	fmt.Fprintln(c.stdout)
	fmt.Fprintln(c.stdout, "Next steps:")
	fmt.Fprintln(c.stdout, "  binpack fetch      Download, verify and package every dependency")
	return nil
}
