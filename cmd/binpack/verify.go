package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/bisqtools/binpack/internal/binary"
)

// runVerifyHash handles the `binpack verify-hash` subcommand
func (c *cli) runVerifyHash(args []string) error {
	positional, err := c.parse(args)
	if err != nil {
		return err
	}
	if c.opts.help {
		fmt.Fprintln(c.stdout, "Usage: binpack verify-hash <file> <manifest>")
		fmt.Fprintln(c.stdout)
		fmt.Fprintln(c.stdout, "Check a file against its line in a sha256sum-style manifest.")
		return nil
	}
	if len(positional) != 2 {
		return usageErrorf("verify-hash takes a file and a manifest")
	}

	res, err := binary.NewVerifier(nil, c.logger).VerifyHash(positional[0], positional[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "OK %s sha256:%s\n", filepath.Base(positional[0]), res.Detail)
	return nil
}

// runVerifySig handles the `binpack verify-sig` subcommand. Keys are given
// as fingerprint=source, where source is a path or an http(s) URL.
func (c *cli) runVerifySig(args []string) error {
	positional, err := c.parse(args)
	if err != nil {
		return err
	}
	if c.opts.help {
		fmt.Fprintln(c.stdout, "Usage: binpack verify-sig <file> <signature> <fingerprint=key>...")
		fmt.Fprintln(c.stdout)
		fmt.Fprintln(c.stdout, "Check every signature in a detached OpenPGP signature file. Each key")
		fmt.Fprintln(c.stdout, "source may only contain keys whose fingerprints are listed.")
		fmt.Fprintln(c.stdout)
		fmt.Fprintln(c.stdout, "Example:")
		fmt.Fprintln(c.stdout, "  binpack verify-sig SHA256SUMS SHA256SUMS.asc \\")
		fmt.Fprintln(c.stdout, "    152812300785C96444D3334D17565732E08E5E41=fanquake.gpg")
		return nil
	}
	if len(positional) < 3 {
		return usageErrorf("verify-sig takes a file, a signature and at least one key")
	}

	keys, err := parseKeyArgs(positional[2:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cacheDir, err := os.MkdirTemp("", "binpack-keys-*")
	if err != nil {
		return fmt.Errorf("create key cache: %w", err)
	}
	defer os.RemoveAll(cacheDir)

	v := binary.NewVerifier(binary.NewDownloader(binary.DownloaderOptions{Logger: c.logger}), c.logger)
	res, err := v.VerifySignature(ctx, positional[0], positional[1], keys, cacheDir)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.stdout, "OK %s: %s\n", filepath.Base(positional[0]), res.Detail)
	for _, fp := range res.Signers {
		fmt.Fprintf(c.stdout, "  signed by %s\n", strings.ToUpper(fp))
	}
	return nil
}

// parseKeyArgs reads "fingerprint=source" pairs.
func parseKeyArgs(args []string) ([]binary.TrustedKey, error) {
	keys := make([]binary.TrustedKey, 0, len(args))
	for _, a := range args {
		fpr, src, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(fpr) == "" || src == "" {
			return nil, usageErrorf("key %q must be fingerprint=source", a)
		}
		keys = append(keys, binary.NewTrustedKey(filepath.Base(src), fpr, src))
	}
	return keys, nil
}
