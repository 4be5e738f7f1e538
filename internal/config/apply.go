package config

import (
	"fmt"

	"github.com/bisqtools/binpack/internal/binary"
	"github.com/bisqtools/binpack/internal/platform"
)

// Apply registers custom dependencies and extra trusted keys on cat.
// Keys for a dependency the catalog does not know are an error.
func (c *Config) Apply(cat *binary.Catalog) error {
	for _, name := range sortedKeys(c.Custom) {
		cd := c.Custom[name]
		suffixes := make(map[platform.Platform]string, len(cd.Suffixes))
		for tag, suffix := range cd.Suffixes {
			p, err := platform.ParseTag(tag)
			if err != nil {
				return fmt.Errorf("custom %s: %w", name, err)
			}
			suffixes[p] = suffix
		}

		cat.RegisterCustom(name, cd.Version, binary.CustomSpec{
			URLPrefix:    cd.URLPrefix,
			Suffixes:     suffixes,
			Format:       binary.Format(cd.Kind),
			ArchiveDir:   cd.ArchiveDir,
			ManifestURL:  cd.Manifest,
			SignatureURL: cd.Signature,
			Binaries:     cd.Binaries,
		})
	}

	for _, name := range sortedKeys(c.TrustedKeys) {
		if !cat.Has(name) {
			return &ValidationError{Field: "trusted_keys." + name, Message: "unknown dependency"}
		}
		keys := make([]binary.TrustedKey, 0, len(c.TrustedKeys[name]))
		for _, k := range c.TrustedKeys[name] {
			label := k.Name
			if label == "" {
				label = name
			}
			keys = append(keys, binary.NewTrustedKey(label, k.Fingerprint, k.Source))
		}
		cat.AddTrustedKeys(name, keys...)
	}

	return nil
}

// Requests returns the configured dependencies, or every catalog entry at
// its default version when none are configured.
func (c *Config) Requests(cat *binary.Catalog) []binary.Request {
	if len(c.Dependencies) == 0 {
		names := cat.Names()
		reqs := make([]binary.Request, len(names))
		for i, n := range names {
			reqs[i] = binary.Request{Name: n}
		}
		return reqs
	}

	reqs := make([]binary.Request, len(c.Dependencies))
	for i, d := range c.Dependencies {
		reqs[i] = binary.Request{Name: d.Name, Version: d.Version}
	}
	return reqs
}
