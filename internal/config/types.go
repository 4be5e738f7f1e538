package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bisqtools/binpack/internal/binary"
	"github.com/bisqtools/binpack/internal/platform"
)

// Config represents a complete binpack configuration.
type Config struct {
	// WorkDir holds downloads, extracted trees and fetched keys
	WorkDir string `json:"work_dir,omitempty"`

	// ResourceDir receives the packaged binaries
	ResourceDir string `json:"resource_dir,omitempty"`

	// Retries per download; 0 disables retrying
	Retries int `json:"retries,omitempty"`

	// Parallelism bounds how many dependencies run at once
	Parallelism int `json:"parallelism,omitempty"`

	UserAgent string `json:"user_agent,omitempty"`

	// Dependencies fetched by a plain `binpack fetch`
	Dependencies []Dependency `json:"dependencies,omitempty"`

	// TrustedKeys extends a dependency's signer allow-list
	TrustedKeys map[string][]KeyConfig `json:"trusted_keys,omitempty"`

	// Custom declares dependencies beyond the built-in catalog
	Custom map[string]CustomDependency `json:"custom,omitempty"`
}

// Dependency names a dependency and an optional pinned version.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// KeyConfig is an additional trusted signer.
type KeyConfig struct {
	Name        string `json:"name,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Source      string `json:"source"` // URL or local path
}

// CustomDependency describes a dependency that is not built in. "{version}"
// in any string field expands to the requested version.
type CustomDependency struct {
	Version    string            `json:"version,omitempty"`
	URLPrefix  string            `json:"url_prefix"`
	Suffixes   map[string]string `json:"suffixes"` // platform tag -> suffix
	Kind       string            `json:"kind,omitempty"`
	ArchiveDir string            `json:"archive_dir,omitempty"`
	Manifest   string            `json:"manifest,omitempty"`
	Signature  string            `json:"signature,omitempty"`
	Binaries   []string          `json:"binaries"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		WorkDir:     filepath.Join(os.TempDir(), "binpack"),
		ResourceDir: "resources",
		Parallelism: defaultParallelism,
		UserAgent:   binary.DefaultUserAgent,
	}
}

// ApplyEnv overrides directories from BINPACK_WORK_DIR and
// BINPACK_RESOURCE_DIR when they are set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvWorkDir); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv(EnvResourceDir); v != "" {
		c.ResourceDir = v
	}
}

// Validate performs basic validation on a Config.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return &ValidationError{Field: luaFieldWorkDir, Message: "cannot be empty"}
	}
	if c.ResourceDir == "" {
		return &ValidationError{Field: luaFieldResourceDir, Message: "cannot be empty"}
	}
	if c.Retries < 0 || c.Retries > MaxRetries {
		return &ValidationError{
			Field:   luaFieldRetries,
			Message: fmt.Sprintf("must be between 0 and %d (got %d)", MaxRetries, c.Retries),
		}
	}
	if c.Parallelism < 1 || c.Parallelism > MaxParallelism {
		return &ValidationError{
			Field:   luaFieldParallelism,
			Message: fmt.Sprintf("must be between 1 and %d (got %d)", MaxParallelism, c.Parallelism),
		}
	}

	// Dependency count validation
	if len(c.Dependencies) > MaxDependencyCount {
		return &ValidationError{
			Field:   luaFieldDeps,
			Message: fmt.Sprintf("too many dependencies (%d), maximum is %d", len(c.Dependencies), MaxDependencyCount),
		}
	}

	seen := make(map[string]bool, len(c.Dependencies))
	for i, d := range c.Dependencies {
		field := fmt.Sprintf("dependencies[%d]", i)
		if err := validateName(d.Name); err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
		if d.Version != "" && !versionPattern.MatchString(d.Version) {
			return &ValidationError{Field: field + ".version", Message: fmt.Sprintf("invalid version %q", d.Version)}
		}
		if seen[d.Name] {
			return &ValidationError{Field: field, Message: fmt.Sprintf("%s listed twice", d.Name)}
		}
		seen[d.Name] = true
	}

	keyCount := 0
	for _, name := range sortedKeys(c.TrustedKeys) {
		for i, k := range c.TrustedKeys[name] {
			keyCount++
			field := fmt.Sprintf("trusted_keys.%s[%d]", name, i)
			if err := validateFingerprint(k.Fingerprint); err != nil {
				return &ValidationError{Field: field + ".fingerprint", Message: err.Error()}
			}
			if strings.TrimSpace(k.Source) == "" {
				return &ValidationError{Field: field + ".source", Message: "cannot be empty"}
			}
		}
	}
	if keyCount > MaxTrustedKeyCount {
		return &ValidationError{
			Field:   luaFieldTrustedKeys,
			Message: fmt.Sprintf("too many keys (%d), maximum is %d", keyCount, MaxTrustedKeyCount),
		}
	}

	for _, name := range sortedKeys(c.Custom) {
		if err := c.Custom[name].validate(name); err != nil {
			return err
		}
	}

	return nil
}

func (cd CustomDependency) validate(name string) error {
	field := "custom." + name
	if err := validateName(name); err != nil {
		return &ValidationError{Field: field, Message: err.Error()}
	}
	if err := validateURL(cd.URLPrefix); err != nil {
		return &ValidationError{Field: field + ".url_prefix", Message: err.Error()}
	}
	if len(cd.Suffixes) == 0 {
		return &ValidationError{Field: field + ".suffixes", Message: "at least one platform is required"}
	}
	for tag := range cd.Suffixes {
		if _, err := platform.ParseTag(tag); err != nil {
			return &ValidationError{Field: field + ".suffixes", Message: fmt.Sprintf("unknown platform %q", tag)}
		}
	}
	switch binary.Format(cd.Kind) {
	case "", binary.FormatTarGz, binary.FormatZip, binary.FormatDMG, binary.FormatRaw:
	default:
		return &ValidationError{Field: field + ".kind", Message: fmt.Sprintf("unknown kind %q", cd.Kind)}
	}
	for _, u := range []string{cd.Manifest, cd.Signature} {
		if u == "" {
			continue
		}
		if err := validateURL(u); err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
	}
	if cd.Manifest != "" && cd.Signature == "" {
		return &ValidationError{Field: field + ".signature", Message: "a manifest needs a signature"}
	}
	if len(cd.Binaries) == 0 {
		return &ValidationError{Field: field + ".binaries", Message: "at least one binary is required"}
	}
	for _, b := range cd.Binaries {
		if b == "" || filepath.IsAbs(b) || strings.Contains(b, "..") {
			return &ValidationError{Field: field + ".binaries", Message: fmt.Sprintf("invalid path %q", b)}
		}
	}
	return nil
}

// ValidationError represents a config validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return "config validation failed for " + e.Field + ": " + e.Message
	}
	return "config validation failed: " + e.Message
}

var (
	namePattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)
	versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)
)

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > maxDependencyNameLn {
		return fmt.Errorf("name too long (%d chars, max %d)", len(name), maxDependencyNameLn)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid name %q (lowercase letters, digits, '.', '_' and '-')", name)
	}
	return nil
}

func validateFingerprint(fp string) error {
	n := binary.NormalizeFingerprint(fp)
	if len(n) != 40 {
		return fmt.Errorf("expected 40 hex digits, got %d", len(n))
	}
	for _, r := range n {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return fmt.Errorf("invalid hex digit %q", r)
		}
	}
	return nil
}

// validateURL accepts http and https URLs, optionally with "{version}".
func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(strings.ReplaceAll(raw, "{version}", "0"))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("url must use https:// or http:// scheme (got: %s)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host: %s", raw)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
