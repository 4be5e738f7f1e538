package binary

import (
	"sort"
	"strings"
	"sync"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/platform"
)

// Dependency names known to the default catalog
const (
	BitcoinCore = "bitcoin-core"
	Electrum    = "electrum"
	Tor         = "tor"
)

// DefaultVersions pins the versions fetched when none is requested
var DefaultVersions = map[string]string{
	BitcoinCore: "27.1",
	Electrum:    "4.5.8",
	Tor:         "14.0.4",
}

// Strategy produces the Spec for one version of a dependency.
type Strategy func(version string) *Spec

type catalogEntry struct {
	strategy       Strategy
	defaultVersion string
}

// Catalog maps dependency names to strategies. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	entries   map[string]catalogEntry
	extraKeys map[string][]TrustedKey
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		entries:   make(map[string]catalogEntry),
		extraKeys: make(map[string][]TrustedKey),
	}
}

// DefaultCatalog returns a catalog holding Bitcoin Core, Electrum and Tor.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	c.Register(BitcoinCore, DefaultVersions[BitcoinCore], bitcoinCoreSpec)
	c.Register(Electrum, DefaultVersions[Electrum], electrumSpec)
	c.Register(Tor, DefaultVersions[Tor], torSpec)
	return c
}

// Register adds or replaces a dependency.
func (c *Catalog) Register(name, defaultVersion string, s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = catalogEntry{strategy: s, defaultVersion: defaultVersion}
}

// AddTrustedKeys extends the allow-list of a dependency.
func (c *Catalog) AddTrustedKeys(name string, keys ...TrustedKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extraKeys[name] = append(c.extraKeys[name], keys...)
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// Names returns the registered dependency names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultVersion returns the pinned version for name, or "".
func (c *Catalog) DefaultVersion(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[name].defaultVersion
}

// Spec returns the Spec for name at version. An empty version selects the
// default. Extra trusted keys are appended to the strategy's allow-list.
func (c *Catalog) Spec(name, version string) (*Spec, error) {
	c.mu.RLock()
	entry, ok := c.entries[name]
	extra := append([]TrustedKey(nil), c.extraKeys[name]...)
	c.mu.RUnlock()

	if !ok {
		return nil, fault.Errorf(fault.Config, "catalog lookup", name, "unknown dependency")
	}
	if version == "" {
		version = entry.defaultVersion
	}
	if version == "" {
		return nil, fault.Errorf(fault.Config, "catalog lookup", name, "no version given and no default pinned")
	}

	spec := entry.strategy(version)
	spec.Name = name
	spec.Version = version
	spec.TrustedKeys = append(spec.TrustedKeys, extra...)
	return spec, nil
}

// Bitcoin Core release builders whose signatures appear in SHA256SUMS.asc.
// Fingerprints from bitcoin-core/guix.sigs builder-keys. Every signature
// in the file must come from a listed builder, so a release attested by
// anyone else fails until that builder is added through trusted_keys.
var bitcoinCoreBuilders = []TrustedKey{
	NewTrustedKey("achow101", "1528 1230 0785 C964 44D3  334D 1756 5732 E08E 5E41", guixSigsKey("achow101")),
	NewTrustedKey("fanquake", "E777 299F C265 DD04 7930  70EB 944D 35F9 AC3D B76A", guixSigsKey("fanquake")),
	NewTrustedKey("guggero", "F4FC 70F0 7310 0284 24EF  C20A 8E42 5659 3F17 7720", guixSigsKey("guggero")),
	NewTrustedKey("hebasto", "D1DB F2C4 B96F 2DEB F4C1  6654 4101 0811 2E7E A81F", guixSigsKey("hebasto")),
	NewTrustedKey("laanwj", "71A3 B167 3540 5025 D447  E8F2 7481 0B01 2346 C9A6", guixSigsKey("laanwj")),
	NewTrustedKey("theStack", "6A8F 9C26 6528 E25A EB1D  7731 C237 1D91 CB71 6EA7", guixSigsKey("theStack")),
}

func guixSigsKey(builder string) string {
	return "https://raw.githubusercontent.com/bitcoin-core/guix.sigs/main/builder-keys/" + builder + ".gpg"
}

func bitcoinCoreSpec(version string) *Spec {
	base := "https://bitcoincore.org/bin/bitcoin-core-" + version + "/"
	dir := "bitcoin-" + version
	return &Spec{
		URLPrefix: base + "bitcoin-" + version + "-",
		Suffixes: map[platform.Platform]string{
			platform.LinuxX8664: "x86_64-linux-gnu.tar.gz",
			platform.LinuxARM64: "aarch64-linux-gnu.tar.gz",
			platform.MacOSX8664: "x86_64-apple-darwin.tar.gz",
			platform.MacOSARM64: "arm64-apple-darwin.tar.gz",
			platform.WinX8664:   "win64.zip",
		},
		ArchiveDirName: dir,
		ManifestURL:    base + "SHA256SUMS",
		SignatureURL:   base + "SHA256SUMS.asc",
		Binaries: map[string][]string{
			platform.OSLinux:   {dir + "/bin/bitcoind", dir + "/bin/bitcoin-cli"},
			platform.OSMacOS:   {dir + "/bin/bitcoind", dir + "/bin/bitcoin-cli"},
			platform.OSWindows: {dir + "/bin/bitcoind.exe", dir + "/bin/bitcoin-cli.exe"},
		},
		TrustedKeys: append([]TrustedKey(nil), bitcoinCoreBuilders...),
	}
}

// Electrum release signers. Each .asc carries one signature per signer.
var electrumSigners = []TrustedKey{
	NewTrustedKey("ThomasV", "6694 D8DE 7BE8 EE56 31BE  D950 2BD5 824B 7F94 70E6",
		"https://raw.githubusercontent.com/spesmilo/electrum/master/pubkeys/ThomasV.asc"),
	NewTrustedKey("SomberNight", "0EED CFD5 CAFB 4590 6734  9B23 CA9E EEC4 3DF9 11DC",
		"https://raw.githubusercontent.com/spesmilo/electrum/master/pubkeys/sombernight_releasekey.asc"),
	NewTrustedKey("Emzy", "9EDA FF80 E080 6596 04F4  A76B 2EBB 056F D847 F8A7",
		"https://raw.githubusercontent.com/spesmilo/electrum/master/pubkeys/Emzy.asc"),
}

func electrumSpec(version string) *Spec {
	return &Spec{
		URLPrefix: "https://download.electrum.org/" + version + "/electrum-" + version,
		Suffixes: map[platform.Platform]string{
			platform.LinuxX8664: "-x86_64.AppImage",
			platform.MacOSX8664: ".dmg",
			platform.WinX8664:   ".exe",
		},
		Binaries: map[string][]string{
			platform.OSLinux:   {"{artifact}"},
			platform.OSMacOS:   {"Electrum.app"},
			platform.OSWindows: {"{artifact}"},
		},
		TrustedKeys: append([]TrustedKey(nil), electrumSigners...),
	}
}

// torBrowserDevelopers signs the Tor Browser and expert bundle manifests.
var torBrowserDevelopers = NewTrustedKey("Tor Browser Developers",
	"EF6E 286D DA85 EA2A 4BA7  DE68 4E2C 6E87 9329 8290",
	"https://openpgpkey.torproject.org/.well-known/openpgpkey/torproject.org/hu/kounek7zrdx745qydx6p59t9mqjpuhdf")

func torSpec(version string) *Spec {
	base := "https://archive.torproject.org/tor-package-archive/torbrowser/" + version + "/"
	return &Spec{
		URLPrefix: base + "tor-expert-bundle-",
		Suffixes: map[platform.Platform]string{
			platform.LinuxX8664: "linux-x86_64-" + version + ".tar.gz",
			platform.MacOSX8664: "macos-x86_64-" + version + ".tar.gz",
			platform.WinX8664:   "windows-x86_64-" + version + ".tar.gz",
		},
		ManifestURL:  base + "sha256sums-signed-build.txt",
		SignatureURL: base + "sha256sums-signed-build.txt.asc",
		Binaries: map[string][]string{
			platform.OSLinux:   {"tor/tor"},
			platform.OSMacOS:   {"tor/tor"},
			platform.OSWindows: {"tor/tor.exe"},
		},
		TrustedKeys: []TrustedKey{torBrowserDevelopers},
	}
}

// CustomSpec describes a dependency defined in the configuration file.
type CustomSpec struct {
	URLPrefix    string
	Suffixes     map[platform.Platform]string
	Format       Format
	ArchiveDir   string
	ManifestURL  string
	SignatureURL string
	Binaries     []string
}

// RegisterCustom adds a configuration-defined dependency. "{version}" in
// any URL, suffix, directory or binary path expands to the version.
func (c *Catalog) RegisterCustom(name, defaultVersion string, cs CustomSpec) {
	c.Register(name, defaultVersion, func(version string) *Spec {
		expand := func(s string) string { return expandVersion(s, version) }

		suffixes := make(map[platform.Platform]string, len(cs.Suffixes))
		for p, s := range cs.Suffixes {
			suffixes[p] = expand(s)
		}
		bins := make([]string, len(cs.Binaries))
		for i, b := range cs.Binaries {
			bins[i] = expand(b)
		}

		return &Spec{
			URLPrefix:      expand(cs.URLPrefix),
			Suffixes:       suffixes,
			ArchiveFormat:  cs.Format,
			ArchiveDirName: expand(cs.ArchiveDir),
			ManifestURL:    expand(cs.ManifestURL),
			SignatureURL:   expand(cs.SignatureURL),
			Binaries: map[string][]string{
				platform.OSLinux:   bins,
				platform.OSMacOS:   bins,
				platform.OSWindows: bins,
			},
		}
	})
}

func expandVersion(s, version string) string {
	return strings.ReplaceAll(s, "{version}", version)
}
