package binary

import (
	"path"
	"strings"
	"time"

	"github.com/bisqtools/binpack/internal/platform"
)

// Format is the packaging format of a downloaded artifact.
type Format string

const (
	// FormatTarGz is a gzip-compressed tarball (.tar.gz, .tgz)
	FormatTarGz Format = "tar.gz"
	// FormatZip is a zip archive
	FormatZip Format = "zip"
	// FormatDMG is a macOS disk image; needs hdiutil on the host
	FormatDMG Format = "dmg"
	// FormatRaw is a directly executable file (AppImage, .exe)
	FormatRaw Format = "raw"
)

// FormatFromName derives the format from a file name or URL.
func FormatFromName(name string) Format {
	lower := strings.ToLower(path.Base(name))
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(lower, ".zip"):
		return FormatZip
	case strings.HasSuffix(lower, ".dmg"):
		return FormatDMG
	default:
		return FormatRaw
	}
}

// Spec describes one version of one upstream dependency: where its release
// files live and how they are verified and packaged.
type Spec struct {
	Name    string
	Version string

	// URLPrefix + Suffixes[platform] is the artifact URL.
	URLPrefix string
	Suffixes  map[platform.Platform]string

	// ArchiveFormat overrides the format derived from the artifact name.
	ArchiveFormat Format

	// ArchiveDirName is the top-level directory inside the archive,
	// e.g. "bitcoin-27.1". Empty when the archive has none.
	ArchiveDirName string

	// ManifestURL is a sha256sum-style manifest. Empty when upstream
	// publishes none; the signature then covers the artifact itself.
	ManifestURL string

	// SignatureURL is the detached signature over the manifest. When
	// ManifestURL is empty it is ignored and "<artifact URL>.asc" is used.
	SignatureURL string

	// Binaries lists, per OS family, paths relative to the extracted tree
	// that are copied into the resource directory. "{artifact}" expands to
	// the artifact file name. Entries may name directories (app bundles).
	Binaries map[string][]string

	// TrustedKeys is the fingerprint allow-list for signatures.
	TrustedKeys []TrustedKey
}

// Artifact is a file to download, optionally pinned to a SHA-256 digest.
type Artifact struct {
	URL            string
	LocalPath      string
	ExpectedSHA256 string // lowercase hex; empty disables the corrupt-cache check
}

// TrustedKey is an allow-listed OpenPGP key. Source is an https URL or a
// local path to an armored or binary public key.
type TrustedKey struct {
	Name        string // human label, e.g. builder nickname
	Fingerprint string // normalized: lowercase hex, no whitespace
	Source      string
}

// NewTrustedKey builds a TrustedKey, normalizing a human-readable
// fingerprint such as "E777 299F C265 DD04 7930  70EB 944D 35F9 AC3D B76A".
func NewTrustedKey(name, fingerprint, source string) TrustedKey {
	return TrustedKey{Name: name, Fingerprint: NormalizeFingerprint(fingerprint), Source: source}
}

// NormalizeFingerprint strips all whitespace and lowercases.
func NormalizeFingerprint(fp string) string {
	return strings.ToLower(strings.Join(strings.Fields(fp), ""))
}

// VerificationMethod indicates how a file was verified
type VerificationMethod int

const (
	// VerificationNone indicates no verification (should never happen in production)
	VerificationNone VerificationMethod = iota
	// VerificationGPG indicates OpenPGP signature verification was used
	VerificationGPG
	// VerificationSHA256 indicates SHA256 checksum verification was used
	VerificationSHA256
)

// String returns the string representation of the verification method
func (v VerificationMethod) String() string {
	switch v {
	case VerificationGPG:
		return "GPG"
	case VerificationSHA256:
		return "SHA256"
	case VerificationNone:
		return "None"
	default:
		return "Unknown"
	}
}

// VerificationResult contains the outcome of a verification attempt
type VerificationResult struct {
	Artifact string // path of the verified file
	Method   VerificationMethod
	Success  bool
	Detail   string   // digest for SHA256, signer summary for GPG
	Signers  []string // fingerprints that produced valid signatures
	Error    error
}

// DownloadResult describes a completed (or cached) download
type DownloadResult struct {
	URL          string
	Path         string
	Cached       bool // true when the file was already present and no request was made
	Bytes        int64
	DownloadTime time.Duration
}

// ExtractRequest describes one extraction.
type ExtractRequest struct {
	Format      Format
	ArchivePath string
	DestDir     string
	// Bundle is the app bundle copied out of a DMG, e.g. "Electrum.app".
	Bundle string
	// Expect lists paths relative to DestDir whose presence means the
	// extraction already happened.
	Expect []string
	// ArchiveSHA256 is the verified digest of ArchivePath. It is computed
	// when empty.
	ArchiveSHA256 string
}

// ExtractionOutput is the result of an extraction step
type ExtractionOutput struct {
	ArchivePath string
	OutputDir   string
	Skipped     bool
}
