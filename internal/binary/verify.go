package binary

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/logging"
)

// Verifier checks downloaded files against sha256sum manifests and
// detached OpenPGP signatures.
type Verifier struct {
	downloader *Downloader
	logger     logging.Logger
}

// NewVerifier creates a new verifier. The downloader fetches trusted keys
// given as URLs; it may be nil when every key source is a local file.
func NewVerifier(downloader *Downloader, logger logging.Logger) *Verifier {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Verifier{downloader: downloader, logger: logger}
}

// VerifyHash checks filePath against its entry in manifestPath.
func (v *Verifier) VerifyHash(filePath, manifestPath string) (*VerificationResult, error) {
	result := &VerificationResult{Artifact: filePath, Method: VerificationSHA256}

	name := filepath.Base(filePath)
	expected, err := LookupHash(manifestPath, name)
	if err != nil {
		result.Error = err
		return result, err
	}

	actual, err := FileSHA256(filePath)
	if err != nil {
		err = fault.New(fault.HashMismatch, "hash file", filePath, err)
		result.Error = err
		return result, err
	}

	if actual != expected {
		err = fault.Errorf(fault.HashMismatch, "verify hash", name,
			"checksum mismatch:\nactual:   %s\nexpected: %s", actual, expected)
		result.Detail = actual
		result.Error = err
		return result, err
	}

	v.logger.Debug("hash verified", "file", name, "sha256", actual)
	result.Success = true
	result.Detail = actual
	return result, nil
}

// VerifyHash reports whether filePath matches its entry in manifestPath.
// A missing entry is an error of kind HashNotFound; a mismatch returns
// false together with an error of kind HashMismatch.
func VerifyHash(filePath, manifestPath string) (bool, error) {
	res, err := NewVerifier(nil, nil).VerifyHash(filePath, manifestPath)
	return res.Success, err
}

// FileSHA256 returns the lowercase hex SHA-256 of a file.
func FileSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// NormalizeDigest lowercases a hex digest and trims surrounding space.
func NormalizeDigest(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}

// LookupHash finds the digest for filename in a sha256sum manifest.
// Format: "abc123def456  filename.tar.gz", optionally with a leading '*'
// binary-mode marker before the name. Entries with directory prefixes
// match on their basename.
func LookupHash(manifestPath, filename string) (string, error) {
	file, err := os.Open(manifestPath)
	if err != nil {
		return "", fault.New(fault.HashNotFound, "open manifest", manifestPath, err)
	}
	defer file.Close()

	var basenameMatch string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		digest, name, ok := parseManifestLine(scanner.Text())
		if !ok {
			continue
		}

		// Use exact match first, then basename comparison for files with paths
		if name == filename {
			return digest, nil
		}
		if basenameMatch == "" && path.Base(filepath.ToSlash(name)) == filename {
			basenameMatch = digest
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fault.New(fault.HashNotFound, "scan manifest", manifestPath, err)
	}
	if basenameMatch != "" {
		return basenameMatch, nil
	}

	return "", fault.Errorf(fault.HashNotFound, "lookup hash", filename,
		"no entry in %s", filepath.Base(manifestPath))
}

// parseManifestLine splits one sha256sum line. Lines that are not a
// 64-character hex digest followed by a name are ignored.
func parseManifestLine(line string) (digest, name string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}

	digest = NormalizeDigest(fields[0])
	if len(digest) != sha256.Size*2 {
		return "", "", false
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", "", false
	}

	// Names may contain spaces; rejoin everything after the digest
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
	name = strings.TrimPrefix(rest, "*")
	if name == "" {
		return "", "", false
	}
	return digest, name, true
}

// String summarizes a verification result
func (r *VerificationResult) String() string {
	if r.Success {
		return fmt.Sprintf("%s ok (%s)", r.Method, r.Detail)
	}
	return fmt.Sprintf("%s failed: %v", r.Method, r.Error)
}
