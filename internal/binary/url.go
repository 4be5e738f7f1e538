package binary

import (
	"fmt"
	"path"
	"strings"

	"github.com/bisqtools/binpack/internal/fault"
	"github.com/bisqtools/binpack/internal/platform"
)

// ResolveURL builds the download URL for a platform: urlPrefix followed by
// the platform's suffix.
//
// When an arm64 platform has no suffix of its own, the x86_64 suffix of the
// same OS family is used instead. Several upstreams (Tor and Electrum on
// macOS, Bitcoin Core on Windows) ship no native arm64 build and rely on
// the OS emulation layer, so this substitution is intended behavior.
func ResolveURL(urlPrefix string, p platform.Platform, suffixes map[platform.Platform]string) (string, error) {
	suffix, _, err := resolveSuffix(p, suffixes)
	if err != nil {
		return "", err
	}
	return urlPrefix + suffix, nil
}

// resolveSuffix returns the suffix for p and whether the x86_64 fallback
// was used.
func resolveSuffix(p platform.Platform, suffixes map[platform.Platform]string) (string, bool, error) {
	if suffix, ok := suffixes[p]; ok && suffix != "" {
		return suffix, false, nil
	}

	if p.IsARM64() {
		if suffix, ok := suffixes[p.X8664Sibling()]; ok && suffix != "" {
			return suffix, true, nil
		}
	}

	return "", false, fault.Errorf(fault.UnsupportedPlatform, "resolve url", p.String(),
		"no release published for this platform")
}

// ArtifactURL returns the artifact download URL for p.
func (s *Spec) ArtifactURL(p platform.Platform) (string, error) {
	return ResolveURL(s.URLPrefix, p, s.Suffixes)
}

// FallbackUsed reports whether p is served by the x86_64 build of its OS.
func (s *Spec) FallbackUsed(p platform.Platform) bool {
	_, fallback, err := resolveSuffix(p, s.Suffixes)
	return err == nil && fallback
}

// Format returns the artifact format for p.
func (s *Spec) Format(p platform.Platform) (Format, error) {
	u, err := s.ArtifactURL(p)
	if err != nil {
		return "", err
	}
	if s.ArchiveFormat != "" {
		return s.ArchiveFormat, nil
	}
	return FormatFromName(u), nil
}

// SignatureURLFor returns the detached signature URL for an artifact URL.
func (s *Spec) SignatureURLFor(artifactURL string) string {
	if s.ManifestURL != "" && s.SignatureURL != "" {
		return s.SignatureURL
	}
	return artifactURL + ".asc"
}

// BinariesFor returns the packaged paths for p with "{artifact}" expanded.
func (s *Spec) BinariesFor(p platform.Platform) ([]string, error) {
	u, err := s.ArtifactURL(p)
	if err != nil {
		return nil, err
	}

	entries, ok := s.Binaries[p.OS()]
	if !ok || len(entries) == 0 {
		return nil, fault.Errorf(fault.Config, "resolve binaries", s.Name,
			"no binaries listed for %s", p.OS())
	}

	artifact := path.Base(u)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = strings.ReplaceAll(e, "{artifact}", artifact)
	}
	return out, nil
}

// String returns "name@version"
func (s *Spec) String() string {
	return fmt.Sprintf("%s@%s", s.Name, s.Version)
}
