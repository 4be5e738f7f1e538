package platform

import (
	"fmt"
	"strings"

	"github.com/bisqtools/binpack/internal/fault"
)

// UnsupportedPlatformError reports a host OS/arch combination with no
// upstream build. It is always wrapped in a *fault.Error of kind
// fault.UnsupportedPlatform.
type UnsupportedPlatformError struct {
	OS   string
	Arch string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform: os=%q arch=%q", e.OS, e.Arch)
}

// Resolve maps an OS name and CPU architecture string to a Platform.
//
// Both inputs are matched case-insensitively by substring, so "Mac OS X",
// "darwin", "Windows 11", "amd64", "x86_64" and "aarch64" are all accepted.
// A "64" substring is required in the architecture.
func Resolve(osName, arch string) (Platform, error) {
	osFamily := normalizeOS(osName)
	archName := normalizeArch(arch)

	if osFamily == "" || archName == "" {
		return "", unsupported(osName, arch)
	}

	return of(osFamily, archName), nil
}

// ParseTag parses a platform tag such as "linux_x86_64".
func ParseTag(tag string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(tag)))
	if !p.Valid() {
		return "", fault.Errorf(fault.UnsupportedPlatform, "parse platform", tag,
			"expected one of %v", All)
	}
	return p, nil
}

// normalizeOS classifies an OS name. The mac/darwin check runs first
// because "darwin" contains "win".
func normalizeOS(osName string) string {
	name := strings.ToLower(strings.TrimSpace(osName))
	switch {
	case strings.Contains(name, "linux"):
		return OSLinux
	case strings.Contains(name, "mac"), strings.Contains(name, "darwin"):
		return OSMacOS
	case strings.Contains(name, "win"):
		return OSWindows
	default:
		return ""
	}
}

// normalizeArch classifies a CPU architecture. 32-bit names resolve to "".
func normalizeArch(arch string) string {
	name := strings.ToLower(strings.TrimSpace(arch))
	if !strings.Contains(name, "64") {
		return ""
	}
	switch {
	case strings.Contains(name, "x86"), strings.Contains(name, "amd"):
		return ArchX8664
	case strings.Contains(name, "aarch"), strings.Contains(name, "arm"):
		return ArchARM64
	default:
		return ""
	}
}

func unsupported(osName, arch string) error {
	return fault.New(fault.UnsupportedPlatform, "resolve platform", "",
		&UnsupportedPlatformError{OS: osName, Arch: arch})
}
