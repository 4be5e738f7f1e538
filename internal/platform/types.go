// Package platform resolves the host operating system and CPU architecture
// into the platform tags upstream projects publish release binaries for.
//
// Resolution is a pure function of two strings (OS name and architecture),
// so it can be tested exhaustively. The Detector reads those strings from
// the running host exactly once per run. The resolved platform is also
// exposed to Lua configurations as a read-only table.
package platform

import "context"

// Platform is a supported OS+architecture combination.
type Platform string

// Supported platforms. 32-bit hosts are not supported.
const (
	LinuxX8664 Platform = "linux_x86_64"
	LinuxARM64 Platform = "linux_arm64"
	MacOSX8664 Platform = "macos_x86_64"
	MacOSARM64 Platform = "macos_arm64"
	WinX8664   Platform = "win_x86_64"
	WinARM64   Platform = "win_arm64"
)

// OS family names.
const (
	OSLinux   = "linux"
	OSMacOS   = "macos"
	OSWindows = "win"
)

// Architecture names.
const (
	ArchX8664 = "x86_64"
	ArchARM64 = "arm64"
)

// All lists every supported platform in a stable order.
var All = []Platform{LinuxX8664, LinuxARM64, MacOSX8664, MacOSARM64, WinX8664, WinARM64}

// String returns the platform tag
func (p Platform) String() string {
	return string(p)
}

// OS returns the OS family of the platform ("linux", "macos", "win").
func (p Platform) OS() string {
	switch p {
	case LinuxX8664, LinuxARM64:
		return OSLinux
	case MacOSX8664, MacOSARM64:
		return OSMacOS
	case WinX8664, WinARM64:
		return OSWindows
	default:
		return ""
	}
}

// Arch returns the architecture of the platform ("x86_64", "arm64").
func (p Platform) Arch() string {
	switch p {
	case LinuxX8664, MacOSX8664, WinX8664:
		return ArchX8664
	case LinuxARM64, MacOSARM64, WinARM64:
		return ArchARM64
	default:
		return ""
	}
}

// IsARM64 returns true for arm64 platforms.
func (p Platform) IsARM64() bool {
	return p.Arch() == ArchARM64
}

// X8664Sibling returns the x86_64 platform of the same OS family.
// For x86_64 platforms it returns p itself.
func (p Platform) X8664Sibling() Platform {
	return of(p.OS(), ArchX8664)
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	return p.OS() != ""
}

func of(osFamily, arch string) Platform {
	return Platform(osFamily + "_" + arch)
}

// Info contains the raw host strings alongside the resolved platform.
type Info struct {
	OSRaw    string   // OS name as reported by the host, e.g. "darwin"
	ArchRaw  string   // machine architecture as reported, e.g. "aarch64"
	Platform Platform // resolved tag
}

// IsLinux returns true if the platform is Linux.
func (i *Info) IsLinux() bool {
	return i.Platform.OS() == OSLinux
}

// IsMacOS returns true if the platform is macOS.
func (i *Info) IsMacOS() bool {
	return i.Platform.OS() == OSMacOS
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.Platform.OS() == OSWindows
}

// IsX8664 returns true if the architecture is x86_64.
func (i *Info) IsX8664() bool {
	return i.Platform.Arch() == ArchX8664
}

// IsARM64 returns true if the architecture is arm64.
func (i *Info) IsARM64() bool {
	return i.Platform.IsARM64()
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
