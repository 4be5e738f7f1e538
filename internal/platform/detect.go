package platform

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// RealDetector implements Detector using actual platform detection.
type RealDetector struct{}

// NewDetector creates a new platform detector.
func NewDetector() Detector {
	return &RealDetector{}
}

// Detect reads the host OS and machine architecture and resolves them.
//
// The architecture comes from gopsutil's kernel architecture (uname -m on
// Unix) rather than runtime.GOARCH, so an x86_64 build of binpack running
// under Rosetta still resolves to macos_arm64. If gopsutil fails, it falls
// back to runtime.GOARCH.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OSRaw:   runtime.GOOS,
		ArchRaw: runtime.GOARCH,
	}

	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		// Check if context was cancelled - this is a hard failure
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
	} else if hostInfo.KernelArch != "" {
		info.ArchRaw = hostInfo.KernelArch
	}

	p, err := Resolve(info.OSRaw, info.ArchRaw)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Platform = p

	return info, nil
}

// StaticDetector returns a fixed platform. It is used when the platform is
// overridden on the command line.
type StaticDetector struct {
	Platform Platform
}

// Detect returns the configured platform.
func (d *StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if !d.Platform.Valid() {
		return nil, unsupported(string(d.Platform), "")
	}
	return &Info{
		OSRaw:    d.Platform.OS(),
		ArchRaw:  d.Platform.Arch(),
		Platform: d.Platform,
	}, nil
}
