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

// Detect performs platform detection and returns platform information.
//
// A failed host lookup leaves Product, Version and KernelArch empty and
// detection still succeeds. A cancelled context is a hard failure.
func (d *RealDetector) Detect(ctx context.Context) (*Info, error) {
	info := &Info{
		OS:      runtime.GOOS,
		ArchRaw: runtime.GOARCH,
	}

	arch, err := ParseArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}
	info.Arch = arch

	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
		}
		return info, nil
	}

	info.Product = cleanField(hostInfo.Platform)
	info.Version = cleanField(hostInfo.PlatformVersion)
	info.KernelArch = cleanField(hostInfo.KernelArch)

	return info, nil
}

// StaticDetector returns a fixed Info. It is used when the caller forces a
// platform (for example --force-platform on the command line) and in tests.
type StaticDetector struct {
	Info *Info
	Err  error
}

// Detect returns the configured Info and error.
func (s *StaticDetector) Detect(ctx context.Context) (*Info, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Info == nil {
		return nil, fmt.Errorf("static detector has no platform info")
	}
	return s.Info, nil
}
