// Package platform detects the host operating system and architecture and
// decides whether the host is the one platform the embedded installer targets.
//
// OS and architecture come from the running binary (runtime.GOOS/GOARCH),
// since the driver must match the bitness of the process that loads it.
// gopsutil adds the host product name and kernel architecture for reporting;
// when that lookup fails the fields stay empty.
package platform

import "context"

// Info contains platform detection information.
type Info struct {
	OS      string // "windows", "linux", "darwin"
	Arch    string // "amd64", "arm64", "386", "arm" (normalized)
	ArchRaw string // original GOARCH

	// Host details from gopsutil, informational only.
	Product    string // e.g. "Microsoft Windows 11 Pro", "ubuntu"
	Version    string // e.g. "10.0.22631 Build 22631", "24.04"
	KernelArch string // e.g. "x86_64"
}

// IsWindows returns true if the platform is Windows.
func (i *Info) IsWindows() bool {
	return i.OS == "windows"
}

// Is64Bit reports whether the normalized architecture is a 64-bit one.
func (i *Info) Is64Bit() bool {
	return i.Arch == "amd64" || i.Arch == "arm64"
}

// BitKey returns the embedded config section for this architecture:
// "64_bit" or "32_bit".
func (i *Info) BitKey() string {
	if i.Is64Bit() {
		return "64_bit"
	}
	return "32_bit"
}

// Emulated reports whether a 32-bit process runs on a 64-bit kernel
// (WOW64 on Windows). The 32_bit archive is still the right one.
func (i *Info) Emulated() bool {
	if i.Is64Bit() || i.KernelArch == "" {
		return false
	}
	arch, err := ParseArch(i.KernelArch)
	return err == nil && (arch == "amd64" || arch == "arm64")
}

// Detector is the interface for platform detection.
type Detector interface {
	Detect(ctx context.Context) (*Info, error)
}
