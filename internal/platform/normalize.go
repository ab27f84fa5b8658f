package platform

import (
	"fmt"
	"strings"
)

// ParseArch converts GOARCH values and kernel spellings (uname, WMI) to
// normalized architecture names. 32-bit targets are kept because the
// embedded config carries a separate 32_bit archive.
func ParseArch(arch string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(arch)) {
	case "amd64", "x86_64", "x64":
		return "amd64", nil
	case "arm64", "aarch64":
		return "arm64", nil
	case "386", "i386", "i686", "x86":
		return "386", nil
	case "arm", "armv7", "armv7l":
		return "arm", nil
	default:
		return "", fmt.Errorf("unsupported architecture: %s", arch)
	}
}

// cleanField trims gopsutil strings, which may carry padding on Windows.
func cleanField(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
