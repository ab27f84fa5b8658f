//go:build !windows

package probe

// loadLibrary always succeeds on non-Windows platforms.
func loadLibrary(path string) error {
	return nil
}
