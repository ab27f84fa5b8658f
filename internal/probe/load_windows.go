//go:build windows

package probe

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// loadLibrary loads and immediately releases the DLL at path.
func loadLibrary(path string) error {
	dll, err := windows.LoadDLL(path)
	if err != nil {
		return fmt.Errorf("LoadDLL failed: %w", err)
	}
	return dll.Release()
}
