// Package testutil provides utilities for testing embedinstall in isolation.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// Env holds the isolated locations created by SetupTestEnv.
type Env struct {
	Root       string // temp root, removed by the testing framework
	TargetDir  string // installation directory (EMBEDINSTALL_TARGET)
	ConfigPath string // embedded_config.json location (EMBEDINSTALL_CONFIG)
	BuildDir   string // build output directory for gen-config
}

// SetupTestEnv creates isolated directories for each test and points the
// EMBEDINSTALL_* variables at them, so tests never touch a real
// installation directory. The config file itself is not created.
//
// The cleanup function is automatically handled by t.TempDir(),
// so callers don't need to manually clean up.
func SetupTestEnv(t *testing.T) *Env {
	t.Helper()

	tmpDir := t.TempDir()
	env := &Env{
		Root:       tmpDir,
		TargetDir:  filepath.Join(tmpDir, "install"),
		ConfigPath: filepath.Join(tmpDir, "config", "embedded_config.json"),
		BuildDir:   filepath.Join(tmpDir, "build"),
	}

	t.Setenv("EMBEDINSTALL_TARGET", env.TargetDir)
	t.Setenv("EMBEDINSTALL_CONFIG", env.ConfigPath)

	// Keep working areas inside the test root
	t.Setenv("TMPDIR", filepath.Join(tmpDir, "tmp"))

	dirs := []string{
		env.TargetDir,
		filepath.Dir(env.ConfigPath),
		env.BuildDir,
		filepath.Join(tmpDir, "tmp"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatalf("failed to create test directory %s: %v", dir, err)
		}
	}

	return env
}

// WriteConfig writes data to env.ConfigPath.
func (e *Env) WriteConfig(t *testing.T, data string) {
	t.Helper()
	if err := os.WriteFile(e.ConfigPath, []byte(data), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
}
