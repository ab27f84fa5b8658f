package main

import (
	"archive/zip"
	"bytes"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/output"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/testutil"
)

func zipOf(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// serveBundle serves a complete embeddable distribution and writes a
// matching config. It returns the request counter.
func serveBundle(t *testing.T, env *testutil.Env) *atomic.Int32 {
	t.Helper()

	body := zipOf(t, map[string][]byte{
		"_sqlite3.pyd": []byte("pyd"),
		"sqlite3.dll":  []byte("dll"),
		"python311.zip": zipOf(t, map[string][]byte{
			"sqlite3/__init__.py": []byte("init"),
		}),
	})
	sum := md5.Sum(body) //nolint:gosec

	hits := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	env.WriteConfig(t, fmt.Sprintf(`{
    "32_bit": {"url": %q, "md5": %q},
    "64_bit": {"url": %q, "md5": %q}
}`, server.URL+"/python-embed-win32.zip", hex.EncodeToString(sum[:]),
		server.URL+"/python-embed-amd64.zip", hex.EncodeToString(sum[:])))

	return hits
}

func TestInstallCommand(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	hits := serveBundle(t, env)

	var stdout, stderr bytes.Buffer
	code := run([]string{"install", "--force-platform", "windows/amd64", "--progress=false"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d\nstdout: %s\nstderr: %s", code, stdout.String(), stderr.String())
	}

	for _, name := range []string{"_sqlite3.pyd", "sqlite3.dll", "sqlite3/__init__.py"} {
		if _, err := os.Stat(filepath.Join(env.TargetDir, filepath.FromSlash(name))); err != nil {
			t.Errorf("%s not installed: %v", name, err)
		}
	}
	if !strings.Contains(stdout.String(), "sqlite3 installed into") {
		t.Errorf("stdout = %q", stdout.String())
	}

	// Second run finds everything in place.
	stdout.Reset()
	stderr.Reset()
	code = run([]string{"install", "--force-platform", "windows/amd64"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("second run exit code = %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Nothing to do.") {
		t.Errorf("second run stdout = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "sqlite3 is already installed.") {
		t.Errorf("second run stderr = %q", stderr.String())
	}
	if hits.Load() != 1 {
		t.Errorf("server received %d requests, want 1", hits.Load())
	}
}

func TestInstallCommandNonTargetPlatform(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	hits := serveBundle(t, env)

	var stdout, stderr bytes.Buffer
	code := run([]string{"install", "--force-platform", "linux/amd64"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d: %s", code, stderr.String())
	}
	if hits.Load() != 0 {
		t.Errorf("server received %d requests on a non-target platform", hits.Load())
	}
	if entries, _ := os.ReadDir(env.TargetDir); len(entries) != 0 {
		t.Errorf("target modified: %d entries", len(entries))
	}
}

func TestInstallCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, env *testutil.Env)
		args    []string
		wantErr string
	}{
		{
			name:    "no_target",
			setup:   func(t *testing.T, env *testutil.Env) { t.Setenv("EMBEDINSTALL_TARGET", "") },
			args:    []string{"install", "--force-platform", "windows/amd64"},
			wantErr: "installation directory required",
		},
		{
			name:    "missing_config",
			setup:   func(t *testing.T, env *testutil.Env) {},
			args:    []string{"install", "--force-platform", "windows/amd64", "--progress=false"},
			wantErr: "embedded config unavailable",
		},
		{
			name:    "bad_platform",
			setup:   func(t *testing.T, env *testutil.Env) {},
			args:    []string{"install", "--force-platform", "windows"},
			wantErr: "expected os/arch",
		},
		{
			name:    "unknown_arch",
			setup:   func(t *testing.T, env *testutil.Env) {},
			args:    []string{"status", "--force-platform", "windows/foo"},
			wantErr: "unsupported architecture: foo",
		},
		{
			name: "fatal_tree_copy",
			setup: func(t *testing.T, env *testutil.Env) {
				serveBundle(t, env)
				if err := os.WriteFile(filepath.Join(env.TargetDir, "sqlite3"), nil, 0644); err != nil {
					t.Fatal(err)
				}
			},
			args:    []string{"install", "--force-platform", "windows/amd64", "--progress=false"},
			wantErr: "fatal: directory tree copy failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.SetupTestEnv(t)
			tt.setup(t, env)

			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.Contains(stderr.String(), tt.wantErr) {
				t.Errorf("stderr missing %q:\n%s", tt.wantErr, stderr.String())
			}
		})
	}
}

func TestStatusCommand(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	serveBundle(t, env)

	var stdout, stderr bytes.Buffer
	code := run([]string{"status", "--force-platform", "windows/386", "-o", "json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d: %s", code, stderr.String())
	}

	var report output.StatusReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("status output is not JSON: %v\n%s", err, stdout.String())
	}
	if !report.TargetPlatform || !report.NeedsInstall || report.Installed {
		t.Errorf("report = %+v", report)
	}
	if report.Section != "32_bit" {
		t.Errorf("Section = %q, want 32_bit", report.Section)
	}
	if !strings.HasSuffix(report.URL, "python-embed-win32.zip") {
		t.Errorf("URL = %q", report.URL)
	}
	if len(report.Artifacts) != 3 {
		t.Errorf("Artifacts = %+v", report.Artifacts)
	}
	if entries, _ := os.ReadDir(env.TargetDir); len(entries) != 0 {
		t.Error("status modified the target")
	}
}

func TestStatusCommandText(t *testing.T) {
	testutil.SetupTestEnv(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"status", "--force-platform", "windows/amd64"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Platform: windows/amd64") {
		t.Errorf("stdout = %q", stdout.String())
	}
	if !strings.Contains(stdout.String(), "no such file") && !strings.Contains(stdout.String(), "cannot find") {
		t.Errorf("missing config not reported:\n%s", stdout.String())
	}
}

func TestStatusCommandBadFormat(t *testing.T) {
	testutil.SetupTestEnv(t)

	var stdout, stderr bytes.Buffer
	if code := run([]string{"status", "-o", "xml"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "unknown format") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

const testPyproject = `[project]
name = "ext"

[tool.oxt.embed.32_bit]
url = "https://www.python.org/ftp/python/3.11.9/python-3.11.9-embed-win32.zip"
md5 = "aaa"

[tool.oxt.embed.64_bit]
url = "https://www.python.org/ftp/python/3.11.9/python-3.11.9-embed-amd64.zip"
md5 = "bbb"
`

func TestGenConfigCommand(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	manifest := filepath.Join(env.Root, "pyproject.toml")
	if err := os.WriteFile(manifest, []byte(testPyproject), 0644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"gen-config", "--manifest", manifest, "--build-dir", env.BuildDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d: %s", code, stderr.String())
	}

	path := filepath.Join(env.BuildDir, "embedded_config", "embedded_config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}

	var got map[string]map[string]string
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["64_bit"]["md5"] != "bbb" || !strings.HasSuffix(got["32_bit"]["url"], "win32.zip") {
		t.Errorf("config = %v", got)
	}
	if !strings.Contains(string(data), "\n    \"32_bit\"") {
		t.Errorf("config not indented with 4 spaces:\n%s", data)
	}
}

func TestGenConfigFindsManifest(t *testing.T) {
	env := testutil.SetupTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.Root, "pyproject.toml"), []byte(testPyproject), 0644); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(env.Root, "src", "pkg")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)

	var stdout, stderr bytes.Buffer
	code := run([]string{"gen-config", "--build-dir", env.BuildDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "2 sections") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestVersionFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), Version) {
		t.Errorf("stdout = %q, want version %s", stdout.String(), Version)
	}
}

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in      string
		wantOS  string
		wantKey string
		wantErr bool
	}{
		{"windows/amd64", "windows", "64_bit", false},
		{"Windows/386", "windows", "32_bit", false},
		{"windows/arm64", "windows", "64_bit", false},
		{"windows/x64", "windows", "64_bit", false},
		{"windows/x86_64", "windows", "64_bit", false},
		{"windows/X86", "windows", "32_bit", false},
		{"windows/foo", "", "", true},
		{"windows/", "", "", true},
		{"linux", "", "", true},
		{"/amd64", "", "", true},
	}

	for _, tt := range tests {
		info, err := parsePlatform(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parsePlatform(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if info.OS != tt.wantOS || info.BitKey() != tt.wantKey {
			t.Errorf("parsePlatform(%q) = %+v (key %s)", tt.in, info, info.BitKey())
		}
	}
}

func TestZapLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false)
	logger.Debug("hidden")
	logger.Info("shown", "path", "/tmp/x")
	logger.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug entry written without verbose")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "/tmp/x") {
		t.Errorf("output = %q", out)
	}

	buf.Reset()
	verbose := newLogger(&buf, true)
	verbose.Debug("visible")
	verbose.Sync()
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("debug entry missing with verbose: %q", buf.String())
	}
}
