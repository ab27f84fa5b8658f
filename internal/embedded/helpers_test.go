package embedded

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/platform"
)

// buildZip returns a zip archive holding files. Names ending in "/" become
// directory entries.
func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}
	return buf.Bytes()
}

// writeZip writes a zip archive to dir/name and returns its path.
func writeZip(t *testing.T, dir, name string, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buildZip(t, files), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// writeTarGz writes a tar.gz archive to dir/name and returns its path.
func writeTarGz(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer func() { _ = f.Close() }()

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		header := &tar.Header{
			Name:     name,
			Mode:     0644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header for %s: %v", name, err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write content for %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}
	return path
}

// tarEntry is one header written by writeTarEntries.
type tarEntry struct {
	name     string
	typeflag byte
	linkname string
	body     string
}

// writeTarEntries writes a tar.gz holding entries in order. Links and
// directories carry no body.
func writeTarEntries(t *testing.T, dir, name string, entries []tarEntry) string {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		header := &tar.Header{
			Name:     e.name,
			Mode:     0644,
			Typeflag: e.typeflag,
			Linkname: e.linkname,
		}
		if e.typeflag == tar.TypeReg {
			header.Size = int64(len(e.body))
		}
		if e.typeflag == tar.TypeDir {
			header.Mode = 0755
		}
		if err := tw.WriteHeader(header); err != nil {
			t.Fatalf("failed to write header for %s: %v", e.name, err)
		}
		if header.Size > 0 {
			if _, err := tw.Write([]byte(e.body)); err != nil {
				t.Fatalf("failed to write content for %s: %v", e.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to close tar writer: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("failed to close gzip writer: %v", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// writeZipSymlink writes a zip whose first entry is a symlink name -> link,
// followed by the regular files.
func writeZipSymlink(t *testing.T, dir, archive, name, link string, files map[string][]byte) string {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	header := &zip.FileHeader{Name: name, Method: zip.Store}
	header.SetMode(os.ModeSymlink | 0777)
	w, err := zw.CreateHeader(header)
	if err != nil {
		t.Fatalf("failed to create symlink entry %s: %v", name, err)
	}
	if _, err := w.Write([]byte(link)); err != nil {
		t.Fatalf("failed to write symlink entry %s: %v", name, err)
	}

	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", n, err)
		}
		if _, err := w.Write(files[n]); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}

	path := filepath.Join(dir, archive)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}

// nestedStdlib is the content of the python311.zip inside the bundle.
func nestedStdlib(t *testing.T) []byte {
	return buildZip(t, map[string][]byte{
		"sqlite3/__init__.py":    []byte("from sqlite3.dbapi2 import *\n"),
		"sqlite3/dbapi2.py":      []byte("# dbapi2\n"),
		"sqlite3/dump.py":        []byte("# dump\n"),
		"encodings/__init__.py":  []byte("# encodings\n"),
		"sqlite3/test/README.md": []byte("tests\n"),
	})
}

// bundleFiles is a complete embeddable distribution.
func bundleFiles(t *testing.T) map[string][]byte {
	return map[string][]byte{
		DriverBinary:     []byte("pyd binary"),
		CompanionLibrary: []byte("dll binary"),
		"python311.zip":  nestedStdlib(t),
		"python.exe":     []byte("exe"),
	}
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// archiveServer serves files by URL path and counts requests.
type archiveServer struct {
	*httptest.Server
	hits atomic.Int32
}

// newArchiveServer serves body at /embedded.zip.
func newArchiveServer(t *testing.T, body []byte) *archiveServer {
	return newFileServer(t, map[string][]byte{"/embedded.zip": body})
}

func newFileServer(t *testing.T, files map[string][]byte) *archiveServer {
	t.Helper()
	s := &archiveServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

// newBlockingServer never answers until the client goes away.
func newBlockingServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Second):
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *archiveServer) archiveURL() string {
	return s.URL + "/embedded.zip"
}

// staticProvider returns a fixed InstallSpec or error for every section.
type staticProvider struct {
	spec     *config.InstallSpec
	err      error
	sections []string
}

func (p *staticProvider) Spec(section string) (*config.InstallSpec, error) {
	p.sections = append(p.sections, section)
	if p.err != nil {
		return nil, p.err
	}
	return p.spec, nil
}

// funcProbe adapts a function to CapabilityProbe.
type funcProbe func() bool

func (f funcProbe) CanLoad(ctx context.Context) bool { return f() }

// artifactProbe reports the capability present once the driver binary
// exists in dir.
func artifactProbe(dir string) CapabilityProbe {
	return funcProbe(func() bool {
		return fileExists(filepath.Join(dir, DriverBinary))
	})
}

func windowsPlatform(arch string) PlatformChecker {
	return platform.NewMatcher(&platform.StaticDetector{Info: &platform.Info{OS: "windows", Arch: arch}}, "")
}

func linuxPlatform() PlatformChecker {
	return platform.NewMatcher(&platform.StaticDetector{Info: &platform.Info{OS: "linux", Arch: "amd64"}}, "")
}

// countingProgress records Start and Stop calls.
type countingProgress struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (p *countingProgress) Start() { p.starts.Add(1) }
func (p *countingProgress) Stop()  { p.stops.Add(1) }

type logEntry struct {
	level string
	msg   string
	kv    []interface{}
}

// recordingLogger keeps every entry.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, kv []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, kv: kv})
}

func (l *recordingLogger) Debug(msg string, kv ...interface{}) { l.add("debug", msg, kv) }
func (l *recordingLogger) Info(msg string, kv ...interface{})  { l.add("info", msg, kv) }
func (l *recordingLogger) Warn(msg string, kv ...interface{})  { l.add("warn", msg, kv) }
func (l *recordingLogger) Error(msg string, kv ...interface{}) { l.add("error", msg, kv) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func (l *recordingLogger) all() []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logEntry(nil), l.entries...)
}

// listDir returns the sorted entry names of dir, or nil if it is missing.
func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read %s: %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func mustMkdir(t *testing.T, path string) string {
	t.Helper()
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	return path
}

func fmtEntries(entries []logEntry) string {
	var buf bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&buf, "%s: %s %v\n", e.level, e.msg, e.kv)
	}
	return buf.String()
}
