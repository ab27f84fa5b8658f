package embedded

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver"
)

// supportedExtensions lists the archive suffixes Extract accepts.
var supportedExtensions = []string{".zip", ".tar.gz", ".tgz"}

// Extractor unpacks archives. Format detection and entry handling are
// delegated to archiver; Extractor only prepares the destination and
// reports failures.
type Extractor struct{}

// NewExtractor creates a new extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract unpacks archivePath into destDir, creating destDir if needed.
// Checking that destDir exists afterwards is the caller's job.
func (e *Extractor) Extract(archivePath, destDir string) error {
	if !isSupportedArchive(archivePath) {
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}

	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	if err := checkEntries(archivePath, destDir); err != nil {
		return err
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("create dest dir: %w", err)
	}

	if err := archiver.Unarchive(archivePath, destDir); err != nil {
		return fmt.Errorf("unarchive %s: %w", filepath.Base(archivePath), err)
	}

	return nil
}

func isSupportedArchive(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range supportedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// archiveEntry is the part of an archive header the pre-scan needs.
type archiveEntry struct {
	name     string
	link     string
	symlink  bool
	hardlink bool
}

// maxLinkTarget bounds the zip entry body read as a symlink target.
const maxLinkTarget = 4096

// checkEntries rejects archives with entries that would land outside
// destDir, before anything is written. Symlink and hard link targets must
// resolve inside destDir, and no entry may be written beneath a symlink
// entry.
func checkEntries(archivePath, destDir string) error {
	entries, err := readEntries(archivePath)
	if err != nil {
		return err
	}

	dest := filepath.Clean(destDir)
	symlinks := make(map[string]bool)
	for _, e := range entries {
		target := filepath.Join(dest, e.name)
		if !within(dest, target) {
			return fmt.Errorf("illegal file path: %s", e.name)
		}

		switch {
		case e.symlink:
			linkTarget := e.link
			if !filepath.IsAbs(linkTarget) {
				linkTarget = filepath.Join(filepath.Dir(target), linkTarget)
			}
			if !within(dest, filepath.Clean(linkTarget)) {
				return fmt.Errorf("illegal file path: symlink %s -> %s", e.name, e.link)
			}
			symlinks[target] = true
		case e.hardlink:
			if !within(dest, filepath.Join(dest, e.link)) {
				return fmt.Errorf("illegal file path: link %s -> %s", e.name, e.link)
			}
		}
	}

	for _, e := range entries {
		for dir := filepath.Dir(filepath.Join(dest, e.name)); within(dest, dir) && dir != dest; dir = filepath.Dir(dir) {
			if symlinks[dir] {
				return fmt.Errorf("illegal file path: %s is beneath symlink %s", e.name, dir)
			}
		}
	}
	return nil
}

// within reports whether path is root or below it. Both must be clean.
func within(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

func readEntries(archivePath string) ([]archiveEntry, error) {
	if strings.HasSuffix(strings.ToLower(archivePath), ".zip") {
		return readZipEntries(archivePath)
	}
	return readTarEntries(archivePath)
}

func readZipEntries(archivePath string) ([]archiveEntry, error) {
	r, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return nil, fmt.Errorf("illegal file path in %s: %w", filepath.Base(archivePath), err)
	}
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	entries := make([]archiveEntry, 0, len(r.File))
	for _, f := range r.File {
		e := archiveEntry{name: f.Name}
		if f.Mode()&os.ModeSymlink != 0 {
			link, err := readZipLink(f)
			if err != nil {
				return nil, err
			}
			e.symlink, e.link = true, link
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// readZipLink returns the target of a zip symlink entry, stored as its body.
func readZipLink(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxLinkTarget))
	if err != nil {
		return "", fmt.Errorf("read zip entry %s: %w", f.Name, err)
	}
	return string(data), nil
}

func readTarEntries(archivePath string) ([]archiveEntry, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	var entries []archiveEntry
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return entries, nil
		}
		if errors.Is(err, tar.ErrInsecurePath) {
			return nil, fmt.Errorf("illegal file path: %s", header.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		e := archiveEntry{name: header.Name, link: header.Linkname}
		switch header.Typeflag {
		case tar.TypeSymlink:
			e.symlink = true
		case tar.TypeLink:
			e.hardlink = true
		}
		entries = append(entries, e)
	}
}
