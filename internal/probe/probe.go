// Package probe decides whether the native sqlite3 module is already usable
// from an installation directory.
//
// A module counts as loadable when every required artifact is present and
// every shared library among them can be loaded by the operating system. On
// platforms other than Windows the load step always succeeds, so presence of
// the files is the only signal.
package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/embedded"
)

// ArtifactStatus describes one installed piece.
type ArtifactStatus struct {
	Name    string `json:"name" yaml:"name"`
	Path    string `json:"path" yaml:"path"`
	Present bool   `json:"present" yaml:"present"`
	// Loadable is only meaningful for shared libraries.
	Loadable bool   `json:"loadable" yaml:"loadable"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Prober checks an installation directory for the sqlite3 bundle.
type Prober struct {
	target embedded.Target
	load   func(path string) error
}

// New creates a Prober for target.
func New(target embedded.Target) *Prober {
	return &Prober{target: target, load: loadLibrary}
}

// CanLoad reports whether every artifact is present, every shared library
// loads and the package tree exists.
func (p *Prober) CanLoad(ctx context.Context) bool {
	for _, st := range p.Status(ctx) {
		if !st.Present || !st.Loadable {
			return false
		}
	}
	return true
}

// Status inspects each artifact and the package tree.
func (p *Prober) Status(ctx context.Context) []ArtifactStatus {
	paths := p.target.ArtifactPaths()
	statuses := make([]ArtifactStatus, 0, len(paths)+1)

	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		st := ArtifactStatus{Name: filepath.Base(path), Path: path}
		st.Present = isFile(path)
		st.Loadable = st.Present
		if st.Present && isSharedLibrary(path) {
			if err := p.load(path); err != nil {
				st.Loadable = false
				st.Error = err.Error()
			}
		}
		statuses = append(statuses, st)
	}

	tree := p.target.TreePath()
	info, err := os.Stat(tree)
	present := err == nil && info.IsDir()
	statuses = append(statuses, ArtifactStatus{
		Name:     filepath.Base(tree),
		Path:     tree,
		Present:  present,
		Loadable: present,
	})

	return statuses
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// isSharedLibrary matches plain DLLs. Python extension modules (.pyd) need
// the interpreter loaded first and are only checked for presence.
func isSharedLibrary(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".dll")
}
