package embedded

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Default artifact names for the sqlite3 driver bundle.
const (
	DriverBinary     = "_sqlite3.pyd"
	CompanionLibrary = "sqlite3.dll"
	// DefaultNestedPattern matches the standard library archive shipped
	// inside the embeddable Python distribution (python311.zip and friends).
	DefaultNestedPattern = "python*.zip"
	// DefaultTreeName is the package directory copied out of the nested archive.
	DefaultTreeName = "sqlite3"
)

// Working area layout.
const (
	archiveFileName = "embedded_py.zip"
	archiveTarName  = "embedded_py.tar.gz"
	extractDirName  = "embedded_py"
	nestedDirName   = "internal_py"
	workDirPattern  = "embedinstall-*"
)

// Target describes where the bundle is installed and which pieces of the
// extracted archive must end up there. The pipeline only adds to Dir.
type Target struct {
	// Dir is the installation directory on the host.
	Dir string
	// Artifacts are file names that must exist at the root of the
	// extracted archive; each is copied to Dir.
	Artifacts []string
	// NestedPattern is a glob matched against the extraction root to find
	// the nested archive.
	NestedPattern string
	// TreeName is the directory inside the nested archive copied to Dir.
	TreeName string
}

// DefaultTarget returns the sqlite3 target for installation directory dir.
func DefaultTarget(dir string) Target {
	return Target{
		Dir:           dir,
		Artifacts:     []string{DriverBinary, CompanionLibrary},
		NestedPattern: DefaultNestedPattern,
		TreeName:      DefaultTreeName,
	}
}

// withDefaults fills empty fields from DefaultTarget.
func (t Target) withDefaults() Target {
	d := DefaultTarget(t.Dir)
	if len(t.Artifacts) == 0 {
		t.Artifacts = d.Artifacts
	}
	if t.NestedPattern == "" {
		t.NestedPattern = d.NestedPattern
	}
	if t.TreeName == "" {
		t.TreeName = d.TreeName
	}
	return t
}

// ArtifactPaths returns the installed location of every required artifact.
func (t Target) ArtifactPaths() []string {
	t = t.withDefaults()
	paths := make([]string, 0, len(t.Artifacts))
	for _, name := range t.Artifacts {
		paths = append(paths, filepath.Join(t.Dir, name))
	}
	return paths
}

// TreePath returns the installed location of the copied directory tree.
func (t Target) TreePath() string {
	return filepath.Join(t.Dir, t.withDefaults().TreeName)
}

// State is a step of the installation state machine.
type State int

const (
	StateIdle State = iota
	StateNeedCheck
	StateSkip
	StateFetching
	StateVerifying
	StateExtracting
	StateArtifactCheck
	StateCopying
	StateNestedExtracting
	StateNestedCopying
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateNeedCheck:        "need-check",
	StateSkip:             "skip",
	StateFetching:         "fetching",
	StateVerifying:        "verifying",
	StateExtracting:       "extracting",
	StateArtifactCheck:    "artifact-check",
	StateCopying:          "copying",
	StateNestedExtracting: "nested-extracting",
	StateNestedCopying:    "nested-copying",
	StateDone:             "done",
	StateFailed:           "failed",
}

// String returns the string representation of the state
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateSkip || s == StateFailed
}

// VerificationMethod indicates how the archive was checked
type VerificationMethod int

const (
	// VerificationNone means no check was configured
	VerificationNone VerificationMethod = iota
	VerificationMD5
	VerificationSHA256
	VerificationGPG
	VerificationSigstore
)

// String returns the string representation of the verification method
func (v VerificationMethod) String() string {
	switch v {
	case VerificationNone:
		return "None"
	case VerificationMD5:
		return "MD5"
	case VerificationSHA256:
		return "SHA256"
	case VerificationGPG:
		return "GPG"
	case VerificationSigstore:
		return "Sigstore"
	default:
		return "Unknown"
	}
}

// VerificationResult contains the outcome of one verification step
type VerificationResult struct {
	Method   VerificationMethod
	Success  bool
	Expected string
	Actual   string
	Error    error
}

// Result summarizes a completed Install call.
type Result struct {
	AttemptID string
	Skipped   bool
	Installed []string
	Verified  []VerificationMethod
	Duration  time.Duration
}

// archiveFileFor names the local copy of the archive at rawURL. The
// extension follows the URL path so the extractor sees the real format;
// anything that is not a tarball is saved as a zip.
func archiveFileFor(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz") {
		return archiveTarName
	}
	return archiveFileName
}
