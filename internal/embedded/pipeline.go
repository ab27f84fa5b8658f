package embedded

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ZebulonRouseFrantzich/embedinstall/internal/config"
	"github.com/ZebulonRouseFrantzich/embedinstall/internal/platform"
)

// PlatformChecker decides whether the host is the install target.
type PlatformChecker interface {
	IsTargetPlatform(ctx context.Context) bool
	Info(ctx context.Context) (*platform.Info, error)
}

// CapabilityProbe reports whether the native module can already be loaded.
type CapabilityProbe interface {
	CanLoad(ctx context.Context) bool
}

// Fetcher downloads the archive and its side files.
type Fetcher interface {
	Fetch(ctx context.Context, url string, sink io.Writer) ([]byte, error)
	Persist(data []byte, path string) error
	DownloadToFile(ctx context.Context, url, path string) error
}

// ArchiveExtractor unpacks an archive into a directory.
type ArchiveExtractor interface {
	Extract(archivePath, destDir string) error
}

// Config holds the collaborators of a Pipeline. Target, Provider, Platform
// and Probe are required; everything else has a default.
type Config struct {
	Target   Target
	Provider config.Provider
	Platform PlatformChecker
	Probe    CapabilityProbe

	Downloader Fetcher
	Extractor  ArchiveExtractor
	Verifier   *Verifier
	Logger     config.Logger

	// ShowProgress starts a progress display around the blocking work.
	ShowProgress bool
	// NewProgress builds the display; defaults to a Progress on ProgressOut.
	NewProgress func(message, title string) ProgressReporter
	// ProgressOut receives the default progress display. Defaults to stderr.
	ProgressOut io.Writer
	Messages    Messages

	// TempDir is the parent of the per-attempt working area and of the
	// install lock. Empty means os.TempDir().
	TempDir string
}

// Pipeline installs the embedded sqlite3 bundle. Install holds a lock file
// for the target directory, so a concurrent attempt against the same target
// fails with ErrInstallInProgress instead of interleaving.
type Pipeline struct {
	target     Target
	provider   config.Provider
	platform   PlatformChecker
	probe      CapabilityProbe
	downloader Fetcher
	extractor  ArchiveExtractor
	verifier   *Verifier
	logger     config.Logger

	showProgress bool
	newProgress  func(message, title string) ProgressReporter
	messages     Messages
	tempDir      string

	state State
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Target.Dir == "" {
		return nil, fmt.Errorf("target directory is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("config provider is required")
	}
	if cfg.Platform == nil {
		return nil, fmt.Errorf("platform checker is required")
	}
	if cfg.Probe == nil {
		return nil, fmt.Errorf("capability probe is required")
	}

	p := &Pipeline{
		target:       cfg.Target.withDefaults(),
		provider:     cfg.Provider,
		platform:     cfg.Platform,
		probe:        cfg.Probe,
		downloader:   cfg.Downloader,
		extractor:    cfg.Extractor,
		verifier:     cfg.Verifier,
		logger:       cfg.Logger,
		showProgress: cfg.ShowProgress,
		newProgress:  cfg.NewProgress,
		messages:     cfg.Messages,
		tempDir:      cfg.TempDir,
		state:        StateIdle,
	}

	if p.downloader == nil {
		p.downloader = NewDownloader(DownloaderOptions{})
	}
	if p.extractor == nil {
		p.extractor = NewExtractor()
	}
	if p.verifier == nil {
		p.verifier = NewVerifier(VerifierOptions{})
	}
	if p.logger == nil {
		p.logger = config.NopLogger()
	}
	if p.messages == nil {
		p.messages = DefaultMessages
	}
	if p.newProgress == nil {
		out := cfg.ProgressOut
		if out == nil {
			out = os.Stderr
		}
		p.newProgress = func(message, title string) ProgressReporter {
			return NewProgress(out, message, title)
		}
	}

	return p, nil
}

// Target returns the installation target.
func (p *Pipeline) Target() Target {
	return p.target
}

// State returns the state reached by the last Install call.
func (p *Pipeline) State() State {
	return p.state
}

// NeedsInstall reports whether the bundle has to be installed: only on the
// target platform, and only when the native module cannot be loaded.
func (p *Pipeline) NeedsInstall(ctx context.Context) bool {
	if !p.platform.IsTargetPlatform(ctx) {
		return false
	}
	return !p.probe.CanLoad(ctx)
}

// attempt carries the per-call values of one Install.
type attempt struct {
	id       string
	work     string
	progress ProgressReporter
	result   *Result
}

// Install runs the whole installation. Failures are returned as
// *InstallError; a failed final directory copy panics with *FatalError.
// The working area is removed and the progress display stopped on every
// exit path, including that panic.
func (p *Pipeline) Install(ctx context.Context) (*Result, error) {
	start := time.Now()
	a := &attempt{
		id:     uuid.NewString(),
		result: &Result{},
	}
	a.result.AttemptID = a.id

	p.state = StateNeedCheck
	if !p.NeedsInstall(ctx) {
		p.state = StateSkip
		p.logger.Info("sqlite3 is already installed.", "attempt", a.id)
		a.result.Skipped = true
		a.result.Duration = time.Since(start)
		return a.result, nil
	}

	spec, err := p.installSpec(ctx)
	if err != nil {
		return nil, p.fail(a, ErrConfigUnavailable, "", err, "unable to get embedded config")
	}

	lockDir := p.tempDir
	if lockDir == "" {
		lockDir = os.TempDir()
	}
	lock, err := acquireInstallLock(ctx, lockDir, p.target.Dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, p.fail(a, ErrTimeout, "", err, "installation interrupted")
		}
		return nil, p.fail(a, ErrInstallInProgress, "", err, "unable to lock installation target", "target", p.target.Dir)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			p.logger.Warn("unable to release install lock", "attempt", a.id, "error", err)
		}
	}()

	if p.showProgress {
		p.logger.Debug("starting progress display", "attempt", a.id)
		a.progress = p.startProgress()
		defer func() {
			p.logger.Debug("ending progress display", "attempt", a.id)
			a.progress.Stop()
		}()
	} else {
		p.logger.Debug("progress display is disabled", "attempt", a.id)
	}

	work, err := os.MkdirTemp(p.tempDir, workDirPattern)
	if err != nil {
		return nil, p.fail(a, ErrPersistFailed, "", err, "unable to create working directory")
	}
	a.work = work
	defer func() {
		if err := os.RemoveAll(work); err != nil {
			p.logger.Warn("unable to remove working directory", "attempt", a.id, "path", work, "error", err)
		}
	}()

	if err := p.run(ctx, a, spec); err != nil {
		return nil, err
	}

	p.state = StateDone
	a.result.Duration = time.Since(start)
	p.logger.Info("sqlite3 installed", "attempt", a.id, "target", p.target.Dir, "duration", a.result.Duration)
	return a.result, nil
}

// run executes the fetch, verify, extract and copy chain inside a.work.
func (p *Pipeline) run(ctx context.Context, a *attempt, spec *config.InstallSpec) error {
	archivePath, err := p.download(ctx, a, spec)
	if err != nil {
		return err
	}

	if err := p.verify(ctx, a, spec, archivePath); err != nil {
		return err
	}

	if err := p.checkContext(ctx, a); err != nil {
		return err
	}
	p.state = StateExtracting
	extractDir := filepath.Join(a.work, extractDirName)
	if err := p.unpack(a, archivePath, extractDir); err != nil {
		return err
	}

	p.state = StateArtifactCheck
	for _, name := range p.target.Artifacts {
		src := filepath.Join(extractDir, name)
		if !fileExists(src) {
			return p.fail(a, ErrMissingArtifact, name, nil, "unable to find required file", "path", src)
		}
	}

	if err := p.checkContext(ctx, a); err != nil {
		return err
	}
	p.state = StateCopying
	for _, name := range p.target.Artifacts {
		src := filepath.Join(extractDir, name)
		dst := filepath.Join(p.target.Dir, name)
		if err := copyFile(src, dst); err != nil {
			return p.fail(a, ErrCopyFailed, name, err, "unable to copy file", "source", src, "destination", dst)
		}
		if !fileExists(dst) {
			return p.fail(a, ErrCopyFailed, name, nil, "file has not been copied", "destination", dst)
		}
		p.logger.Debug("file has been copied", "attempt", a.id, "destination", dst)
		a.result.Installed = append(a.result.Installed, dst)
	}

	return p.copyNestedTree(ctx, a, extractDir)
}

func (p *Pipeline) download(ctx context.Context, a *attempt, spec *config.InstallSpec) (string, error) {
	p.state = StateFetching
	name := archiveFileFor(spec.URL)
	archivePath := filepath.Join(a.work, name)

	if d, ok := p.downloader.(*Downloader); ok && d.Insecure() {
		p.logger.Warn("TLS certificate verification is disabled for this download", "attempt", a.id, "url", spec.URL)
	}

	var sink io.Writer
	if w, ok := a.progress.(io.Writer); ok {
		sink = w
	}

	data, err := p.downloader.Fetch(ctx, spec.URL, sink)
	if err != nil {
		if ctx.Err() != nil {
			return "", p.fail(a, ErrTimeout, "", err, "download interrupted", "url", spec.URL)
		}
		return "", p.fail(a, ErrDownloadFailed, "", err, "unable to download embedded archive", "url", spec.URL)
	}

	if err := p.downloader.Persist(data, archivePath); err != nil {
		return "", p.fail(a, ErrPersistFailed, name, err, "unable to save embedded archive", "path", archivePath)
	}
	if !fileExists(archivePath) {
		return "", p.fail(a, ErrPersistFailed, name, nil, "embedded archive missing after save", "path", archivePath)
	}

	p.logger.Info("embedded archive has been saved", "attempt", a.id, "path", archivePath, "bytes", len(data))
	return archivePath, nil
}

func (p *Pipeline) verify(ctx context.Context, a *attempt, spec *config.InstallSpec, archivePath string) error {
	p.state = StateVerifying
	name := filepath.Base(archivePath)

	digests := []struct {
		algo     Algorithm
		expected string
	}{
		{AlgorithmMD5, spec.MD5},
		{AlgorithmSHA256, spec.SHA256},
	}
	for _, d := range digests {
		if d.expected == "" {
			continue
		}
		res := p.verifier.VerifyDigest(archivePath, d.algo, d.expected)
		if !res.Success {
			return p.fail(a, ErrIntegrityMismatch, name, res.Error, "verification failed",
				"method", res.Method, "path", archivePath, "expected", res.Expected, "actual", res.Actual)
		}
		p.logger.Info("verification passed", "attempt", a.id, "method", res.Method)
		a.result.Verified = append(a.result.Verified, res.Method)
	}

	if spec.SignatureURL != "" {
		if !p.verifier.CanVerifySignature() {
			p.logger.Warn("signature available but no keyring configured; skipping", "attempt", a.id, "url", spec.SignatureURL)
		} else {
			sigPath := archivePath+".sig"
			if err := p.fetchSideFile(ctx, a, spec.SignatureURL, sigPath); err != nil {
				return err
			}
			res := p.verifier.VerifySignature(archivePath, sigPath)
			if !res.Success {
				return p.fail(a, ErrSignatureInvalid, name, res.Error, "signature verification failed", "method", res.Method)
			}
			a.result.Verified = append(a.result.Verified, res.Method)
		}
	}

	if spec.BundleURL != "" {
		if !p.verifier.CanVerifyBundle() {
			p.logger.Warn("sigstore bundle available but no trusted root or identity configured; skipping", "attempt", a.id, "url", spec.BundleURL)
		} else {
			bundlePath := archivePath+".sigstore.json"
			if err := p.fetchSideFile(ctx, a, spec.BundleURL, bundlePath); err != nil {
				return err
			}
			res := p.verifier.VerifyBundle(archivePath, bundlePath)
			if !res.Success {
				return p.fail(a, ErrSignatureInvalid, name, res.Error, "bundle verification failed", "method", res.Method)
			}
			a.result.Verified = append(a.result.Verified, res.Method)
		}
	}

	if len(a.result.Verified) == 0 {
		p.logger.Debug("no digest configured; verification skipped", "attempt", a.id)
	}
	return nil
}

func (p *Pipeline) fetchSideFile(ctx context.Context, a *attempt, url, path string) error {
	if err := p.downloader.DownloadToFile(ctx, url, path); err != nil {
		if ctx.Err() != nil {
			return p.fail(a, ErrTimeout, "", err, "download interrupted", "url", url)
		}
		return p.fail(a, ErrDownloadFailed, filepath.Base(path), err, "unable to download verification file", "url", url)
	}
	return nil
}

// unpack extracts archivePath into destDir and checks that destDir exists.
func (p *Pipeline) unpack(a *attempt, archivePath, destDir string) error {
	if err := p.extractor.Extract(archivePath, destDir); err != nil {
		return p.fail(a, ErrExtractionFailed, filepath.Base(archivePath), err, "unable to extract archive", "source", archivePath)
	}
	if !dirExists(destDir) {
		return p.fail(a, ErrExtractionFailed, filepath.Base(archivePath), nil, "archive has not been extracted", "destination", destDir)
	}
	p.logger.Debug("archive has been extracted", "attempt", a.id, "destination", destDir)
	return nil
}

// copyNestedTree extracts the nested archive and copies its tree into the
// target. This last copy is not verified before committing; a failure here
// panics with *FatalError.
func (p *Pipeline) copyNestedTree(ctx context.Context, a *attempt, extractDir string) error {
	if err := p.checkContext(ctx, a); err != nil {
		return err
	}
	p.state = StateNestedExtracting

	matches, err := filepath.Glob(filepath.Join(extractDir, p.target.NestedPattern))
	if err != nil {
		return p.fail(a, ErrNestedArchiveNotFound, p.target.NestedPattern, err, "invalid nested archive pattern")
	}
	switch len(matches) {
	case 0:
		return p.fail(a, ErrNestedArchiveNotFound, p.target.NestedPattern, nil, "no nested archive found", "dir", extractDir)
	case 1:
	default:
		return p.fail(a, ErrAmbiguousNestedArchive, p.target.NestedPattern, fmt.Errorf("%d matches", len(matches)),
			"more than one nested archive found", "matches", matches)
	}

	nestedDir := filepath.Join(extractDir, nestedDirName)
	if err := p.unpack(a, matches[0], nestedDir); err != nil {
		return err
	}

	p.state = StateNestedCopying
	src := filepath.Join(nestedDir, p.target.TreeName)
	dst := filepath.Join(p.target.Dir, p.target.TreeName)

	copyErr := copyTree(src, dst)
	if copyErr == nil && !dirExists(dst) {
		copyErr = errors.New("directory has not been copied")
	}
	if copyErr != nil {
		err := p.fail(a, ErrNestedCopyFailed, p.target.TreeName, copyErr, "unable to copy directory", "source", src, "destination", dst)
		panic(&FatalError{Err: err.(*InstallError)})
	}

	p.logger.Debug("directory has been copied", "attempt", a.id, "destination", dst)
	a.result.Installed = append(a.result.Installed, dst)
	return nil
}

// checkContext fails the attempt with ErrTimeout once ctx is done.
func (p *Pipeline) checkContext(ctx context.Context, a *attempt) error {
	if err := ctx.Err(); err != nil {
		return p.fail(a, ErrTimeout, "", err, "installation interrupted", "state", p.state)
	}
	return nil
}

// installSpec looks up the config section for the host architecture.
func (p *Pipeline) installSpec(ctx context.Context) (*config.InstallSpec, error) {
	section := config.Section64Bit
	if info, err := p.platform.Info(ctx); err == nil {
		section = info.BitKey()
	}

	spec, err := p.provider.Spec(section)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (p *Pipeline) startProgress() ProgressReporter {
	msg := p.messages.Resolve(MsgInstalling)
	if msg == "" {
		msg = DefaultMessages[MsgInstalling]
	}
	title := p.messages.Resolve(MsgTitle)
	if title == "" {
		title = DefaultMessages[MsgTitle]
	}

	progress := p.newProgress(fmt.Sprintf("%s %s", msg, p.target.TreeName), title)
	progress.Start()
	return progress
}

// fail logs the failure, moves to StateFailed and returns the structured error.
func (p *Pipeline) fail(a *attempt, kind error, name string, cause error, msg string, keysAndValues ...interface{}) error {
	p.state = StateFailed
	kv := append([]interface{}{"attempt", a.id, "kind", kind.Error()}, keysAndValues...)
	if name != "" {
		kv = append(kv, "name", name)
	}
	if cause != nil {
		kv = append(kv, "error", cause)
	}
	p.logger.Error(msg, kv...)
	return &InstallError{Kind: kind, Name: name, Err: cause}
}
