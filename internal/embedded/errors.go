package embedded

import (
	"errors"
	"fmt"
)

// Error kinds returned by Pipeline.Install. Test with errors.Is.
var (
	ErrConfigUnavailable      = errors.New("embedded config unavailable")
	ErrDownloadFailed         = errors.New("download failed")
	ErrPersistFailed          = errors.New("downloaded archive could not be saved")
	ErrIntegrityMismatch      = errors.New("integrity check failed")
	ErrSignatureInvalid       = errors.New("signature verification failed")
	ErrExtractionFailed       = errors.New("extraction failed")
	ErrMissingArtifact        = errors.New("required artifact missing")
	ErrCopyFailed             = errors.New("copy failed")
	ErrNestedArchiveNotFound  = errors.New("nested archive not found")
	ErrAmbiguousNestedArchive = errors.New("more than one nested archive")
	ErrNestedCopyFailed       = errors.New("directory tree copy failed")
	ErrTimeout                = errors.New("installation cancelled or timed out")
	ErrInstallInProgress      = errors.New("another installation is in progress")
)

// InstallError is the structured failure of one installation attempt.
type InstallError struct {
	Kind error  // one of the Err* kinds
	Name string // artifact or file the failure is about, if any
	Err  error  // underlying cause, may be nil
}

func (e *InstallError) Error() string {
	msg := e.Kind.Error()
	if e.Name != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Name)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is matches the error kind.
func (e *InstallError) Is(target error) bool {
	return target == e.Kind
}

func (e *InstallError) Unwrap() error {
	return e.Err
}

// FatalError is the panic value raised when the final directory tree copy
// fails. Every other failure is returned as *InstallError.
type FatalError struct {
	Err *InstallError
}

func (e *FatalError) Error() string {
	return "fatal: " + e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// RecoverFatal turns a *FatalError panic into an error stored in *errp.
// Other panics are re-raised. Use it as a deferred call:
//
//	defer embedded.RecoverFatal(&err)
func RecoverFatal(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if fatal, ok := r.(*FatalError); ok {
		*errp = fatal
		return
	}
	panic(r)
}
