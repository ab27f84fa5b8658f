package embedded

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StaleLockThreshold is the age after which an install lock is considered
// abandoned and may be taken over.
const StaleLockThreshold = 30 * time.Minute

// errLockHeld is returned by acquireInstallLock when another live attempt
// holds the lock.
var errLockHeld = errors.New("install lock held: another installation may be in progress")

// installLock guards one target directory against concurrent installs.
// The lock file lives outside the target, which the pipeline only adds to.
type installLock struct {
	path string
	file *os.File
}

// lockPath returns the lock file for targetDir under dir.
func lockPath(dir, targetDir string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(targetDir)))
	return filepath.Join(dir, "embedinstall-"+hex.EncodeToString(sum[:6])+".lock")
}

// acquireInstallLock creates the lock file for targetDir with O_EXCL.
// A lock older than StaleLockThreshold is removed and retried once.
func acquireInstallLock(ctx context.Context, dir, targetDir string) (*installLock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	path := lockPath(dir, targetDir)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if stale, _ := isLockStale(path); !stale {
			return nil, errLockHeld
		}
		os.Remove(path)
		file, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err != nil {
			return nil, errLockHeld
		}
	}

	data := fmt.Sprintf("pid=%d\ntarget=%s\ntimestamp=%s\n", os.Getpid(), targetDir, time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(data); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	return &installLock{path: path, file: file}, nil
}

// Release removes the lock file. Calling it more than once is safe.
func (l *installLock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	path := l.path
	l.path = ""
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}

func isLockStale(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) > StaleLockThreshold, nil
}
