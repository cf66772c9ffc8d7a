package project

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nbdeploy/nbdeploy/pkg/deployerr"
)

const lockFileName = "lock"

// staleLockAge is the age past which a lock is reported as likely left over
// from a crashed invocation. The lock is never removed automatically;
// deployments are operator-driven and a stuck lock signals a prior crash that
// deserves inspection.
const staleLockAge = 10 * time.Minute

// Lock is a held advisory lock on a project directory.
type Lock struct {
	path string
}

// AcquireLock takes the exclusive advisory lock for a project directory. It
// fails fast with a concurrency error when the lock is already held rather
// than blocking; there is no cross-process queueing.
func AcquireLock(dir string) (*Lock, error) {
	metaDir := filepath.Join(dir, MetaDirName)
	if err := os.MkdirAll(metaDir, 0o700); err != nil {
		return nil, deployerr.NewStateCorruption("cannot create project metadata directory", err)
	}

	path := filepath.Join(metaDir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, holdContentionError(path)
		}
		return nil, deployerr.NewStateCorruption("cannot create lock file", err)
	}

	fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, deployerr.NewStateCorruption("cannot write lock file", err)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return deployerr.NewStateCorruption("cannot remove lock file", err)
	}
	return nil
}

// holdContentionError builds the concurrency error for a held lock, noting
// its age when the holder looks crashed.
func holdContentionError(path string) error {
	msg := fmt.Sprintf("project is locked by another invocation (lock file: %s)", path)
	if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) > staleLockAge {
		msg = fmt.Sprintf(
			"project is locked by another invocation (lock file: %s, held for %s; "+
				"if the holder crashed, remove the lock file manually)",
			path, time.Since(info.ModTime()).Round(time.Second))
	}
	return deployerr.NewConcurrency(msg, nil)
}
