package spool

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// dirLock holds the advisory exclusive lock on the spool directory's lock
// file. The lock is kernel-mediated, so threads in this process and
// externally launched flush processes contend for the same lock.
type dirLock struct {
	fl *flock.Flock
}

// acquireDirLock blocks until the exclusive lock on .spool.lock is held.
// Callers must release() on every exit path.
func acquireDirLock(dir string) (*dirLock, error) {
	fl := flock.New(filepath.Join(dir, LockFileName))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquire spool lock: %w", err)
	}
	return &dirLock{fl: fl}, nil
}

func (l *dirLock) release() {
	_ = l.fl.Unlock()
}
