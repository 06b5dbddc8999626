package cmd

import (
	"fmt"
	"sync"

	"github.com/gofrs/flock"

	"github.com/blazeload/blaze/internal/config"
)

var (
	instanceLock   *flock.Flock
	instanceLockMu sync.Mutex
)

// AcquireLock takes the single-instance lock. It returns false when another
// daemon already holds it.
func AcquireLock() (bool, error) {
	instanceLockMu.Lock()
	defer instanceLockMu.Unlock()

	if instanceLock != nil && instanceLock.Locked() {
		return true, nil
	}

	l := flock.New(config.GetLockPath())
	locked, err := l.TryLock()
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.Path(), err)
	}
	if !locked {
		return false, nil
	}
	instanceLock = l
	return true, nil
}

// ReleaseLock releases the lock taken by AcquireLock.
func ReleaseLock() error {
	instanceLockMu.Lock()
	defer instanceLockMu.Unlock()

	if instanceLock == nil {
		return nil
	}
	err := instanceLock.Unlock()
	instanceLock = nil
	return err
}
