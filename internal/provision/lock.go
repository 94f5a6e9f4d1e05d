package provision

import (
	"context"
	"fmt"
	"os"
	"time"
)

// cacheLock is an advisory lock on "<cache path>.lock" held while a cache
// path is being validated, downloaded or replaced.
type cacheLock struct {
	file *os.File
}

// lockFile is swapped in tests.
var lockFile = tryLockFile

// acquireLock blocks until the lock on path is held or ctx is done. It polls
// with backoff, since neither flock nor LockFileEx accept a deadline. Errors
// other than contention, such as a filesystem without lock support, fail at
// once.
func acquireLock(ctx context.Context, path string) (*cacheLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	wait := 10 * time.Millisecond
	for {
		err := lockFile(file)
		if err == nil {
			return &cacheLock{file: file}, nil
		}
		if !lockHeld(err) {
			file.Close()
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}

		select {
		case <-ctx.Done():
			file.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		case <-time.After(wait):
		}
		if wait < 200*time.Millisecond {
			wait *= 2
		}
	}
}

// release unlocks and closes the lock file. Safe to call more than once.
func (l *cacheLock) release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	l.file.Close()
	l.file = nil
	return err
}
