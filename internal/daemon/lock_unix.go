//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile is an exclusive advisory lock on the daemon lock file.
type lockFile struct {
	path string
	f    *os.File
}

// acquireLock takes an exclusive flock on path without blocking. The
// holder's pid is written to the file for debugging; the flock itself is
// what guards single-instance operation, so a stale pid left by a crash
// is harmless.
func acquireLock(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644) // #nosec G304 - controlled path from config
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return nil, fmt.Errorf("another daemon holds %s", path)
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	_ = f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &lockFile{path: path, f: f}, nil
}

func (l *lockFile) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
