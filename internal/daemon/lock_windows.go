//go:build windows

package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// lockFile is an exclusive lock on the daemon lock file, held via
// LockFileEx over the whole file range.
type lockFile struct {
	path string
	f    *os.File
}

const allBytes = ^uint32(0)

func acquireLock(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644) // #nosec G304 - controlled path from config
	if err != nil {
		return nil, err
	}

	ol := new(windows.Overlapped)
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK | windows.LOCKFILE_FAIL_IMMEDIATELY)
	if err := windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, allBytes, allBytes, ol); err != nil {
		f.Close()
		return nil, fmt.Errorf("another daemon holds %s", path)
	}

	_ = f.Truncate(0)
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &lockFile{path: path, f: f}, nil
}

func (l *lockFile) release() error {
	ol := new(windows.Overlapped)
	if err := windows.UnlockFileEx(windows.Handle(l.f.Fd()), 0, allBytes, allBytes, ol); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
