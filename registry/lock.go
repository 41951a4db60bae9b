package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

const lockRetryInterval = 50 * time.Millisecond

// Locker serializes load-mutate-save cycles across processes.
type Locker interface {
	Lock(ctx context.Context) (unlock func() error, err error)
}

type NopLocker struct{}

func (NopLocker) Lock(context.Context) (func() error, error) {
	return func() error { return nil }, nil
}

// FileLocker takes an advisory flock(2) on a sidecar file. Processes that do
// not use the lock (editors, other tools) are not held off.
type FileLocker struct {
	path string
}

func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path}
}

func (l *FileLocker) Lock(ctx context.Context) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	fd := int(f.Fd())

	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = f.Close()
			return nil, fmt.Errorf("flock %s: %w", l.path, err)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", l.path, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}

	return func() error {
		defer func() { _ = f.Close() }()
		return unix.Flock(fd, unix.LOCK_UN)
	}, nil
}
