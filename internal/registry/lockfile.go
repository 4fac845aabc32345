package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// LockFilePattern matches the files created by LockDir.
const LockFilePattern = "machine-*.lock"

// LockPath returns the lock file guarding id inside dir.
func LockPath(dir string, id uint16) string {
	return filepath.Join(dir, fmt.Sprintf("machine-%d.lock", id))
}

// LockDir claims machine ids with exclusive flock(2) locks on files in one
// directory. Locks die with the process, so a crashed generator never keeps
// its id.
type LockDir struct {
	dir    string
	logger *zap.Logger

	mu    sync.Mutex
	files map[uint16]*os.File
}

func NewLockDir(logger *zap.Logger, dir string) *LockDir {
	return &LockDir{
		dir:    dir,
		logger: logger,
		files:  make(map[uint16]*os.File),
	}
}

func (l *LockDir) Claim(_ context.Context, id uint16) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.files[id]; ok {
		return true, nil
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return false, fmt.Errorf("create lock dir: %w", err)
	}

	path := LockPath(l.dir, id)
	f, ok, err := lockFile(path)
	if err != nil || !ok {
		return false, err
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	l.files[id] = f
	l.logger.Info("machine id claimed", zap.Uint16("machine_id", id), zap.String("file", path))
	return true, nil
}

func (l *LockDir) Close(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for id, f := range l.files {
		// unlink while locked; a claimant that opened the old inode sees it
		// is no longer current and retries on the new file
		if err := os.Remove(f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(l.files, id)
		l.logger.Info("machine id released", zap.Uint16("machine_id", id))
	}
	return errors.Join(errs...)
}

// IsHeld reports whether a live process holds the lock on path.
func IsHeld(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return tryLock(f)
}

// RemoveIfStale unlinks path when no live process holds its lock. The file is
// removed while this call holds the lock, so a concurrent claimant either
// fails the lock or finds its inode unlinked.
func RemoveIfStale(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false, err
	}
	defer f.Close()

	held, current, err := lockOpened(f, path)
	if err != nil || held || !current {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		return false, err
	}
	return true, nil
}

const maxLockAttempts = 5

// lockFile opens path and locks it. It reports false when another owner
// holds the lock.
func lockFile(path string) (*os.File, bool, error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, false, fmt.Errorf("open lock file: %w", err)
		}

		held, current, err := lockOpened(f, path)
		if err != nil || held {
			f.Close()
			return nil, false, err
		}
		if current {
			return f, true, nil
		}
		// unlinked between open and lock
		f.Close()
	}
	return nil, false, fmt.Errorf("lock file %s replaced %d times while locking", path, maxLockAttempts)
}

// lockOpened locks an already opened f. current is false when the lock was
// taken on an inode no longer linked at path.
func lockOpened(f *os.File, path string) (held, current bool, err error) {
	if held, err = tryLock(f); err != nil || held {
		return held, false, err
	}
	current, err = isCurrent(f, path)
	return false, current, err
}

func isCurrent(f *os.File, path string) (bool, error) {
	var fst, pst unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &fst); err != nil {
		return false, fmt.Errorf("fstat %s: %w", path, err)
	}
	if err := unix.Stat(path, &pst); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return fst.Dev == pst.Dev && fst.Ino == pst.Ino, nil
}

// tryLock takes a non-blocking exclusive lock on f. It reports true when the
// lock is held elsewhere.
func tryLock(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, unix.EWOULDBLOCK):
		return true, nil
	default:
		return false, fmt.Errorf("flock %s: %w", f.Name(), err)
	}
}
