package queue

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the instance lock.
var ErrLocked = errors.New("queue directory is locked by another process")

func flock(f *os.File, how int) error {
	for {
		err := unix.Flock(int(f.Fd()), how)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func unlock(f *os.File) {
	_ = flock(f, unix.LOCK_UN)
}

// InstanceLock is the advisory lock guaranteeing one control loop per queue
// directory. It is released by Release or when the process exits.
type InstanceLock struct {
	file *os.File
	path string
}

// AcquireInstanceLock takes the non-blocking exclusive lock on the directory's
// agent.lock file and records the holder's pid and start time in it.
func AcquireInstanceLock(dir string) (*InstanceLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	path := joinPath(dir, LockFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flock(f, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := readHolder(f)
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if holder != "" {
				return nil, fmt.Errorf("%w (held by %s)", ErrLocked, holder)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	stamp := fmt.Sprintf("pid=%d started=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(stamp), 0)
		_ = f.Sync()
	}

	return &InstanceLock{file: f, path: path}, nil
}

// Path returns the lock file location.
func (l *InstanceLock) Path() string {
	return l.path
}

// Release drops the lock. Calling it more than once is safe.
func (l *InstanceLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unlock(l.file)
	err := l.file.Close()
	l.file = nil
	return err
}

// LockHolder reports whether a running agent holds the instance lock of dir
// and, if so, the holder it recorded. It never takes the lock.
func LockHolder(dir string) (holder string, held bool, err error) {
	f, err := os.Open(joinPath(dir, LockFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() // nolint:errcheck // read-only probe

	if err := flock(f, unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			return readHolder(f), true, nil
		}
		return "", false, fmt.Errorf("probe lock: %w", err)
	}
	unlock(f)
	return "", false, nil
}

func readHolder(f *os.File) string {
	buf := make([]byte, 128)
	n, _ := f.ReadAt(buf, 0)
	return strings.TrimSpace(string(buf[:n]))
}

// readDecimal parses a counter or cursor file. An empty file reads as zero.
func readDecimal(f *os.File) (int64, error) {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	text := strings.TrimSpace(string(buf[:n]))
	if text == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", f.Name(), err)
	}
	if value < 0 {
		return 0, fmt.Errorf("parse %s: negative value %d", f.Name(), value)
	}
	return value, nil
}

// writeDecimal overwrites a counter or cursor file in place. Values only
// grow, so the new text is never shorter than the old one and the file never
// passes through an empty state.
func writeDecimal(f *os.File, value int64) error {
	text := []byte(strconv.FormatInt(value, 10))
	if _, err := f.WriteAt(text, 0); err != nil {
		return err
	}
	if err := f.Truncate(int64(len(text))); err != nil {
		return err
	}
	return f.Sync()
}
