package ioreactor

import (
	"os"

	"golang.org/x/sys/unix"
)

// acceptMutex is the process-shared accept lock (spec.md §4.6): at most one
// worker at a time registers read-interest on the listener set's fds. No
// corpus example implements a cross-process mutex, so this is built
// directly on golang.org/x/sys/unix.Flock, a syscall package already
// depended on for everything else backend-related, rather than pulling in a
// new dependency for one advisory lock.
type acceptMutex struct {
	path string
	f    *os.File
	held bool
}

// newAcceptMutex opens (creating if absent) the lock file at path. The file
// itself carries no data; only its flock state matters.
func newAcceptMutex(path string) (*acceptMutex, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, WrapError("open accept-mutex lock file", err)
	}
	return &acceptMutex{path: path, f: f}, nil
}

// TryLock attempts a non-blocking LOCK_EX. Returns ErrAcceptMutexHeld
// (not an error condition) if another worker currently holds it.
func (m *acceptMutex) TryLock() error {
	if m.held {
		return nil
	}
	err := unix.Flock(int(m.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrAcceptMutexHeld
		}
		return WrapError("flock", err)
	}
	m.held = true
	return nil
}

// Unlock releases the lock if held. Hold duration is bounded by the caller
// to one dispatch iteration (spec.md §4.6).
func (m *acceptMutex) Unlock() error {
	if !m.held {
		return nil
	}
	m.held = false
	return unix.Flock(int(m.f.Fd()), unix.LOCK_UN)
}

// Held reports whether this process currently holds the lock.
func (m *acceptMutex) Held() bool { return m.held }

// Close releases the lock (if held) and closes the underlying file.
func (m *acceptMutex) Close() error {
	_ = m.Unlock()
	return m.f.Close()
}
