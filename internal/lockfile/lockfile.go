// Package lockfile keeps two daemons from syncing the same configuration
// at once. The lock is an advisory flock on a small JSON file describing
// the holder; the kernel drops it when the holder exits.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("daemon lock already held by another process")

// Info describes the process holding a lock.
type Info struct {
	PID       int       `json:"pid"`
	Config    string    `json:"config,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held lock. Release it when done.
type Lock struct {
	f *os.File
}

// DefaultPath returns the lock used when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "deskbridge-daemon.lock")
}

// Acquire takes the lock at path without blocking and records info in it.
// When another process holds it, the error wraps ErrLocked and names the
// holder's PID if it can be read.
func Acquire(path string, info Info) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600) // #nosec G304 -- operator-chosen path
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			if holder, rerr := ReadInfo(path); rerr == nil && holder.PID > 0 {
				return nil, fmt.Errorf("%w (pid %d, since %s)", ErrLocked, holder.PID, holder.StartedAt.Format(time.RFC3339))
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	data, err := json.Marshal(info)
	if err == nil {
		if err = f.Truncate(0); err == nil {
			_, err = f.WriteAt(data, 0)
		}
	}
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("write lock info: %w", err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock. The file stays behind so every process contends
// on the same inode; the next holder overwrites its contents.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := flockUnlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ReadInfo reads the holder description from a lock file. It does not
// tell whether the lock is still held.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-chosen path
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	return &info, nil
}
