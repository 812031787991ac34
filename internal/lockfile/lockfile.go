// Package lockfile provides flock-based locking for BookingPipe state.
//
// AcquireLock guards a whole state directory against a second BookingPipe
// process. LockFile serializes short critical sections on a single data file
// (the JSON appointment store) across processes. Both rely on kernel locks
// that are dropped when the holder exits, gracefully or not.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "bookingpipe.lock"

// Lock represents an active directory lock.
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir.
// A *LockError describing the current holder is returned when another process owns it.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("lockfile.AcquireLock: create state directory failed", "error", err, "state_dir", stateDir)
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC is deferred until the flock is held so a losing process cannot
	// wipe the holder's pid.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		slog.Error("lockfile.AcquireLock: open failed", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("lockfile.AcquireLock: state directory is in use", "error", err, "lock_path", lockPath, "holder", holder)
		return nil, &LockError{LockPath: lockPath, ExistingInfo: holder, Cause: err}
	}

	if err := writePID(file); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		slog.Error("lockfile.AcquireLock: write pid failed", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: state directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

func writePID(file *os.File) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writePID: sync failed", "error", err, "path", file.Name())
	}
	return nil
}

// Release drops the lock and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || !l.acquired || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.Release: unlock failed", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lock.Release: close failed", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: remove failed", "error", err, "lock_path", l.path)
	}
	l.acquired = false
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError is returned when the state directory is held by another process.
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Another BookingPipe instance is already running using the same state directory.\n\nLock file: %s", e.LockPath)
	if e.ExistingInfo != "" {
		fmt.Fprintf(&b, "\nExisting process: %s", e.ExistingInfo)
	}
	fmt.Fprintf(&b, "\n\nIf no other BookingPipe instance is running the lock file is stale and can be removed with:\n  rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// FileLock is a blocking exclusive lock on a sidecar "<path>.lock" file.
type FileLock struct {
	file *os.File
}

// LockFile blocks until it holds an exclusive lock for path.
// The lock lives on "<path>.lock" so the data file itself can be replaced by rename.
func LockFile(path string) (*FileLock, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", lockPath, err)
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	for {
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX)
		if err != syscall.EINTR {
			break
		}
	}
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}
	return &FileLock{file: file}, nil
}

// Unlock releases the lock. The sidecar file is kept for the next holder.
func (f *FileLock) Unlock() error {
	if f == nil || f.file == nil {
		return nil
	}
	err := syscall.Flock(int(f.file.Fd()), syscall.LOCK_UN)
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	f.file = nil
	return err
}

// describeHolder reads the pid recorded in lockPath and reports whether it is alive.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "lock file exists but contains no process information"
	}
	pid := extractPIDFromLockInfo(content)
	if pid <= 0 {
		return fmt.Sprintf("process information: %s", content)
	}
	if isProcessRunning(pid) {
		return fmt.Sprintf("PID %d (running)", pid)
	}
	return fmt.Sprintf("PID %d (not running - stale lock)", pid)
}

// extractPIDFromLockInfo parses the "pid=NNNN" line written by AcquireLock.
func extractPIDFromLockInfo(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		end := 0
		for end < len(v) && v[end] >= '0' && v[end] <= '9' {
			end++
		}
		if pid, err := strconv.Atoi(v[:end]); err == nil {
			return pid
		}
	}
	return 0
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
