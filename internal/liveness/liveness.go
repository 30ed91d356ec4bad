package liveness

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ParentPIDEnv names the environment variable the supervising process sets so
// the agent can notice the supervisor going away.
const ParentPIDEnv = "DROVER_PARENT_PID"

// Monitor answers "should this process continue running?". It watches two
// signals: the modification time of a stamp file, captured once and compared
// on every later check, and the continued existence of an optional parent
// process.
type Monitor struct {
	stampPath string

	captureOnce sync.Once
	stamp       time.Time
	stamped     bool

	drifted atomic.Bool
}

// NewMonitor returns a Monitor bound to stampPath. An empty path or a missing
// stamp file leaves the stamp signal unconstrained.
func NewMonitor(stampPath string) *Monitor {
	return &Monitor{stampPath: stampPath}
}

// StampCurrent captures the stamp file's mtime on first call and compares the
// captured value against the file on later calls. Once a mismatch is seen the
// result stays false for the rest of the process lifetime.
func (m *Monitor) StampCurrent() bool {
	if m.drifted.Load() {
		return false
	}
	if m.stampPath == "" {
		return true
	}

	info, err := os.Stat(m.stampPath)
	if err != nil {
		// No stamp file, no constraint.
		return true
	}
	ts := info.ModTime()

	m.captureOnce.Do(func() {
		m.stamp = ts
		m.stamped = true
	})

	if m.stamped && !m.stamp.Equal(ts) {
		m.drifted.Store(true)
		return false
	}
	return true
}

// ShouldContinue reports whether the process should keep running. parentPID
// of zero or less means no parent constraint.
func (m *Monitor) ShouldContinue(parentPID int) bool {
	if !m.StampCurrent() {
		return false
	}
	if parentPID <= 0 {
		return true
	}
	return processExists(parentPID)
}

// ParentPIDFromEnv reads the supervising process id from the environment.
// Returns zero when unset or unparsable.
func ParentPIDFromEnv() int {
	v := os.Getenv(ParentPIDEnv)
	if v == "" {
		return 0
	}
	pid, err := strconv.Atoi(v)
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// processExists probes the process table with a null signal.
func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	// EPERM means the process exists but belongs to another user.
	return err == nil || err == syscall.EPERM
}
